package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/applockd/applockd/pkg/client"
)

// command wraps the REST client for the CLI subcommands.
type command struct {
	api *client.Client
	url string
}

// clientCommand builds a command against the daemon API, defaulting to the
// local daemon when --api-url is not given.
func clientCommand(f *APIFlags) command {
	url := f.APIUrl
	if url == "" {
		url = "http://127.0.0.1:8220/api"
	}
	return command{
		api: client.New(client.Config{BaseURL: url, Timeout: f.APITimeout}),
		url: url,
	}
}

func (c command) requireReachable(ctx context.Context) error {
	if !c.api.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'applockd serve'", c.url)
	}
	return nil
}

func (c command) Status() error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	st, err := c.api.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Reload() error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	if err := c.api.Reload(ctx); err != nil {
		return err
	}
	fmt.Println("policy reloaded")
	return nil
}

func (c command) PolicyList() error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	p, err := c.api.Policy(ctx)
	if err != nil {
		return err
	}
	printJSON(p)
	return nil
}

func (c command) PolicyAdd(keyword string) error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	p, err := c.api.AddKeyword(ctx, keyword)
	if err != nil {
		return err
	}
	printJSON(p)
	return nil
}

func (c command) PolicyRemove(keyword string) error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	p, err := c.api.RemoveKeyword(ctx, keyword)
	if err != nil {
		return err
	}
	printJSON(p)
	return nil
}

func (c command) Audit(limit int) error {
	ctx := context.Background()
	if err := c.requireReachable(ctx); err != nil {
		return err
	}
	events, err := c.api.Audit(ctx, limit)
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
