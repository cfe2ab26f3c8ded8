package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds connection flags shared by the client commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// AuditFlags holds flags for the audit command
type AuditFlags struct {
	Limit int
	APIFlags
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and attaches all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createReloadCommand(),
		createPolicyCommand(),
		createAuditCommand(),
		createPasswdCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "applockd",
		Short: "Application lock daemon",
		Long: `Applockd watches for launches of protected applications, suspends them
before any window is shown, and only lets them continue after the user
verifies a credential. Failed verification terminates the app.

Examples:
  applockd serve applockd.toml      # Start the daemon
  applockd status                   # Show active policy and sessions
  applockd policy add --keyword=whatsapp
  applockd status --api-url=http://remote:8220/api`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8220/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the applockd daemon",
		Long: `Start the applockd daemon: the process watcher, the lock coordinator,
the control API, and the optional metrics listener.
All configuration is loaded from a TOML config file.

Examples:
  applockd serve                    # uses --config or ./applockd.toml
  applockd serve /etc/applockd.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	return cmd
}

func createStatusCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active policy, sessions and grace windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(apiFlags).Status()
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createReloadCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Make the daemon re-read its config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(apiFlags).Reload()
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createPolicyCommand() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and change the protected-app policy",
	}

	listFlags := &APIFlags{}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List protected keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(listFlags).PolicyList()
		},
	}
	addAPIFlags(listCmd, listFlags)

	var addKeyword string
	addFlags := &APIFlags{}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Protect a new keyword",
		Long: `Protect a new keyword. Any process whose name contains the keyword
(case-insensitive) will be intercepted. The daemon persists the keyword
to its config file.

Examples:
  applockd policy add --keyword=whatsapp
  applockd policy add --keyword=steam --api-url=http://remote:8220/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(addFlags).PolicyAdd(addKeyword)
		},
	}
	addCmd.Flags().StringVar(&addKeyword, "keyword", "", "keyword to protect (required)")
	addAPIFlags(addCmd, addFlags)
	if err := addCmd.MarkFlagRequired("keyword"); err != nil {
		panic(err)
	}

	var removeKeyword string
	removeFlags := &APIFlags{}
	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Stop protecting a keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(removeFlags).PolicyRemove(removeKeyword)
		},
	}
	removeCmd.Flags().StringVar(&removeKeyword, "keyword", "", "keyword to remove (required)")
	addAPIFlags(removeCmd, removeFlags)
	if err := removeCmd.MarkFlagRequired("keyword"); err != nil {
		panic(err)
	}

	policyCmd.AddCommand(listCmd, addCmd, removeCmd)
	return policyCmd
}

func createAuditCommand() *cobra.Command {
	auditFlags := &AuditFlags{Limit: 50}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(&auditFlags.APIFlags).Audit(auditFlags.Limit)
		},
	}
	cmd.Flags().IntVar(&auditFlags.Limit, "limit", 50, "maximum number of events")
	addAPIFlags(cmd, &auditFlags.APIFlags)
	return cmd
}

func createPasswdCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd [config.toml]",
		Short: "Change the lock password",
		Long: `Change the password the daemon verifies against. Prompts twice and
writes the new SHA-256 hash to the config file. A running daemon picks
it up on the next reload.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = "applockd.toml"
			}
			return runPasswd(path)
		},
	}
}
