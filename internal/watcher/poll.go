package watcher

import (
	"log/slog"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/applockd/applockd/internal/metrics"
)

// DefaultInterval matches the responsiveness of the classic polling lockers;
// faster polling narrows the window before a protected app renders.
const DefaultInterval = 300 * time.Millisecond

// procInfo is one row of the sampled process table.
type procInfo struct {
	pid  int
	name string
}

// ListFunc samples the process table. Injectable for tests.
type ListFunc func() ([]procInfo, error)

// PollSource samples the process table on an interval and emits a Launch
// event the first time a PID is seen. Seen PIDs are pruned once they leave
// the table so PID reuse is observed as a fresh launch.
type PollSource struct {
	interval time.Duration
	list     ListFunc

	mu       sync.Mutex
	seen     map[int]struct{}
	handlers []func(Event)
	stop     chan struct{}
}

func NewPollSource(interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &PollSource{
		interval: interval,
		list:     listProcesses,
		seen:     make(map[int]struct{}),
	}
}

func (s *PollSource) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Start launches the poll loop. The first sample primes the seen set without
// emitting events, so processes already running at startup are not treated
// as launches.
func (s *PollSource) Start() error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil // already running
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	if procs, err := s.list(); err == nil {
		s.mu.Lock()
		for _, p := range procs {
			s.seen[p.pid] = struct{}{}
		}
		s.mu.Unlock()
	}

	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.pollOnce()
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (s *PollSource) Stop() {
	s.mu.Lock()
	ch := s.stop
	s.stop = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (s *PollSource) pollOnce() {
	procs, err := s.list()
	if err != nil {
		slog.Warn("process table sample failed", "err", err)
		return
	}
	current := make(map[int]struct{}, len(procs))
	var launched []Event

	s.mu.Lock()
	for _, p := range procs {
		current[p.pid] = struct{}{}
		if _, ok := s.seen[p.pid]; ok {
			continue
		}
		s.seen[p.pid] = struct{}{}
		ev, err := NewEvent(p.pid, p.name, Launch)
		if err != nil {
			metrics.IncMalformedEvent()
			continue
		}
		launched = append(launched, ev)
	}
	for pid := range s.seen {
		if _, ok := current[pid]; !ok {
			delete(s.seen, pid)
		}
	}
	handlers := make([]func(Event), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, ev := range launched {
		metrics.IncEvent(ev.Kind.String())
		for _, fn := range handlers {
			fn(ev)
		}
	}
}

// listProcesses samples the live process table.
func listProcesses() ([]procInfo, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]procInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			// transient: the process exited between listing and inspection
			continue
		}
		out = append(out, procInfo{pid: int(p.Pid), name: name})
	}
	return out, nil
}
