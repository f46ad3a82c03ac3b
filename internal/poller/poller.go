// Package poller detects the game client process by scanning the process
// table on an interval.
package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/laurencee/wow-recorder/internal/settings"
)

// Event is a process edge.
type Event int

const (
	ProcessStart Event = iota
	ProcessStop
)

func (e Event) String() string {
	if e == ProcessStart {
		return "process-start"
	}
	return "process-stop"
}

// Lister returns the names of running processes.
type Lister func(ctx context.Context) ([]string, error)

var (
	retailExecutables  = []string{"wow.exe", "wowt.exe", "wowb.exe"}
	classicExecutables = []string{"wowclassic.exe", "wowclassict.exe", "wowclassicb.exe"}
)

// Poller emits ProcessStart when a watched executable appears and
// ProcessStop when the last one goes away.
type Poller struct {
	log      *slog.Logger
	interval time.Duration
	list     Lister

	mu        sync.Mutex
	targets   map[string]bool
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	subs      map[int]func(Event)
	nextSubID int
}

// New returns a Poller scanning the process table with gopsutil.
func New(log *slog.Logger, interval time.Duration) *Poller {
	return NewWithLister(log, interval, ProcessNames)
}

// NewWithLister returns a Poller using list to enumerate processes.
func NewWithLister(log *slog.Logger, interval time.Duration, list Lister) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		log:      log,
		interval: interval,
		list:     list,
		targets:  make(map[string]bool),
		subs:     make(map[int]func(Event)),
	}
}

// ProcessNames lists running process names. Processes that exit while
// being inspected are ignored.
func ProcessNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// ReconfigureFlavour sets which clients count as the game.
func (p *Poller) ReconfigureFlavour(cfg settings.FlavourConfig) {
	targets := make(map[string]bool)
	if cfg.RecordRetail {
		for _, n := range retailExecutables {
			targets[n] = true
		}
	}
	if cfg.RecordClassic {
		for _, n := range classicExecutables {
			targets[n] = true
		}
	}
	p.mu.Lock()
	p.targets = targets
	p.mu.Unlock()
}

// Start begins polling, stopping any previous run first. The running state
// is forgotten so a client that is already open is reported again.
func (p *Poller) Start(ctx context.Context) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.running = false
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning reports whether the game was running at the last poll.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Subscribe registers fn for every edge; the returned func detaches it.
func (p *Poller) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Poller) poll(ctx context.Context) {
	names, err := p.list(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("process scan failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	found := false
	for _, n := range names {
		if p.targets[strings.ToLower(n)] {
			found = true
			break
		}
	}
	changed := found != p.running
	p.running = found
	subs := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	if !changed || ctx.Err() != nil {
		return
	}
	ev := ProcessStop
	if found {
		ev = ProcessStart
	}
	p.log.Info("game process edge", "event", ev.String())
	for _, fn := range subs {
		fn(ev)
	}
}
