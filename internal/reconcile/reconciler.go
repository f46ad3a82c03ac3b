package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/laurencee/wow-recorder/internal/platform/metrics"
)

// Result is published to observers at the end of every pass.
type Result struct {
	// Valid is true when every stage was reached without failure.
	Valid bool
	// Stage names the stage that failed, if any.
	Stage string
	// Err is a *ValidationError or *ApplyError when Valid is false.
	Err error
}

// Reconciler runs reconciliation passes over a fixed list of stages.
//
// At most one pass runs at a time and at most one more is queued behind it;
// further requests while one is queued are dropped because the queued pass
// reads the latest desired state anyway. Stage bookkeeping is written only by
// the pass goroutine, under mu, and fenced by gen so a pass that straddles a
// Reset never commits. The drain goroutine that owned the abandoned pass runs
// the next one, so applies never overlap.
type Reconciler struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	idle      *sync.Cond
	stages    []*stageState
	running   bool
	queued    bool
	gen       uint64
	active    int
	valid     bool
	lastErr   error
	observers []func(Result)
}

// New returns a Reconciler over stages, which run in the given order on
// every pass. m may be nil.
func New(log *slog.Logger, m *metrics.Metrics, stages ...Stage) *Reconciler {
	r := &Reconciler{log: log, metrics: m}
	r.idle = sync.NewCond(&r.mu)
	for _, st := range stages {
		r.stages = append(r.stages, &stageState{Stage: st, initial: true})
	}
	return r
}

// OnResult registers fn to be called after every completed pass. fn runs on
// the pass goroutine and must not block.
func (r *Reconciler) OnResult(fn func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Reconcile requests a pass and returns without waiting for it.
func (r *Reconciler) Reconcile(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		if !r.queued {
			r.log.Debug("reconcile queued behind running pass")
		}
		r.queued = true
		r.mu.Unlock()
		return
	}
	r.running = true
	r.active++
	gen := r.gen
	r.mu.Unlock()

	go r.drain(ctx, gen)
}

// Wait blocks until no pass is running.
func (r *Reconciler) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.active > 0 {
		r.idle.Wait()
	}
}

// Reset forgets every applied snapshot so the next pass validates and
// applies all stages again, and drops any queued request. A pass still in
// flight is abandoned at its next stage boundary and its goroutine starts a
// fresh pass; otherwise the next Reconcile does.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	for _, st := range r.stages {
		st.current = nil
		st.initial = true
	}
	r.queued = r.running
	r.log.Info("reconciler reset, all stages back to initial")
}

// Valid reports whether the last completed pass reached every stage.
func (r *Reconciler) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valid
}

// Err returns the failure of the last completed pass, or nil.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Initial reports whether the named stage has not been applied since
// construction or the last Reset.
func (r *Reconciler) Initial(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.stages {
		if st.Name == name {
			return st.initial
		}
	}
	return false
}

func (r *Reconciler) drain(ctx context.Context, gen uint64) {
	defer func() {
		r.mu.Lock()
		r.active--
		r.idle.Broadcast()
		r.mu.Unlock()
	}()

	for {
		res, ok := r.pass(ctx, gen)
		if ok {
			r.publish(res)
		}

		r.mu.Lock()
		if r.gen != gen {
			// Abandoned by Reset: run again against the fresh state.
			gen = r.gen
			r.queued = false
			r.mu.Unlock()
			continue
		}
		if !r.queued {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.queued = false
		r.mu.Unlock()
	}
}

// pass runs one reconciliation pass. ok is false when the pass was abandoned
// because of a Reset.
func (r *Reconciler) pass(ctx context.Context, gen uint64) (res Result, ok bool) {
	r.metrics.IncReconcilePasses()

	for _, st := range r.stages {
		if err := ctx.Err(); err != nil {
			return Result{}, false
		}

		desired, err := st.Get()
		if err != nil {
			verr := &ValidationError{Stage: st.Name, Err: fmt.Errorf("read config: %w", err)}
			return r.fail(gen, st, verr)
		}

		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			return Result{}, false
		}
		initial := st.initial
		changed := !reflect.DeepEqual(desired, st.current)
		r.mu.Unlock()

		if !initial && !changed {
			continue
		}

		if st.Validate != nil {
			if err := st.Validate(ctx, desired); err != nil {
				r.metrics.IncValidationFailures(st.Name)
				r.mu.Lock()
				if r.gen != gen {
					r.mu.Unlock()
					return Result{}, false
				}
				// Keep the rejected snapshot so an unchanged bad value is
				// not validated again once the stage has been applied.
				verr := &ValidationError{Stage: st.Name, Err: err}
				st.current = desired
				r.mu.Unlock()
				return r.fail(gen, st, verr)
			}
		}

		r.log.Info("applying stage", "stage", st.Name, "initial", initial)
		err = st.Apply(ctx, desired)
		r.metrics.ObserveStageApply(st.Name, err)
		if err != nil {
			return r.fail(gen, st, &ApplyError{Stage: st.Name, Err: err})
		}

		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			return Result{}, false
		}
		st.current = desired
		st.initial = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return Result{}, false
	}
	r.valid = true
	r.lastErr = nil
	return Result{Valid: true}, true
}

func (r *Reconciler) fail(gen uint64, st *stageState, err error) (Result, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		r.log.Warn("stage validation failed", "stage", st.Name, "error", verr.Err)
	} else {
		r.log.Error("stage apply failed", "stage", st.Name, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return Result{}, false
	}
	r.valid = false
	r.lastErr = err
	return Result{Stage: st.Name, Err: err}, true
}

func (r *Reconciler) publish(res Result) {
	r.mu.Lock()
	obs := make([]func(Result), len(r.observers))
	copy(obs, r.observers)
	r.mu.Unlock()
	for _, fn := range obs {
		fn(res)
	}
}
