// Package reconcile drives an ordered list of independently reconfigurable
// stages towards the desired configuration. Each pass fetches, diffs,
// validates and applies stage by stage, and stops at the first validation
// failure so later stages are never configured on top of a broken earlier one.
package reconcile

import (
	"context"
	"fmt"
)

// Stage is one independently reconfigurable subsystem. Get returns the
// desired configuration, which must be a value comparable with
// reflect.DeepEqual. Validate is called before Apply whenever the stage is
// still initial or its configuration changed.
type Stage struct {
	Name     string
	Get      func() (any, error)
	Validate func(ctx context.Context, cfg any) error
	Apply    func(ctx context.Context, cfg any) error
}

// NewStage adapts typed callbacks into a Stage. validate may be nil.
func NewStage[T any](
	name string,
	get func() (T, error),
	validate func(ctx context.Context, cfg T) error,
	apply func(ctx context.Context, cfg T) error,
) Stage {
	st := Stage{
		Name: name,
		Get: func() (any, error) {
			v, err := get()
			return v, err
		},
		Apply: func(ctx context.Context, cfg any) error {
			return apply(ctx, cfg.(T))
		},
	}
	if validate != nil {
		st.Validate = func(ctx context.Context, cfg any) error {
			return validate(ctx, cfg.(T))
		}
	}
	return st
}

// stageState is the reconciler-owned bookkeeping for a Stage.
type stageState struct {
	Stage

	// current is the last snapshot seen: applied, or rejected by validation.
	current any
	// initial is true until the stage applies successfully once, and again
	// after Reset.
	initial bool
}

// ValidationError reports why a stage rejected its desired configuration.
type ValidationError struct {
	Stage string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ApplyError reports a failed Apply. The stage keeps its previous snapshot
// so the next pass retries it.
type ApplyError struct {
	Stage string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
