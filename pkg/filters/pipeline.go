package filters

import "errors"

// ActionInfo describes the command about to run.
type ActionInfo struct {
	// Binding is the command binding expression, e.g. "Save()".
	Binding string
	// Target names the view model the command runs against.
	Target string
}

// Filter exposes the lifecycle hooks a request pipeline invokes.
type Filter interface {
	OnViewModelCreated(ctx RequestContext) error
	OnCommandExecuting(ctx RequestContext, action ActionInfo) error
}

// Pipeline runs filters in order and stops at the first error.
type Pipeline []Filter

// ViewModelCreated invokes OnViewModelCreated on every filter.
func (p Pipeline) ViewModelCreated(ctx RequestContext) error {
	for _, f := range p {
		if err := f.OnViewModelCreated(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CommandExecuting invokes OnCommandExecuting on every filter.
func (p Pipeline) CommandExecuting(ctx RequestContext, action ActionInfo) error {
	for _, f := range p {
		if err := f.OnCommandExecuting(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

// WithoutAuthorization returns a copy of p without its Authorize filters.
func (p Pipeline) WithoutAuthorization() Pipeline {
	out := make(Pipeline, 0, len(p))
	for _, f := range p {
		if _, ok := f.(*Authorize); !ok {
			out = append(out, f)
		}
	}
	return out
}

// IsInterrupt reports whether err aborts the request.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterruptRequest)
}
