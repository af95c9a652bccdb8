package transformer

import "fmt"

// Step is a single in-place batch transformation.
type Step interface {
	Name() string
	Apply(b *Batch) error
}

// Chain is an ordered list of steps.
type Chain []Step

// Apply runs every step in order and stops at the first failure, which is
// returned as a *StepError.
func (c Chain) Apply(b *Batch) error {
	for _, s := range c {
		if err := s.Apply(b); err != nil {
			return &StepError{Step: s.Name(), Err: err}
		}
	}
	return nil
}

// Names lists the step names in order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, s := range c {
		out[i] = s.Name()
	}
	return out
}

// StepError identifies which step rejected a batch.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Func adapts a plain function to Step.
func Func(name string, fn func(b *Batch) error) Step { return funcStep{name: name, fn: fn} }

type funcStep struct {
	name string
	fn   func(b *Batch) error
}

func (f funcStep) Name() string         { return f.name }
func (f funcStep) Apply(b *Batch) error { return f.fn(b) }
