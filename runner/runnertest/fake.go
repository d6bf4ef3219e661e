// Package runnertest provides a scriptable runner.Runner for tests.
package runnertest

import (
	"context"
	"slices"
	"sync"

	"github.com/jmcleod/ovpnadmin/runner"
)

// Call records one invocation of Fake.Run.
type Call struct {
	Name string
	Args []string
	Opts runner.Options
}

// HandlerFunc decides the result of a call.
type HandlerFunc func(ctx context.Context, c Call) (*runner.Result, error)

// Fake is a runner.Runner that records calls and answers them through
// Handler. A nil Handler succeeds with empty output.
type Fake struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []Call
}

var _ runner.Runner = (*Fake)(nil)

func (f *Fake) Run(ctx context.Context, name string, args []string, opts runner.Options) (*runner.Result, error) {
	c := Call{Name: name, Args: slices.Clone(args), Opts: opts}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.Handler == nil {
		return &runner.Result{}, nil
	}
	return f.Handler(ctx, c)
}

// Calls returns a copy of the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// NonZeroExit builds the failure a command exiting with code would produce.
func NonZeroExit(c Call, code int, stderr string) *runner.Failure {
	return &runner.Failure{
		Kind:     runner.KindNonZeroExit,
		Command:  c.Name,
		ExitCode: &code,
		Stderr:   stderr,
	}
}

// Timeout builds the failure of a command that hit its deadline.
func Timeout(c Call) *runner.Failure {
	return &runner.Failure{
		Kind:    runner.KindTimeout,
		Command: c.Name,
		Err:     context.DeadlineExceeded,
	}
}
