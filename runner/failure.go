package runner

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind classifies why a command did not succeed.
type Kind int

const (
	// KindTimeout means the command outlived its wall-clock limit and its
	// process group was killed.
	KindTimeout Kind = iota + 1
	// KindNonZeroExit means the command ran and exited with a nonzero status
	// (or was killed by a signal nobody here sent).
	KindNonZeroExit
	// KindSpawn means the program could not be started at all.
	KindSpawn
	// KindCanceled means the caller's context ended before the command did.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNonZeroExit:
		return "nonzero_exit"
	case KindSpawn:
		return "spawn_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Sentinels matched by (*Failure).Is so callers can use errors.Is.
var (
	ErrTimeout     = errors.New("command timed out")
	ErrNonZeroExit = errors.New("command exited with nonzero status")
	ErrSpawn       = errors.New("command could not be started")
	ErrCanceled    = errors.New("command canceled")
)

// Failure describes a command that did not exit with status 0. Captured
// output is always preserved so callers can show diagnostics without
// running the command again.
type Failure struct {
	Kind     Kind
	Command  string
	ExitCode *int
	Stdout   string
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%s: exit status %s", f.Command, f.exitCodeString())
	case KindTimeout:
		return fmt.Sprintf("%s: %v", f.Command, ErrTimeout)
	case KindSpawn:
		return fmt.Sprintf("%s: %v: %v", f.Command, ErrSpawn, f.Err)
	case KindCanceled:
		return fmt.Sprintf("%s: %v", f.Command, ErrCanceled)
	default:
		return fmt.Sprintf("%s: %v", f.Command, f.Err)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is reports whether target is the sentinel for f's kind.
func (f *Failure) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return f.Kind == KindTimeout
	case ErrNonZeroExit:
		return f.Kind == KindNonZeroExit
	case ErrSpawn:
		return f.Kind == KindSpawn
	case ErrCanceled:
		return f.Kind == KindCanceled
	}
	return false
}

// Output joins stdout and stderr for display.
func (f *Failure) Output() string {
	switch {
	case f.Stdout == "":
		return f.Stderr
	case f.Stderr == "":
		return f.Stdout
	default:
		return f.Stdout + "\n" + f.Stderr
	}
}

func (f *Failure) exitCodeString() string {
	if f.ExitCode == nil {
		return "none"
	}
	return strconv.Itoa(*f.ExitCode)
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
