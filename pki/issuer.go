package pki

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/ovpnadmin/runner"
)

// Option configures an Issuer or a Pipeline.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
	locks  *Locker
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocker shares a Locker between components so that issuing and
// revoking the same identifier never overlap.
func WithLocker(l *Locker) Option {
	return func(s *settings) {
		if l != nil {
			s.locks = l
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{logger: slog.Default()}
	for _, o := range opts {
		o(&s)
	}
	if s.locks == nil {
		s.locks = NewLocker()
	}
	return s
}

// IssuerConfig describes the external issuance script.
type IssuerConfig struct {
	Script  string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Issuer creates client bundles by running the issuance script with the
// identifier as its only argument.
type Issuer struct {
	runner runner.Runner
	cfg    IssuerConfig
	logger *slog.Logger
	locks  *Locker
}

// NewIssuer returns an Issuer that runs cfg.Script through r.
func NewIssuer(r runner.Runner, cfg IssuerConfig, opts ...Option) *Issuer {
	s := newSettings(opts)
	return &Issuer{runner: r, cfg: cfg, logger: s.logger, locks: s.locks}
}

// Issue runs the issuance script for id. Success is judged only by the exit
// status; finding the bundle it produced is up to the caller. A failed run
// returns the *runner.Failure unchanged.
func (i *Issuer) Issue(ctx context.Context, id Identifier) (*runner.Result, error) {
	if !ValidIdentifier(string(id)) {
		return nil, ErrInvalidIdentifier
	}

	unlock, err := i.locks.Lock(ctx, identifierKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := i.runner.Run(ctx, i.cfg.Script, []string{string(id)}, runner.Options{
		Dir:     i.cfg.Dir,
		Env:     i.cfg.Env,
		Timeout: i.cfg.Timeout,
	})
	if err != nil {
		i.logger.Warn("client issuance failed", "identifier", id, "error", err)
		return nil, err
	}
	i.logger.Info("client issued", "identifier", id, "duration", res.Duration)
	return res, nil
}
