package pki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcleod/ovpnadmin/runner"
)

// Step names one stage of the revocation pipeline.
type Step string

const (
	StepNone      Step = ""
	StepRevoke    Step = "revoke"
	StepRegenCRL  Step = "regen_crl"
	StepDeployCRL Step = "deploy_crl"
)

// crlMode is the permission of a deployed CRL. The VPN daemon typically
// reads it after dropping privileges.
const crlMode = 0o644

// PipelineConfig describes the Easy-RSA installation and where its CRL goes.
type PipelineConfig struct {
	// EasyRSA is the easyrsa executable. A relative path is resolved
	// against Dir.
	EasyRSA string
	// Dir is the PKI working directory.
	Dir string
	// Env is the base environment; EASYRSA_BATCH=1 is appended to it.
	Env []string
	// CRLPath is where gen-crl writes the CRL.
	CRLPath string
	// DeployPath, when set, receives a copy of the CRL after regeneration.
	DeployPath string
	Timeout    time.Duration
}

// Outcome reports how far a revocation got. When the pipeline stopped early
// FailedStep names the step and Err carries its error; for command steps
// Err is the *runner.Failure unchanged.
type Outcome struct {
	Identifier      Identifier
	Revoked         bool
	CRLRegenerated  bool
	CRLDeployed     bool
	DeployAttempted bool
	FailedStep      Step
	Err             error
	CRL             *CRLInfo
}

// Complete reports whether every configured step succeeded.
func (o Outcome) Complete() bool {
	return o.FailedStep == StepNone && o.Err == nil
}

// CommandFailure returns the subprocess failure that stopped the pipeline,
// if there was one.
func (o Outcome) CommandFailure() (*runner.Failure, bool) {
	return runner.AsFailure(o.Err)
}

// Pipeline revokes a client certificate, regenerates the CRL and optionally
// deploys it. There are no retries and no rollback: a revocation whose CRL
// step failed stays revoked, and the Outcome says so.
type Pipeline struct {
	runner runner.Runner
	cfg    PipelineConfig
	logger *slog.Logger
	locks  *Locker
}

// NewPipeline returns a Pipeline that runs Easy-RSA through r.
func NewPipeline(r runner.Runner, cfg PipelineConfig, opts ...Option) *Pipeline {
	s := newSettings(opts)
	return &Pipeline{runner: r, cfg: cfg, logger: s.logger, locks: s.locks}
}

// DeployConfigured reports whether revocations end with a CRL deploy.
func (p *Pipeline) DeployConfigured() bool {
	return p.cfg.DeployPath != ""
}

// CRLPath returns the path gen-crl writes to.
func (p *Pipeline) CRLPath() string {
	return p.cfg.CRLPath
}

// Revoke runs REVOKE, REGEN_CRL and, when a deploy target is configured,
// DEPLOY_CRL for id, stopping at the first failure.
func (p *Pipeline) Revoke(ctx context.Context, id Identifier) Outcome {
	out := Outcome{Identifier: id}
	if !ValidIdentifier(string(id)) {
		out.FailedStep = StepRevoke
		out.Err = ErrInvalidIdentifier
		return out
	}

	unlock, err := p.locks.Lock(ctx, identifierKey(id))
	if err != nil {
		out.FailedStep = StepRevoke
		out.Err = err
		return out
	}
	defer unlock()

	log := p.logger.With("identifier", id)

	if _, err := p.easyrsa(ctx, "revoke", string(id)); err != nil {
		log.Warn("revocation failed", "step", StepRevoke, "error", err)
		out.FailedStep = StepRevoke
		out.Err = err
		return out
	}
	out.Revoked = true

	unlockCRL, err := p.locks.Lock(ctx, crlKey)
	if err != nil {
		out.FailedStep = StepRegenCRL
		out.Err = err
		return out
	}
	defer unlockCRL()

	if _, err := p.easyrsa(ctx, "gen-crl"); err != nil {
		log.Warn("certificate revoked but CRL not regenerated", "step", StepRegenCRL, "error", err)
		out.FailedStep = StepRegenCRL
		out.Err = err
		return out
	}
	out.CRLRegenerated = true

	if info, err := InspectCRL(p.cfg.CRLPath); err != nil {
		log.Debug("CRL inspection skipped", "error", err)
	} else {
		out.CRL = info
	}

	if p.DeployConfigured() {
		out.DeployAttempted = true
		if err := deployFile(p.cfg.CRLPath, p.cfg.DeployPath, crlMode); err != nil {
			log.Warn("CRL regenerated but not deployed", "step", StepDeployCRL, "error", err)
			out.FailedStep = StepDeployCRL
			out.Err = err
			return out
		}
		out.CRLDeployed = true
	}

	log.Info("client revoked", "crl_deployed", out.CRLDeployed)
	return out
}

func (p *Pipeline) easyrsa(ctx context.Context, args ...string) (*runner.Result, error) {
	env := make([]string, 0, len(p.cfg.Env)+1)
	env = append(env, p.cfg.Env...)
	env = append(env, "EASYRSA_BATCH=1")
	return p.runner.Run(ctx, p.cfg.EasyRSA, args, runner.Options{
		Dir:     p.cfg.Dir,
		Env:     env,
		Timeout: p.cfg.Timeout,
	})
}

// deployFile copies src over dst atomically: the data lands in a temporary
// file next to dst which is then renamed into place.
func deployFile(src, dst string, mode os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening CRL: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary CRL: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copying CRL: %w", err)
	}
	if err = tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting CRL mode: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing CRL: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing CRL: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("installing CRL: %w", err)
	}
	return nil
}

// StepOf returns the failed step recorded in err's Outcome, for callers that
// only kept the error.
func StepOf(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return StepNone
}

// StepError pairs a pipeline error with the step that produced it.
type StepError struct {
	Identifier Identifier
	Step       Step
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("revoking %s: %s: %v", e.Identifier, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AsError converts an incomplete Outcome into a *StepError, or nil when the
// pipeline completed.
func (o Outcome) AsError() error {
	if o.Complete() {
		return nil
	}
	return &StepError{Identifier: o.Identifier, Step: o.FailedStep, Err: o.Err}
}
