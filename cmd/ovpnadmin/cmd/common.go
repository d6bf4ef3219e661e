package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmcleod/ovpnadmin/api"
	"github.com/jmcleod/ovpnadmin/artifact"
	"github.com/jmcleod/ovpnadmin/config"
	"github.com/jmcleod/ovpnadmin/internal/util"
	"github.com/jmcleod/ovpnadmin/pki"
	"github.com/jmcleod/ovpnadmin/runner"
	"github.com/jmcleod/ovpnadmin/storage"
	bboltstorage "github.com/jmcleod/ovpnadmin/storage/bbolt"
	"github.com/jmcleod/ovpnadmin/storage/memory"
	pgstorage "github.com/jmcleod/ovpnadmin/storage/postgres"
)

var jsonOutput bool

// loadConfig reads --config (when given) and the process environment. This
// is the only place the process environment is read.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath, os.Environ())
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// components are the core domain objects built from one Config. The CLI
// commands and the HTTP server share them.
type components struct {
	cfg      *config.Config
	logger   *slog.Logger
	issuer   *pki.Issuer
	pipeline *pki.Pipeline
	bundles  *artifact.Store
	masker   *util.PathMasker
}

func newComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	run := runner.New(runner.WithLogger(logger))
	locks := pki.NewLocker()

	c := &components{
		cfg:    cfg,
		logger: logger,
		issuer: pki.NewIssuer(run, pki.IssuerConfig{
			Script:  cfg.PKI.Script,
			Dir:     cfg.PKI.WorkDir,
			Env:     cfg.BaseEnv,
			Timeout: cfg.PKI.CommandTimeout,
		}, pki.WithLogger(logger), pki.WithLocker(locks)),
		pipeline: pki.NewPipeline(run, pki.PipelineConfig{
			EasyRSA:    cfg.PKI.EasyRSA,
			Dir:        cfg.PKI.WorkDir,
			Env:        cfg.BaseEnv,
			CRLPath:    cfg.CRLSource(),
			DeployPath: cfg.PKI.CRLDeploy,
			Timeout:    cfg.PKI.CommandTimeout,
		}, pki.WithLogger(logger), pki.WithLocker(locks)),
		masker: util.NewPathMasker(cfg.PKI.OutDir, cfg.PKI.WorkDir, cfg.Storage.DataDir,
			parentDir(cfg.PKI.Script), parentDir(cfg.PKI.EasyRSA), parentDir(cfg.CRLSource()),
			parentDir(cfg.PKI.CRLDeploy), parentDir(cfg.Status.Path)),
	}

	if cfg.PKI.OutDir != "" {
		store, err := artifact.New(cfg.PKI.OutDir,
			artifact.WithExtension(cfg.PKI.BundleExtension),
			artifact.WithMaxEntries(cfg.PKI.MaxListEntries))
		if err != nil {
			return nil, fmt.Errorf("opening bundle directory: %w", err)
		}
		c.bundles = store
	}
	return c, nil
}

// parentDir returns the directory holding a configured file, or "" when the
// file is unset.
func parentDir(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

func (c *components) services() api.Services {
	return api.Services{
		Issuer:     c.issuer,
		Revoker:    c.pipeline,
		Bundles:    c.bundles,
		StatusPath: c.cfg.Status.Path,
	}
}

// openJournal opens the repository backing the audit journal: Postgres when
// a DSN is configured, BBolt under the data directory otherwise, and memory
// when neither is set.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Repository, func(), error) {
	switch {
	case cfg.Storage.PostgresDSN != "":
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
		logger.Info("audit journal", "backend", "postgres")
		return repo, func() { repo.Close() }, nil
	case cfg.JournalPath() != "":
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(cfg.JournalPath(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open journal storage: %w", err)
		}
		logger.Info("audit journal", "backend", "bbolt", "path", cfg.JournalPath())
		return repo, func() { repo.Close() }, nil
	default:
		logger.Warn("audit journal is kept in memory; set OVPNADMIN_DATA_DIR to persist it")
		return memory.NewRepository(), func() {}, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printFailure writes the captured output of a failed command.
func printFailure(w io.Writer, err error) {
	f, ok := runner.AsFailure(err)
	if !ok {
		return
	}
	if f.Stdout != "" {
		fmt.Fprintf(w, "--- stdout ---\n%s\n", f.Stdout)
	}
	if f.Stderr != "" {
		fmt.Fprintf(w, "--- stderr ---\n%s\n", f.Stderr)
	}
}
