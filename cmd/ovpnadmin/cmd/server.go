package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/api"
	"github.com/jmcleod/ovpnadmin/internal/util"
)

var (
	port    int
	dataDir string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the administration API server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides PORT)")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the audit journal (overrides OVPNADMIN_DATA_DIR)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if tlsCert != "" || tlsKey != "" {
		cfg.Server.TLSCert, cfg.Server.TLSKey = tlsCert, tlsKey
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.CheckServer(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	params, err := util.Argon2idProfile(cfg.Auth.KDFProfile)
	if err != nil {
		return err
	}
	operator, err := api.NewOperator(cfg.Auth.User, cfg.Auth.Password, params)
	if err != nil {
		return fmt.Errorf("failed to set up operator credential: %w", err)
	}

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithOperator(operator),
		api.WithMasker(c.masker),
		api.WithRateLimit(cfg.RateLimit.RequestsPerMinute),
		api.WithAuditRetention(cfg.Audit.MaxEntries, cfg.Audit.MaxAge),
		api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader),
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}

	a := api.New(repo, c.services(), opts...)
	defer a.Close()
	go a.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", a.Router())

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Issue and revoke wait for their commands.
		WriteTimeout: cfg.PKI.CommandTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	useTLS := cfg.Server.TLSCert != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner()
	logger.Info("starting server", "addr", server.Addr, "tls", useTLS,
		"out_dir", cfg.PKI.OutDir, "work_dir", cfg.PKI.WorkDir, "status", cfg.Status.Path)
	if !useTLS {
		logger.Warn("serving plain HTTP; put a TLS terminating proxy in front or set server.tls_cert")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
