package api

import (
	"context"
	_ "embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ovpnadmin/internal/util"
	"github.com/jmcleod/ovpnadmin/pki"
	"github.com/jmcleod/ovpnadmin/runner"
	"github.com/jmcleod/ovpnadmin/storage"
)

// Issuer creates client bundles.
type Issuer interface {
	Issue(ctx context.Context, id pki.Identifier) (*runner.Result, error)
}

// Revoker runs the revocation pipeline.
type Revoker interface {
	Revoke(ctx context.Context, id pki.Identifier) pki.Outcome
	CRLPath() string
}

// Bundles locates issued client bundles.
type Bundles interface {
	List() []string
	ListForOwner(identifier string) []string
	Newest(identifier string) (string, bool)
	Open(name string) (*os.File, fs.FileInfo, error)
}

// Services are the domain components the handlers drive.
type Services struct {
	Issuer     Issuer
	Revoker    Revoker
	Bundles    Bundles
	StatusPath string
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	svc            Services
	operator       *Operator
	journal        *journal
	audit          *auditLogger
	metrics        *metricsCollector
	webhook        *auditWebhook
	masker         *util.PathMasker
	authLimiter    *ipRateLimiter
	globalLimiter  *globalRateLimiter
	requestLimiter *requestRateLimiter
	trustedProxies []netip.Prefix
	logger         *slog.Logger

	requestsPerMinute int
	auditMaxEntries   int
	auditMaxAge       time.Duration
	alertFn           AlertFunc
	webhookURL        string
	webhookHeader     string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handlers and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithOperator sets the credential accepted by Basic authentication.
// Without one every authenticated route answers 401.
func WithOperator(op *Operator) Option {
	return func(a *API) {
		a.operator = op
	}
}

// WithMasker sets the masker applied to command diagnostics.
func WithMasker(m *util.PathMasker) Option {
	return func(a *API) {
		a.masker = m
	}
}

// WithRateLimit sets the per-IP request budget per minute. Zero disables
// request limiting.
func WithRateLimit(perMinute int) Option {
	return func(a *API) {
		a.requestsPerMinute = perMinute
	}
}

// WithAuditRetention bounds the journal by entry count and age. Zero values
// keep everything.
func WithAuditRetention(maxEntries int, maxAge time.Duration) Option {
	return func(a *API) {
		a.auditMaxEntries = maxEntries
		a.auditMaxAge = maxAge
	}
}

// WithAuditWebhook forwards audit events and alerts to url. header, when
// set, has the form "Name: Value".
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithAlertFunc sets the callback invoked when an anomaly is detected.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithTrustedProxies lists the peers, as CIDRs or bare addresses, whose
// forwarding headers are honored when determining the client IP.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance. repo persists the audit journal; a nil
// repo disables the journal.
func New(repo storage.Repository, svc Services, opts ...Option) *API {
	a := &API{
		svc:               svc,
		authLimiter:       newIPRateLimiter(),
		globalLimiter:     newGlobalRateLimiter(),
		requestsPerMinute: defaultRequestsPerMinute,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.masker == nil {
		a.masker = util.NewPathMasker()
	}
	if a.requestsPerMinute > 0 {
		a.requestLimiter = newRequestRateLimiter(a.requestsPerMinute, time.Minute)
	}
	if a.webhookURL != "" {
		a.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	if repo != nil {
		a.journal = newJournal(repo, journalNamespace, a.auditMaxEntries, a.auditMaxAge)
	}

	a.audit = newAuditLogger(a.logger, a.webhook)
	a.metrics = newMetricsCollector(a.dispatchAlert)
	a.audit.metrics = a.metrics
	return a
}

// dispatchAlert logs the alert, forwards it to the webhook and then to the
// configured callback.
func (a *API) dispatchAlert(evt AlertEvent) {
	a.logger.Warn("alert", "type", evt.Type, "message", evt.Message,
		"count", evt.Count, "threshold", evt.Threshold)
	if a.webhook != nil {
		a.webhook.enqueue(webhookEvent{
			Event:     "alert",
			Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
			Attrs: map[string]string{
				"type":    string(evt.Type),
				"message": evt.Message,
			},
		})
	}
	if a.alertFn != nil {
		a.alertFn(evt)
	}
}

// Run sweeps expired rate limiter state until ctx is done.
func (a *API) Run(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.authLimiter.sweep()
			if a.requestLimiter != nil {
				a.requestLimiter.sweep()
			}
		}
	}
}

// Close flushes pending webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.RateLimit)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Group(func(r chi.Router) {
		r.Use(a.BasicAuth)
		r.Post("/clients", a.IssueClient)
		r.Get("/clients", a.ListClients)
		r.Get("/clients/{identifier}", a.GetClient)
		r.Post("/clients/{identifier}/revoke", a.RevokeClient)
		r.Get("/bundles/{file}", a.DownloadBundle)
		r.Get("/connections", a.ListConnections)
		r.Get("/crl", a.GetCRL)
		r.Get("/audit", a.ListAudit)
		r.Get("/audit/export", a.ExportAudit)
	})

	return r
}
