package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAuthFailure          AuditEvent = "auth_failure"
	AuditAuthRateLimited      AuditEvent = "auth_rate_limited"
	AuditClientIssued         AuditEvent = "client_issued"
	AuditClientIssueFailed    AuditEvent = "client_issue_failed"
	AuditClientRevoked        AuditEvent = "client_revoked"
	AuditRevocationIncomplete AuditEvent = "revocation_incomplete"
	AuditClientRevokeFailed   AuditEvent = "client_revoke_failed"
	AuditBundleDownloaded     AuditEvent = "bundle_downloaded"
)

// auditLogger wraps slog.Logger for structured security audit logging and
// forwards every event to the webhook when one is configured.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger, webhook *auditWebhook) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		webhook: webhook,
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now),
	}
	if op := operatorFromContext(r.Context()); op != "" {
		baseAttrs = append(baseAttrs, slog.String("operator", op))
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			Operator:   operatorFromContext(r.Context()),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now,
		}
		if len(attrs) > 0 {
			evt.Attrs = make(map[string]string, len(attrs))
			for _, a := range attrs {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logClient is a convenience for events about one client identifier.
func (al *auditLogger) logClient(event AuditEvent, r *http.Request, identifier string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("identifier", identifier),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
