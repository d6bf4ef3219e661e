package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertAuthFailureSpike     AlertType = "auth_failure_spike"
	AlertRevocationIncomplete AlertType = "revocation_incomplete"
	AlertBulkDownload         AlertType = "bulk_download"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultAuthFailureWindow    = 1 * time.Minute
	defaultAuthFailureThreshold = 50
	defaultDownloadWindow       = 5 * time.Minute
	defaultDownloadThreshold    = 20
	// A revocation that stopped after REVOKE leaves the CRL behind the CA
	// database, so every occurrence alerts.
	defaultIncompleteWindow    = 1 * time.Hour
	defaultIncompleteThreshold = 1
)

// windowCounter counts events in a sliding window.
type windowCounter struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	times     []time.Time
}

// add records an event at now and returns the alert to raise, if any. The
// window is reset after an alert to avoid repeats within the same spike.
func (c *windowCounter) add(now time.Time) (AlertEvent, bool) {
	c.times = append(c.times, now)
	c.times = trimWindow(c.times, now, c.window)
	if len(c.times) < c.threshold {
		return AlertEvent{}, false
	}
	evt := AlertEvent{
		Type:      c.alert,
		Message:   c.message,
		Count:     len(c.times),
		Threshold: c.threshold,
		Timestamp: now,
	}
	c.times = c.times[:0]
	return evt, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	authFailures windowCounter
	downloads    windowCounter
	incomplete   windowCounter

	alertFn AlertFunc
	now     func() time.Time
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		authFailures: windowCounter{
			alert:     AlertAuthFailureSpike,
			message:   "authentication failure rate exceeds threshold",
			window:    defaultAuthFailureWindow,
			threshold: defaultAuthFailureThreshold,
		},
		downloads: windowCounter{
			alert:     AlertBulkDownload,
			message:   "bundle download rate exceeds threshold",
			window:    defaultDownloadWindow,
			threshold: defaultDownloadThreshold,
		},
		incomplete: windowCounter{
			alert:     AlertRevocationIncomplete,
			message:   "certificate revoked but CRL not regenerated or deployed",
			window:    defaultIncompleteWindow,
			threshold: defaultIncompleteThreshold,
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	var c *windowCounter
	switch event {
	case AuditAuthFailure:
		c = &m.authFailures
	case AuditBundleDownloaded:
		c = &m.downloads
	case AuditRevocationIncomplete:
		c = &m.incomplete
	default:
		return
	}

	m.mu.Lock()
	evt, fire := c.add(m.now())
	m.mu.Unlock()

	if fire {
		m.alertFn(evt)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
