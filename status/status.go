// Package status parses the OpenVPN server status file into a snapshot of
// the sessions connected right now.
//
// The parser is total: a malformed or truncated report produces an empty
// or partial snapshot, never an error. Whether the file exists at all is a
// separate question answered by ReadFile.
package status

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnavailable is returned by ReadFile when the status file is missing or
// unreadable. It is distinct from an empty snapshot (nobody connected).
var ErrUnavailable = errors.New("status file unavailable")

const (
	updatedMarker      = "Updated"
	clientHeaderMarker = "Common Name,Real Address"
	routingTableMarker = "ROUTING TABLE"
)

// Session is one connected client.
type Session struct {
	CommonName     string `json:"common_name"`
	RealAddress    string `json:"real_address"`
	BytesReceived  string `json:"bytes_received"`
	BytesSent      string `json:"bytes_sent"`
	ConnectedSince string `json:"connected_since"`

	// Only status versions 2 and 3 carry these.
	VirtualAddress string `json:"virtual_address,omitempty"`
	Username       string `json:"username,omitempty"`
}

// Snapshot is the parsed state of one status report.
type Snapshot struct {
	UpdatedAt string    `json:"updated_at"`
	Sessions  []Session `json:"sessions"`
}

// ReadFile reads and parses the status file at path.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Parse(string(data)), nil
}

// Parse converts a status report into a Snapshot. Version 1 reports (the
// OpenVPN default) are parsed positionally; version 2 and 3 reports are
// recognised by their TITLE/TIME/HEADER records and mapped by header name.
func Parse(raw string) Snapshot {
	lines := splitLines(raw)
	if isTabular(lines) {
		return parseTabular(lines)
	}
	return parseV1(lines)
}

func splitLines(raw string) []string {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseV1(lines []string) Snapshot {
	snap := Snapshot{Sessions: []Session{}}

	for _, l := range lines {
		if strings.HasPrefix(l, updatedMarker+",") {
			_, snap.UpdatedAt, _ = strings.Cut(l, ",")
			break
		}
	}

	header := -1
	for i, l := range lines {
		if strings.HasPrefix(l, clientHeaderMarker) {
			header = i
			break
		}
	}
	if header < 0 {
		return snap
	}

	for _, l := range lines[header+1:] {
		if l == routingTableMarker {
			break
		}
		if !strings.Contains(l, ",") {
			continue
		}
		f := strings.Split(l, ",")
		snap.Sessions = append(snap.Sessions, Session{
			CommonName:     field(f, 0),
			RealAddress:    field(f, 1),
			BytesReceived:  field(f, 2),
			BytesSent:      field(f, 3),
			ConnectedSince: field(f, 4),
		})
	}
	return snap
}

// field returns f[i] or "" when the row is short.
func field(f []string, i int) string {
	if i < len(f) {
		return f[i]
	}
	return ""
}
