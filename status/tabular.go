package status

import "strings"

// Records of status versions 2 (comma separated) and 3 (tab separated).
const (
	recTitle      = "TITLE"
	recTime       = "TIME"
	recHeader     = "HEADER"
	recClientList = "CLIENT_LIST"
	recEnd        = "END"
)

// defaultClientColumns is the CLIENT_LIST layout of OpenVPN 2.4+, used when
// the report carries no HEADER record for it.
var defaultClientColumns = map[string]int{
	"Common Name":     0,
	"Real Address":    1,
	"Virtual Address": 2,
	"Bytes Received":  4,
	"Bytes Sent":      5,
	"Connected Since": 6,
	"Username":        8,
}

func isTabular(lines []string) bool {
	for _, l := range lines {
		tag, _, delim := splitRecord(l)
		if delim == 0 {
			continue
		}
		switch tag {
		case recTitle, recTime, recHeader, recClientList:
			return true
		}
		return false
	}
	return false
}

// splitRecord splits a v2/v3 record into its tag and the remaining fields,
// reporting which delimiter the line uses (0 if neither).
func splitRecord(line string) (string, []string, byte) {
	var delim byte
	switch {
	case strings.Contains(line, "\t"):
		delim = '\t'
	case strings.Contains(line, ","):
		delim = ','
	default:
		return line, nil, 0
	}
	parts := strings.Split(line, string(delim))
	return parts[0], parts[1:], delim
}

func parseTabular(lines []string) Snapshot {
	snap := Snapshot{Sessions: []Session{}}
	columns := defaultClientColumns

	for _, l := range lines {
		tag, f, _ := splitRecord(l)
		switch tag {
		case recTime:
			if snap.UpdatedAt == "" {
				snap.UpdatedAt = field(f, 0)
			}
		case recHeader:
			if len(f) > 0 && f[0] == recClientList {
				columns = headerColumns(f[1:])
			}
		case recClientList:
			snap.Sessions = append(snap.Sessions, Session{
				CommonName:     column(f, columns, "Common Name"),
				RealAddress:    column(f, columns, "Real Address"),
				BytesReceived:  column(f, columns, "Bytes Received"),
				BytesSent:      column(f, columns, "Bytes Sent"),
				ConnectedSince: column(f, columns, "Connected Since"),
				VirtualAddress: column(f, columns, "Virtual Address"),
				Username:       column(f, columns, "Username"),
			})
		case recEnd:
			return snap
		}
	}
	return snap
}

func headerColumns(names []string) map[string]int {
	cols := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := cols[n]; !dup {
			cols[n] = i
		}
	}
	return cols
}

func column(f []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok {
		return ""
	}
	return field(f, i)
}
