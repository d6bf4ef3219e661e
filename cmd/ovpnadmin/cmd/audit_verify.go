package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/internal/uuid"
)

// ---------------------------------------------------------------------------
// Local types matching the audit export JSON structure (mirrors
// api.AuditExportResponse so verification does not depend on the server).
// ---------------------------------------------------------------------------

type auditExport struct {
	Journal    string             `json:"journal"`
	AnchorHash string             `json:"anchor_hash"`
	HeadHash   string             `json:"head_hash"`
	Entries    []auditExportEntry `json:"entries"`
}

type auditExportEntry struct {
	Seq        uint64 `json:"seq"`
	ID         string `json:"id"`
	Journal    string `json:"journal"`
	Action     string `json:"action"`
	Subject    string `json:"subject"`
	Operator   string `json:"operator"`
	RemoteAddr string `json:"remote_addr"`
	Detail     string `json:"detail"`
	CreatedAt  string `json:"created_at"`
	PrevHash   string `json:"prev_hash"`
}

// ---------------------------------------------------------------------------
// Verification result types
// ---------------------------------------------------------------------------

type verifyResult struct {
	File       string        `json:"file"`
	Journal    string        `json:"journal"`
	EntryCount int           `json:"entry_count"`
	Valid      bool          `json:"valid"`
	Checks     []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *verifyResult) pass(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
}

func (r *verifyResult) warn(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
}

func (r *verifyResult) fail(name, detail string) {
	r.Valid = false
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
}

const verifyGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// verifyChainHash computes the SHA-256 chain link.
// hash = SHA-256( entryID || prevHash || createdAt )
func verifyChainHash(entryID, prevHash, createdAt string) string {
	h := sha256.Sum256([]byte(entryID + prevHash + createdAt))
	return hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

func verifyAuditChain(export auditExport) verifyResult {
	result := verifyResult{
		Journal:    export.Journal,
		EntryCount: len(export.Entries),
		Valid:      true,
	}

	if len(export.Entries) == 0 {
		result.pass("empty_chain", "no entries to verify")
		if export.HeadHash != "" && export.AnchorHash != "" && export.HeadHash != export.AnchorHash {
			result.fail("head_hash", "export has no entries but the head does not match the anchor")
		}
		return result
	}

	entries := export.Entries

	// 1. Anchor. After retention pruning the chain starts at the anchor
	// hash instead of genesis; that is expected but worth pointing out.
	first := entries[0].PrevHash
	switch {
	case first == verifyGenesisHash && (export.AnchorHash == "" || export.AnchorHash == verifyGenesisHash):
		result.pass("genesis_anchor", "")
	case export.AnchorHash != "" && export.AnchorHash != verifyGenesisHash && first == export.AnchorHash:
		result.warn("genesis_anchor", fmt.Sprintf(
			"chain starts at retention anchor %s (seq %d); older entries were pruned", first, entries[0].Seq))
	default:
		want := export.AnchorHash
		if want == "" {
			want = verifyGenesisHash
		}
		result.fail("genesis_anchor", fmt.Sprintf("first entry prev_hash=%s, expected %s", first, want))
	}

	// 2. Chain continuity.
	chainOK := true
	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		expected := verifyChainHash(prev.ID, prev.PrevHash, prev.CreatedAt)
		if entries[i].PrevHash != expected {
			chainOK = false
			result.fail("chain_continuity", fmt.Sprintf(
				"entry %d (id=%s) has prev_hash=%s but expected %s (computed from entry %d)",
				i, entries[i].ID, entries[i].PrevHash, expected, i-1))
			break
		}
	}
	if chainOK {
		result.pass("chain_continuity", fmt.Sprintf("all %d entries link correctly", len(entries)))
	}

	// 3. Head. A truncated export still links internally; only the head
	// hash reveals dropped trailing entries.
	last := entries[len(entries)-1]
	switch head := verifyChainHash(last.ID, last.PrevHash, last.CreatedAt); {
	case export.HeadHash == "":
		result.warn("head_hash", "export carries no head hash; trailing entries cannot be checked")
	case export.HeadHash == head:
		result.pass("head_hash", "")
	default:
		result.fail("head_hash", fmt.Sprintf("last entry hashes to %s but head_hash=%s", head, export.HeadHash))
	}

	// 4. Sequence numbers.
	seqOK := true
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			seqOK = false
			result.fail("sequence_continuity", fmt.Sprintf(
				"entry %d has seq=%d after seq=%d", i, entries[i].Seq, entries[i-1].Seq))
			break
		}
	}
	if seqOK {
		result.pass("sequence_continuity", "")
	}

	// 5. No duplicate IDs.
	seen := make(map[string]int, len(entries))
	dupFound := false
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			dupFound = true
			result.fail("no_duplicate_ids", fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID))
			break
		}
		seen[e.ID] = i
	}
	if !dupFound {
		result.pass("no_duplicate_ids", "")
	}

	// 6. Monotonic timestamps.
	tsOK := true
	var tsDetail string
	var prevTime time.Time
	allParsed := true
	for i, e := range entries {
		t, err := parseTimestamp(e.CreatedAt)
		if err != nil {
			allParsed = false
			continue
		}
		if !prevTime.IsZero() && t.Before(prevTime) {
			tsOK = false
			tsDetail = fmt.Sprintf("entry %d (created_at=%s) is earlier than entry %d", i, e.CreatedAt, i-1)
			break
		}
		prevTime = t
	}
	switch {
	case !tsOK:
		// Clock skew between hosts sharing a Postgres journal is possible.
		result.warn("monotonic_timestamps", tsDetail)
	case !allParsed:
		result.warn("monotonic_timestamps", "some timestamps could not be parsed")
	default:
		result.pass("monotonic_timestamps", "")
	}

	// 7. Consistent journal name.
	journalOK := true
	for i, e := range entries {
		if e.Journal != export.Journal {
			journalOK = false
			result.fail("consistent_journal", fmt.Sprintf("entry %d has journal=%s, expected %s", i, e.Journal, export.Journal))
			break
		}
	}
	if journalOK {
		result.pass("consistent_journal", "")
	}

	// 8. Entry IDs. Journals only ever write UUIDs, so anything else points
	// at a hand-edited export.
	idOK := true
	for i, e := range entries {
		if !uuid.Valid(e.ID) {
			idOK = false
			result.warn("entry_id_format", fmt.Sprintf("entry %d has non-UUID id=%q", i, e.ID))
			break
		}
	}
	if idOK {
		result.pass("entry_id_format", "")
	}

	return result
}

// parseTimestamp parses RFC3339Nano, falling back to RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(result verifyResult) {
	fmt.Printf("Audit chain verification: %s\n", result.File)
	fmt.Printf("Journal:  %s\n", result.Journal)
	fmt.Printf("Entries:  %d\n\n", result.EntryCount)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Printf("%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Printf("%s %s\n", tag, c.Name)
		}
	}

	fmt.Println()
	if result.Valid {
		fmt.Println("Result: VALID")
	} else {
		fmt.Printf("Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the integrity of an exported audit journal",
	Long: `Reads an exported journal (from GET /api/v1/audit/export) and verifies
the hash chain, its anchor, the head hash, sequence numbers and timestamp
ordering.

Exit status is 0 for a valid chain, 1 for an invalid one and 2 when the
file cannot be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read file: %v\n", err)
		os.Exit(2)
	}

	var export auditExport
	if err := json.Unmarshal(data, &export); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
		os.Exit(2)
	}

	result := verifyAuditChain(export)
	result.File = filePath

	if verifyJSONOutput {
		if err := printJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
