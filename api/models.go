package api

import (
	"github.com/jmcleod/ovpnadmin/pki"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// CommandErrorResponse is returned when an external PKI command failed.
// Output is masked.
type CommandErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type IssueRequest struct {
	Identifier string `json:"identifier"`
}

type IssueResponse struct {
	Identifier  string `json:"identifier"`
	Bundle      string `json:"bundle,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	DurationMS  int64  `json:"duration_ms"`
}

type BundleInfo struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

type ListBundlesResponse struct {
	Bundles []BundleInfo `json:"bundles"`
	PaginationMeta
}

type ClientResponse struct {
	Identifier string       `json:"identifier"`
	Newest     string       `json:"newest,omitempty"`
	Bundles    []BundleInfo `json:"bundles"`
}

// RevokeResponse reports every pipeline step, so a partial revocation is
// visible to the caller.
type RevokeResponse struct {
	Identifier      string                `json:"identifier"`
	Complete        bool                  `json:"complete"`
	Revoked         bool                  `json:"revoked"`
	CRLRegenerated  bool                  `json:"crl_regenerated"`
	CRLDeployed     bool                  `json:"crl_deployed"`
	DeployAttempted bool                  `json:"deploy_attempted"`
	FailedStep      string                `json:"failed_step,omitempty"`
	Error           string                `json:"error,omitempty"`
	Command         *CommandErrorResponse `json:"command,omitempty"`
	CRL             *pki.CRLInfo          `json:"crl,omitempty"`
}

type AuditEntryResponse struct {
	Seq        uint64 `json:"seq"`
	ID         string `json:"id"`
	Action     string `json:"action"`
	Subject    string `json:"subject"`
	Operator   string `json:"operator,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type ListAuditResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	PaginationMeta
}

// AuditExportResponse carries the retained journal oldest first with the
// chain links needed for offline verification. AnchorHash is the prev_hash
// of the oldest retained entry; it is the genesis hash until retention
// drops entries.
type AuditExportResponse struct {
	Journal    string             `json:"journal"`
	AnchorHash string             `json:"anchor_hash"`
	HeadHash   string             `json:"head_hash"`
	Entries    []AuditExportEntry `json:"entries"`
}

type AuditExportEntry struct {
	Seq        uint64 `json:"seq"`
	ID         string `json:"id"`
	Journal    string `json:"journal"`
	Action     string `json:"action"`
	Subject    string `json:"subject"`
	Operator   string `json:"operator,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
	PrevHash   string `json:"prev_hash"`
}
