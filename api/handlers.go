package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ovpnadmin/artifact"
	"github.com/jmcleod/ovpnadmin/pki"
	"github.com/jmcleod/ovpnadmin/runner"
	"github.com/jmcleod/ovpnadmin/status"
)

const bundleContentType = "application/x-openvpn-profile"

func bundleURL(name string) string {
	// EscapedPath leaves sub-delimiters such as ',' and ';' alone, so the
	// router sees the same name it was given.
	return "/api/v1/bundles/" + (&url.URL{Path: name}).EscapedPath()
}

func (a *API) bundleInfos(names []string) []BundleInfo {
	out := make([]BundleInfo, len(names))
	for i, n := range names {
		out[i] = BundleInfo{Name: n, DownloadURL: bundleURL(n)}
	}
	return out
}

// pathIdentifier reads and validates the {identifier} URL parameter.
func pathIdentifier(r *http.Request) (pki.Identifier, error) {
	return pki.ParseIdentifier(strings.TrimSpace(chi.URLParam(r, "identifier")))
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// IssueClient runs the issuance script for a new client identifier and
// reports the bundle it produced.
func (a *API) IssueClient(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[IssueRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	id, err := pki.ParseIdentifier(strings.TrimSpace(req.Identifier))
	if err != nil {
		a.mapError(w, err)
		return
	}

	// The script keeps running if the client goes away; the runner timeout
	// still bounds it.
	ctx := context.WithoutCancel(r.Context())
	res, err := a.svc.Issuer.Issue(ctx, id)
	if err != nil {
		a.audit.logClient(AuditClientIssueFailed, r, id.String(), slog.String("error", a.masker.Mask(err.Error())))
		a.record(r, auditActionClientIssueFailed, id.String(), failureDetail(err))
		a.mapError(w, err)
		return
	}

	resp := IssueResponse{
		Identifier: id.String(),
		Stdout:     a.masker.Mask(res.Stdout),
		Stderr:     a.masker.Mask(res.Stderr),
		DurationMS: res.Duration.Milliseconds(),
	}
	if name, ok := a.svc.Bundles.Newest(id.String()); ok {
		resp.Bundle = name
		resp.DownloadURL = bundleURL(name)
	}

	a.audit.logClient(AuditClientIssued, r, id.String(), slog.String("bundle", resp.Bundle))
	a.record(r, auditActionClientIssued, id.String(), resp.Bundle)
	writeJSON(w, http.StatusCreated, resp)
}

// ListClients lists every bundle, newest first.
func (a *API) ListClients(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	page, meta := paginate(a.svc.Bundles.List(), limit, offset)
	writeJSON(w, http.StatusOK, ListBundlesResponse{
		Bundles:        a.bundleInfos(page),
		PaginationMeta: meta,
	})
}

// GetClient lists the bundles issued for one identifier.
func (a *API) GetClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentifier(r)
	if err != nil {
		a.mapError(w, err)
		return
	}
	names := a.svc.Bundles.ListForOwner(id.String())
	if len(names) == 0 {
		writeError(w, http.StatusNotFound, "no bundles for client")
		return
	}
	newest, _ := a.svc.Bundles.Newest(id.String())
	writeJSON(w, http.StatusOK, ClientResponse{
		Identifier: id.String(),
		Newest:     newest,
		Bundles:    a.bundleInfos(names),
	})
}

// DownloadBundle streams a bundle as an attachment.
func (a *API) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	// chi matches on RawPath when the request needed one, leaving the
	// parameter escaped.
	name, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		a.mapError(w, artifact.ErrInvalidReference)
		return
	}
	f, info, err := a.svc.Bundles.Open(name)
	if err != nil {
		a.mapError(w, err)
		return
	}
	defer f.Close()

	a.audit.log(AuditBundleDownloaded, r, slog.String("bundle", info.Name()))
	a.record(r, auditActionBundleDownloaded, info.Name(), "")

	w.Header().Set("Content-Type", bundleContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()}))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// RevokeClient runs the revocation pipeline. The response always carries
// the per-step outcome; a pipeline that stopped early answers 502 (504 when
// a command timed out) so a partial revocation is never reported as
// success.
func (a *API) RevokeClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentifier(r)
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := a.svc.Revoker.Revoke(context.WithoutCancel(r.Context()), id)
	resp := a.revokeResponse(out)

	switch {
	case out.Complete():
		a.audit.logClient(AuditClientRevoked, r, id.String(),
			slog.Bool("crl_deployed", out.CRLDeployed))
		a.record(r, auditActionClientRevoked, id.String(), "")
		writeJSON(w, http.StatusOK, resp)
		return
	case out.Revoked:
		a.audit.logClient(AuditRevocationIncomplete, r, id.String(),
			slog.String("failed_step", string(out.FailedStep)), slog.String("error", resp.Error))
		a.record(r, auditActionRevocationIncomplete, id.String(), string(out.FailedStep))
	default:
		a.audit.logClient(AuditClientRevokeFailed, r, id.String(), slog.String("error", resp.Error))
		a.record(r, auditActionClientRevokeFailed, id.String(), failureDetail(out.Err))
	}

	code := http.StatusBadGateway
	if f, ok := out.CommandFailure(); ok {
		code = commandStatus(f)
	}
	writeJSON(w, code, resp)
}

func (a *API) revokeResponse(out pki.Outcome) RevokeResponse {
	resp := RevokeResponse{
		Identifier:      out.Identifier.String(),
		Complete:        out.Complete(),
		Revoked:         out.Revoked,
		CRLRegenerated:  out.CRLRegenerated,
		CRLDeployed:     out.CRLDeployed,
		DeployAttempted: out.DeployAttempted,
		FailedStep:      string(out.FailedStep),
		CRL:             out.CRL,
	}
	if out.Err != nil {
		resp.Error = a.masker.Mask(out.Err.Error())
	}
	if f, ok := out.CommandFailure(); ok {
		ce := a.commandError(f)
		resp.Command = &ce
	}
	return resp
}

// ListConnections reports the sessions in the VPN status file.
func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	snap, err := status.ReadFile(a.svc.StatusPath)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetCRL summarizes the current revocation list.
func (a *API) GetCRL(w http.ResponseWriter, r *http.Request) {
	info, err := pki.InspectCRL(a.svc.Revoker.CRLPath())
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListAudit pages through the journal, newest first.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	if a.journal == nil {
		_, meta := paginate([]auditEntry(nil), limit, offset)
		writeJSON(w, http.StatusOK, ListAuditResponse{Entries: []AuditEntryResponse{}, PaginationMeta: meta})
		return
	}
	entries, meta, err := a.journal.page(r.Context(), limit, offset)
	if err != nil {
		a.mapError(w, err)
		return
	}
	resp := ListAuditResponse{
		Entries:        make([]AuditEntryResponse, len(entries)),
		PaginationMeta: meta,
	}
	for i, e := range entries {
		resp.Entries[i] = AuditEntryResponse{
			Seq:        e.Seq,
			ID:         e.ID,
			Action:     string(e.Action),
			Subject:    e.Subject,
			Operator:   e.Operator,
			RemoteAddr: e.RemoteAddr,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportAudit returns the whole retained chain, oldest first, for offline
// verification with "ovpnadmin audit verify".
func (a *API) ExportAudit(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, AuditExportResponse{
			AnchorHash: genesisHash,
			HeadHash:   genesisHash,
			Entries:    []AuditExportEntry{},
		})
		return
	}
	entries, head, err := a.journal.entries(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	resp := AuditExportResponse{
		Journal:    a.journal.ns,
		AnchorHash: head.Anchor,
		HeadHash:   head.Hash,
		Entries:    make([]AuditExportEntry, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = AuditExportEntry{
			Seq:        e.Seq,
			ID:         e.ID,
			Journal:    e.Journal,
			Action:     string(e.Action),
			Subject:    e.Subject,
			Operator:   e.Operator,
			RemoteAddr: e.RemoteAddr,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt,
			PrevHash:   e.PrevHash,
		}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	writeJSON(w, http.StatusOK, resp)
}

// failureDetail is a short, path-free description of err for the journal.
func failureDetail(err error) string {
	if f, ok := runner.AsFailure(err); ok {
		if f.ExitCode != nil {
			return fmt.Sprintf("%s (%d)", f.Kind, *f.ExitCode)
		}
		return f.Kind.String()
	}
	if errors.Is(err, pki.ErrInvalidIdentifier) {
		return "invalid identifier"
	}
	return "error"
}
