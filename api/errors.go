package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/jmcleod/ovpnadmin/artifact"
	"github.com/jmcleod/ovpnadmin/pki"
	"github.com/jmcleod/ovpnadmin/runner"
	"github.com/jmcleod/ovpnadmin/status"
)

const maxSmallBodySize = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a JSON body of at most limit bytes into a T. On failure
// it writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// commandStatus is the HTTP status for a failed subprocess.
func commandStatus(f *runner.Failure) int {
	if f.Kind == runner.KindTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// mapError writes the response for err. Messages from subprocesses and the
// filesystem are masked before they leave the process.
func (a *API) mapError(w http.ResponseWriter, err error) {
	if f, ok := runner.AsFailure(err); ok {
		writeJSON(w, commandStatus(f), a.commandError(f))
		return
	}
	switch {
	case errors.Is(err, pki.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, artifact.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, artifact.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, status.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, a.masker.Mask(err.Error()))
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, a.masker.Mask(err.Error()))
	case errors.Is(err, pki.ErrInvalidCRL):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) commandError(f *runner.Failure) CommandErrorResponse {
	return CommandErrorResponse{
		Error:    a.masker.Mask(f.Error()),
		Kind:     f.Kind.String(),
		ExitCode: f.ExitCode,
		Stdout:   a.masker.Mask(f.Stdout),
		Stderr:   a.masker.Mask(f.Stderr),
	}
}
