package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/workflow"
)

// ErrorEnvelope is the body of every non-2xx API response.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeInternal     = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, meta map[string]string) {
	writeJSON(w, status, &ErrorEnvelope{Code: code, Message: message, Meta: meta})
}

func statusForKind(kind workflow.Kind) int {
	switch kind {
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindForbidden:
		return http.StatusForbidden
	case workflow.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case workflow.KindAlreadyClaimed, workflow.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeWorkflowError maps workflow kinds to HTTP statuses and bad filters to 400.
// Anything else is an infrastructure failure: it is logged and reported without detail.
func (s *Server) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		var meta map[string]string
		if wfErr.Reason != "" {
			meta = map[string]string{"reason": wfErr.Reason}
		}
		writeError(w, statusForKind(wfErr.Kind), string(wfErr.Kind), wfErr.Error(), meta)
		return
	}
	if errors.Is(err, workflow.ErrInvalidFilter) {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}
	s.log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("request failed")
	writeError(w, http.StatusInternalServerError, codeInternal, "internal server error", nil)
}
