package httppresentation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
)

const internalMessage = "Internal server error"

type errorBody struct {
	Message string         `json:"message"`
	Kind    apperr.Kind    `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindUnauthenticated: http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindConflict:        http.StatusConflict,
}

var (
	errBadJSON  = apperr.Validation("Malformed JSON body")
	errNotFound = apperr.NotFound("Not found")
)

// writeError maps a classified error to its status. Internal errors are
// logged with their cause and answered with a fixed body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	status, known := 0, false
	if ok {
		status, known = statusByKind[e.Kind]
	}
	if !known {
		logctx.FromOr(r.Context(), h.log).Error("http_internal_error",
			observability.F("error", err.Error()),
			observability.F("chain", fmt.Sprintf("%+v", unwrapChain(err))),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: internalMessage, Kind: apperr.KindInternal})
		return
	}
	writeJSON(w, status, errorBody{Message: e.Message, Kind: e.Kind, Details: e.Details})
}

func unwrapChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
