package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

type (
	ErrorResponse struct {
		Message string `json:"message"`
	}

	responseWriter struct {
		log *slog.Logger
	}
)

var errInvalidRequest = errors.New("invalid request")

func (rw *responseWriter) writeResponse(w http.ResponseWriter, r *http.Request, code int, data any) {
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.log.WarnContext(r.Context(), "failed to encode response data as json", logger.Error(err))
	}
}

/*
writeErrorResponse maps the ledger error to the HTTP status code. Errors which
don't belong to the error taxonomy are internal errors and are logged.
*/
func (rw *responseWriter) writeErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		rw.log.ErrorContext(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), logger.Error(err))
	}
	rw.writeResponse(w, r, code, ErrorResponse{Message: err.Error()})
}

func (rw *responseWriter) invalidParamResponse(w http.ResponseWriter, r *http.Request, name string, err error) {
	rw.writeErrorResponse(w, r, fmt.Errorf("%w: invalid parameter %q: %w", errInvalidRequest, name, err))
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transactor.ErrCreditLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrAgentMismatch),
		errors.Is(err, types.ErrOfferCanceled),
		errors.Is(err, types.ErrForkDetected):
		return http.StatusConflict
	case errors.Is(err, types.ErrBadTransactionHeader),
		errors.Is(err, types.ErrSignatureInvalid),
		errors.Is(err, types.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
