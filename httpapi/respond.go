package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/hostauth"
)

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg, RequestID: chimw.GetReqID(r.Context())})
}

var errBadJSON = errors.New("invalid json body")

// decode reads one JSON object into dst, rejecting unknown fields and
// trailing data.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadJSON
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errBadJSON
	}
	return nil
}

func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusBadRequest, "bad_request", errBadJSON.Error())
}

// fail maps an Engine error onto a status code and error body.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch hostauth.Kind(err) {
	case hostauth.KindValidation:
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case hostauth.KindAuthentication:
		switch {
		case errors.Is(err, hostauth.ErrTokenInvalid):
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
		case errors.Is(err, hostauth.ErrSecondFactorInvalid):
			writeError(w, r, http.StatusUnauthorized, "invalid_second_factor", err.Error())
		default:
			writeError(w, r, http.StatusUnauthorized, "invalid_credentials", hostauth.ErrInvalidCredentials.Error())
		}
	case hostauth.KindAccountState:
		writeError(w, r, http.StatusForbidden, "account_"+strings.TrimPrefix(err.Error(), "account "), err.Error())
	case hostauth.KindConflict:
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case hostauth.KindInfrastructure:
		h.logger.Error("engine unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		h.logger.Error("unexpected engine error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
