package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/middleware"
)

type identityJSON struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Role                string     `json:"role"`
	Status              string     `json:"status"`
	SecondFactorEnabled bool       `json:"second_factor_enabled"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

func identityOut(v hostauth.IdentityView) identityJSON {
	return identityJSON{
		ID:                  v.ExternalID,
		Email:               v.Email,
		Role:                v.Role,
		Status:              string(v.Status),
		SecondFactorEnabled: v.SecondFactorEnabled,
		CreatedAt:           v.CreatedAt,
		LastLoginAt:         v.LastLoginAt,
	}
}

type authJSON struct {
	Identity  identityJSON `json:"identity"`
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	SessionID string       `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func authOut(a *hostauth.AuthResult) authJSON {
	return authJSON{
		Identity:  identityOut(a.Identity),
		Token:     a.Token,
		TokenType: "Bearer",
		SessionID: a.SessionID,
		ExpiresAt: a.ExpiresAt,
	}
}

type registerRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Profile  map[string]string `json:"profile,omitempty"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	res, err := h.engine.Register(r.Context(), hostauth.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authOut(res))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

type loginResponse struct {
	SecondFactorRequired bool `json:"second_factor_required"`
	RecoveryCodeUsed     bool `json:"recovery_code_used,omitempty"`
	*authJSON
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	res, err := h.engine.Login(r.Context(), hostauth.LoginRequest{
		Email:            req.Email,
		Password:         req.Password,
		SecondFactorCode: req.Code,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.SecondFactorRequired {
		writeJSON(w, http.StatusOK, loginResponse{SecondFactorRequired: true})
		return
	}
	auth := authOut(res.Auth)
	writeJSON(w, http.StatusOK, loginResponse{RecoveryCodeUsed: res.RecoveryCodeUsed, authJSON: &auth})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func principal(r *http.Request) *hostauth.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetIdentity(r.Context(), principal(r).ExternalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identityOut(*view))
}

type eventJSON struct {
	Type          string            `json:"type"`
	Success       bool              `json:"success"`
	OriginAddress string            `json:"ip,omitempty"`
	OriginAgent   string            `json:"user_agent,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.engine.ListSecurityEvents(r.Context(), principal(r).ExternalID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, eventJSON{
			Type:          string(ev.EventType),
			Success:       ev.Success,
			OriginAddress: ev.OriginAddress,
			OriginAgent:   ev.OriginAgent,
			Detail:        ev.Detail,
			CreatedAt:     ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type sessionJSON struct {
	ID            string     `json:"id"`
	Current       bool       `json:"current"`
	Active        bool       `json:"active"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	OriginAddress string     `json:"ip,omitempty"`
	OriginAgent   string     `json:"user_agent,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	records, err := h.engine.ListSessions(r.Context(), p.ExternalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := time.Now()
	out := make([]sessionJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, sessionJSON{
			ID:            rec.ID,
			Current:       rec.ID == p.SessionID,
			Active:        rec.Active(now),
			IssuedAt:      rec.IssuedAt,
			ExpiresAt:     rec.ExpiresAt,
			OriginAddress: rec.OriginAddress,
			OriginAgent:   rec.OriginAgent,
			RevokedAt:     rec.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	if err := h.engine.ChangePassword(r.Context(), principal(r).ExternalID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SecondFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.SecondFactorStatus(r.Context(), principal(r).ExternalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":                  st.Enabled,
		"pending":                  st.Pending,
		"recovery_codes_remaining": st.RecoveryCodesRemaining,
	})
}

func (h *Handlers) SetupSecondFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := h.engine.SetupSecondFactor(r.Context(), principal(r).ExternalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":         setup.Secret,
		"enrollment_uri": setup.EnrollmentURI,
	})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handlers) EnableSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	codes, err := h.engine.EnableSecondFactor(r.Context(), principal(r).ExternalID, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovery_codes": codes.Codes})
}

type reauthRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handlers) DisableSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	if err := h.engine.DisableSecondFactor(r.Context(), principal(r).ExternalID, req.Password, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := h.decode(w, r, &req); err != nil {
		h.badRequest(w, r)
		return
	}
	codes, err := h.engine.RegenerateRecoveryCodes(r.Context(), principal(r).ExternalID, req.Password, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovery_codes": codes.Codes})
}
