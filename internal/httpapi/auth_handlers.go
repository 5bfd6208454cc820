package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sentra.org/internal/engine"
	"sentra.org/internal/password"
	"sentra.org/internal/session"
	"sentra.org/internal/subject"
	"sentra.org/internal/token"
)

// loginRequest deliberately has no field for the password hash or the TOTP
// secret: both are resolved from the subject directory, never the client.
type loginRequest struct {
	SubjectID  string  `json:"subject_id"`
	Password   string  `json:"password,omitempty"`
	TOTPCode   string  `json:"totp_code,omitempty"`
	DeviceID   string  `json:"device_id,omitempty"`
	DeviceName string  `json:"device_name,omitempty"`
	Country    string  `json:"country,omitempty"`
	City       string  `json:"city,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

type tokenPairResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionID    string    `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "subject_id is required")
		return
	}

	rec, err := a.subjects.Find(r.Context(), req.SubjectID)
	if err != nil {
		// An unregistered subject reads the same as a bad credential.
		if errors.Is(err, subject.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "authentication failed")
			return
		}
		handleDomainError(w, r, err)
		return
	}

	res, err := a.engine.Login(r.Context(), engine.LoginParams{
		SubjectID:    req.SubjectID,
		Password:     req.Password,
		PasswordHash: rec.PasswordHash,
		TOTPCode:     req.TOTPCode,
		TOTPSecret:   rec.TOTPSecret,
		Device:       deviceFromRequest(r, req.DeviceID, req.DeviceName),
		Location: session.Location{
			Country:   req.Country,
			City:      req.City,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		},
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionID:    res.Session.ID,
		ExpiresAt:    res.Session.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id,omitempty"`
	DeviceName   string `json:"device_name,omitempty"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	res, err := a.engine.Refresh(r.Context(), req.RefreshToken, deviceFromRequest(r, req.DeviceID, req.DeviceName))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := tokenPairResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}
	if res.Session != nil {
		resp.SessionID = res.Session.ID
		resp.ExpiresAt = res.Session.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleLogout proves possession of the refresh token; the ended session is
// the one the token was issued to, never a caller-named one.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type registerRequest struct {
	SubjectID  string `json:"subject_id"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// handleRegister stores a subject's credential record. The password is hashed
// here; the raw value is never persisted.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "subject_id and password are required")
		return
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec := &subject.Record{
		ID:           req.SubjectID,
		PasswordHash: hash,
		TOTPSecret:   req.TOTPSecret,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.subjects.Insert(r.Context(), rec); err != nil {
		if errors.Is(err, subject.ErrInvalidState) {
			writeError(w, r, http.StatusConflict, "subject already registered")
			return
		}
		if errors.Is(err, subject.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "subject_id": rec.ID})
}

type checkRequest struct {
	SubjectID  string `json:"subject_id"`
	Permission string `json:"permission"`
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SubjectID == "" || req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "subject_id and permission are required")
		return
	}

	allowed, err := a.engine.Authorize(r.Context(), req.SubjectID, req.Permission)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": req.SubjectID,
		"permission": req.Permission,
		"allowed":    allowed,
	})
}

func deviceFromRequest(r *http.Request, deviceID, deviceName string) token.DeviceInfo {
	return token.DeviceInfo{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}
}
