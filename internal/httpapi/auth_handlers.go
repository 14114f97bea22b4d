package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"toolgate.org/internal/audit"
	"toolgate.org/internal/auth"
	"toolgate.org/internal/catalog"
	"toolgate.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ForceRefresh bool   `json:"force_refresh"`
}

type loginResponse struct {
	Token         string              `json:"token"`
	ExpiresAt     time.Time           `json:"expires_at"`
	Username      string              `json:"username"`
	Commands      catalog.Tree        `json:"commands"`
	AllowedValues map[string][]string `json:"allowed_values,omitempty"`
}

// handleLogin exchanges a username/password pair for a bearer token and
// the caller's pruned command catalog.
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

	result, err := a.auth.Authenticate(r.Context(), auth.AuthRequest{
		Username:     req.Username,
		Password:     req.Password,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		obs.LoginAttempts.WithLabelValues("password", "denied").Inc()
		handleAuthError(w, r, err)
		return
	}
	obs.LoginAttempts.WithLabelValues("password", "ok").Inc()

	token, expiresAt, err := a.auth.IssueToken(result.Username)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	ctx := auth.ContextWithUsername(r.Context(), result.Username)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"commands":   result.Commands.Commands(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:         token,
		ExpiresAt:     expiresAt,
		Username:      result.Username,
		Commands:      result.Commands,
		AllowedValues: result.AllowedValues,
	})
}

// handleRefresh validates a bearer token and returns the caller's current
// catalog view with a fresh token. The statement cache is bypassed so a
// refresh always reflects the latest policy chain.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	result, err := a.auth.Authenticate(r.Context(), auth.AuthRequest{
		Token:        token,
		ForceRefresh: true,
	})
	if err != nil {
		obs.LoginAttempts.WithLabelValues("token", "denied").Inc()
		handleAuthError(w, r, err)
		return
	}
	obs.LoginAttempts.WithLabelValues("token", "ok").Inc()

	fresh, expiresAt, err := a.auth.IssueToken(result.Username)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	ctx := auth.ContextWithUsername(r.Context(), result.Username)
	_ = audit.LogEvent(ctx, "auth.refresh", map[string]any{
		"commands": result.Commands.Commands(),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:         fresh,
		ExpiresAt:     expiresAt,
		Username:      result.Username,
		Commands:      result.Commands,
		AllowedValues: result.AllowedValues,
	})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
