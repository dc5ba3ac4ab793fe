package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/isdelr/ender-watch/internal/auth"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues operator tokens. There is a single operator credential
// configured as a bcrypt hash; no user store exists.
type AuthHandler struct {
	passwordHash string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(passwordHash string) *AuthHandler {
	return &AuthHandler{passwordHash: passwordHash}
}

// LoginPayload defines the structure for login requests.
type LoginPayload struct {
	Password string `json:"password"`
}

// Login checks the operator password and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(payload.Password)); err != nil {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected operator login")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT("operator")
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign operator token")
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Expires:  time.Now().Add(24 * time.Hour),
		HttpOnly: true,
		Path:     "/",
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}
