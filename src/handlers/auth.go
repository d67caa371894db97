package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/integems/caption-agent/src/auth"
	"github.com/integems/caption-agent/src/models"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user"`
}

type validationResponse struct {
	Message string `json:"message"`
	Errors  string `json:"errors"`
}

// bcrypt only hashes the first 72 bytes and rejects longer input.
const maxPasswordBytes = 72

var validationMessages = map[string]string{
	"Email.required":    "Email is required.",
	"Email.email":       "Please enter a valid email",
	"Password.required": "Password is required",
}

// decodeCredentials reads and validates an {email, password} body. The
// email is normalized before it is checked.
func (h *handler) decodeCredentials(req *http.Request) (credentialsRequest, error) {
	var body credentialsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("%w: Invalid request payload", models.ErrValidation)
	}
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))

	if err := h.validate.Struct(body); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			msg, ok := validationMessages[first.Field()+"."+first.Tag()]
			if !ok {
				msg = first.Error()
			}
			return body, fmt.Errorf("%w: %s", models.ErrValidation, msg)
		}
		return body, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if len(body.Password) > maxPasswordBytes {
		return body, fmt.Errorf("%w: Password must be at most %d bytes", models.ErrValidation, maxPasswordBytes)
	}
	return body, nil
}

func (h *handler) respondWithValidation(w http.ResponseWriter, err error) {
	msg := strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	h.respondWithJSON(w, validationResponse{Message: "Validation failed.", Errors: msg}, http.StatusBadRequest)
}

func (h *handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteNoneMode,
	})
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteNoneMode,
	})
}

// startSession issues a token for the user and sets it as the session cookie.
func (h *handler) startSession(w http.ResponseWriter, user *models.User) error {
	token, expiresAt, err := h.tokens.Issue(user.Email, user.ID)
	if err != nil {
		return err
	}
	h.setSessionCookie(w, token, expiresAt)
	return nil
}

// Register handler.
func (h *handler) register(w http.ResponseWriter, req *http.Request) {
	const failure = "An error occurred while registering the new user."

	body, err := h.decodeCredentials(req)
	if err != nil {
		h.respondWithValidation(w, err)
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		h.respondWithFailure(w, req, fmt.Errorf("hash password: %w", err), failure)
		return
	}

	user, err := h.store.CreateUser(req.Context(), body.Email, hash)
	if err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	if err := h.startSession(w, user); err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	h.logger.Info("user registered", zap.String("userId", user.ID))
	h.respondWithJSON(w, userResponse{Message: "User registered successfully.", User: user}, http.StatusCreated)
}

// Login handler.
func (h *handler) login(w http.ResponseWriter, req *http.Request) {
	const failure = "An error occurred while logging in the user."

	body, err := h.decodeCredentials(req)
	if err != nil {
		h.respondWithValidation(w, err)
		return
	}

	user, err := h.store.FindByEmail(req.Context(), body.Email)
	if errors.Is(err, models.ErrNotFound) {
		h.respondWithFailure(w, req, models.ErrInvalidCredentials, failure)
		return
	}
	if err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	if !auth.CheckPassword(body.Password, user.PasswordHash) {
		h.respondWithFailure(w, req, models.ErrInvalidCredentials, failure)
		return
	}

	if err := h.startSession(w, user); err != nil {
		h.respondWithFailure(w, req, err, failure)
		return
	}

	h.respondWithJSON(w, userResponse{Message: "User logged in successfully.", User: user}, http.StatusOK)
}

// Logout handler. The cookie is cleared and the token itself is revoked so a
// copy of it stops working too.
func (h *handler) logout(w http.ResponseWriter, req *http.Request) {
	if err := h.tokens.Revoke(req.Context(), claimsFrom(req.Context())); err != nil {
		h.respondWithFailure(w, req, err, "User failed to logout. Internal server error.")
		return
	}
	h.clearSessionCookie(w)
	h.respondWithJSON(w, map[string]string{"message": "User logged out successfully."}, http.StatusOK)
}

// Current user handler.
func (h *handler) currentUser(w http.ResponseWriter, req *http.Request) {
	token := sessionToken(req)
	if token == "" {
		h.respondWithError(w, "User Not authenticated", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.Verify(req.Context(), token)
	if err != nil {
		if statusFor(err) == http.StatusUnauthorized {
			h.respondWithError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		h.respondWithFailure(w, req, err, "Failed to verify session.")
		return
	}

	user, err := h.store.FindByID(req.Context(), claims.UserID)
	if err != nil {
		h.respondWithFailure(w, req, err, "An error occurred while loading the current user.")
		return
	}
	h.respondWithJSON(w, userResponse{User: user}, http.StatusOK)
}
