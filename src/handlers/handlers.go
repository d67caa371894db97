package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/integems/caption-agent/src/auth"
	"github.com/integems/caption-agent/src/database"
	"github.com/integems/caption-agent/src/models"
	"github.com/integems/caption-agent/src/services"
	"go.uber.org/zap"
)

// Dependencies are the adapters and settings the REST surface is built from.
type Dependencies struct {
	Store          database.Store
	Gallery        *services.GalleryService
	Tokens         *auth.TokenIssuer
	Logger         *zap.Logger
	CookieSecure   bool
	ClientOrigin   string
	MaxUploadBytes int64
}

type handler struct {
	mux      *http.ServeMux
	store    database.Store
	gallery  *services.GalleryService
	tokens   *auth.TokenIssuer
	logger   *zap.Logger
	validate *validator.Validate

	cookieSecure   bool
	clientOrigin   string
	maxUploadBytes int64
}

// NewHandler initializes a new handler with a mux and its dependencies.
func NewHandler(mux *http.ServeMux, deps Dependencies) *handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{
		mux:            mux,
		store:          deps.Store,
		gallery:        deps.Gallery,
		tokens:         deps.Tokens,
		logger:         logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		cookieSecure:   deps.CookieSecure,
		clientOrigin:   deps.ClientOrigin,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Helper function: Respond with an error
func (h *handler) respondWithError(w http.ResponseWriter, message string, code int) {
	h.respondWithJSON(w, errorResponse{Message: message}, code)
}

// Helper function: Respond with JSON
func (h *handler) respondWithJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// statusFor maps an error from the adapters to its HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated),
		errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenRevoked),
		errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the client-facing text for errors that are not server faults.
func messageFor(err error) string {
	switch {
	case errors.Is(err, models.ErrAlreadyExists):
		return "A user is already registered with this email address."
	case errors.Is(err, models.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, models.ErrUnauthenticated):
		return "Unauthorized access: No token provided."
	case errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenRevoked):
		return "Unauthorized access: Invalid token."
	case errors.Is(err, models.ErrImageNotFound):
		return "Image not found."
	case errors.Is(err, models.ErrNotFound):
		return "User not found."
	default:
		return "Invalid request."
	}
}

// respondWithFailure writes err using statusFor. Server faults carry the
// operation's fallback message plus the underlying error text.
func (h *handler) respondWithFailure(w http.ResponseWriter, req *http.Request, err error, fallback string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(fallback,
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		h.respondWithJSON(w, errorResponse{Message: fallback, Error: err.Error()}, code)
		return
	}
	h.respondWithError(w, messageFor(err), code)
}

func (h *handler) health(w http.ResponseWriter, req *http.Request) {
	h.respondWithJSON(w, map[string]string{"status": "OK"}, http.StatusOK)
}

// RegisterHandlers registers all routes on the mux.
func (h *handler) RegisterHandlers() {
	h.mux.HandleFunc("GET /health", h.health)

	h.mux.HandleFunc("POST /api/auth/register", h.register)
	h.mux.HandleFunc("POST /api/auth/login", h.login)
	h.mux.Handle("POST /api/auth/logout", h.requireSession(h.logout))
	h.mux.HandleFunc("GET /api/auth/currentUser", h.currentUser)

	h.mux.Handle("GET /api/user/all-uploaded-img", h.requireSession(h.getUploadedImages))
	h.mux.Handle("POST /api/user/upload-image", h.requireSession(h.uploadImage))
	h.mux.Handle("DELETE /api/user/delete-image/{imageId}", h.requireSession(h.deleteImage))
}

// Handler returns the mux wrapped in the access log and CORS middleware.
func (h *handler) Handler() http.Handler {
	return h.accessLog(h.cors(h.mux))
}
