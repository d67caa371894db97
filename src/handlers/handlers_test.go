package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/integems/caption-agent/src/auth"
	"github.com/integems/caption-agent/src/caption"
	"github.com/integems/caption-agent/src/database"
	"github.com/integems/caption-agent/src/models"
	"github.com/integems/caption-agent/src/services"
	"github.com/integems/caption-agent/src/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSecret = []byte("test-secret")

type memoryRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Duration
}

func (m *memoryRevocations) Revoke(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]time.Duration)
	}
	m.ids[id] = ttl
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

type fakeStorage struct {
	mu        sync.Mutex
	n         int
	deleted   []string
	deleteErr error
}

func (f *fakeStorage) Upload(_ context.Context, _ []byte, fileName, _ string) (storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	id := fmt.Sprintf("imgs/%d_%s", f.n, fileName)
	return storage.UploadResult{URL: "https://cdn.test/" + id, FileID: id}, nil
}

func (f *fakeStorage) Delete(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

type fakeCaptioner struct {
	mu   sync.Mutex
	last caption.Request
	err  error
}

func (f *fakeCaptioner) Generate(_ context.Context, req caption.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return "A caption in " + req.Language, nil
}

type testServer struct {
	http.Handler
	store     *database.MemoryStore
	storage   *fakeStorage
	captioner *fakeCaptioner
	tokens    *auth.TokenIssuer
	logs      *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	s := &testServer{
		store:     database.NewMemoryStore(),
		storage:   &fakeStorage{},
		captioner: &fakeCaptioner{},
		tokens:    auth.NewTokenIssuer(testSecret, auth.DefaultSessionTTL, &memoryRevocations{}),
		logs:      logs,
	}

	h := NewHandler(http.NewServeMux(), Dependencies{
		Store:          s.store,
		Gallery:        services.NewGalleryService(s.store, s.storage, s.captioner, logger),
		Tokens:         s.tokens,
		Logger:         logger,
		CookieSecure:   true,
		ClientOrigin:   "http://localhost:5173",
		MaxUploadBytes: 1 << 20,
	})
	h.RegisterHandlers()
	s.Handler = h.Handler()
	return s
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withToken(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	return req
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("no %q cookie in response", sessionCookie)
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// register creates a user and returns the session token and user id.
func (s *testServer) register(t *testing.T, email string) (string, string) {
	t.Helper()
	rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/register",
		fmt.Sprintf(`{"email":%q,"password":"secret"}`, email)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[userResponse](t, rec)
	return sessionCookieFrom(t, rec).Value, body.User.ID
}

func uploadRequest(t *testing.T, fields map[string]string, withFile bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withFile {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="imageFile"; filename="cat.png"`)
		hdr.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/user/upload-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) upload(t *testing.T, token string) uploadResponse {
	t.Helper()
	rec := s.do(t, withToken(uploadRequest(t, map[string]string{"language": "french"}, true), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[uploadResponse](t, rec)
}

func (s *testServer) list(t *testing.T, token string) []models.UploadedImage {
	t.Helper()
	rec := s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/api/user/all-uploaded-img", nil), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[imagesResponse](t, rec).Images
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/register", `{"email":"  Jane@Example.COM ","password":"secret"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.NotContains(t, rec.Body.String(), "password")
	body := decode[userResponse](t, rec)
	assert.Equal(t, "User registered successfully.", body.Message)
	assert.Equal(t, "jane@example.com", body.User.Email)
	assert.NotEmpty(t, body.User.ID)

	cookie := sessionCookieFrom(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	assert.Equal(t, int((72 * time.Hour).Seconds()), cookie.MaxAge)

	claims, err := s.tokens.Verify(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, body.User.ID, claims.UserID)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "jane@example.com")

	rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/register", `{"email":"JANE@example.com","password":"other"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "A user is already registered with this email address.", decode[errorResponse](t, rec).Message)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing email", `{"password":"secret"}`, "Email is required."},
		{"bad email", `{"email":"not-an-email","password":"secret"}`, "Please enter a valid email"},
		{"missing password", `{"email":"a@b.co"}`, "Password is required"},
		{"malformed", `{"email":`, "Invalid request payload"},
		{"password too long", fmt.Sprintf(`{"email":"a@b.co","password":%q}`, strings.Repeat("p", 80)), "Password must be at most 72 bytes"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/register", tc.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)

			body := decode[validationResponse](t, rec)
			assert.Equal(t, "Validation failed.", body.Message)
			assert.Equal(t, tc.want, body.Errors)
		})
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	_, userID := s.register(t, "jane@example.com")

	rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"Jane@example.com","password":"secret"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "User logged in successfully.", decode[userResponse](t, rec).Message)

	claims, err := s.tokens.Verify(context.Background(), sessionCookieFrom(t, rec).Value)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "jane@example.com")

	for _, body := range []string{
		`{"email":"jane@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"secret"}`,
	} {
		rec := s.do(t, jsonRequest(http.MethodPost, "/api/auth/login", body))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password.", decode[errorResponse](t, rec).Message)
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestCurrentUser(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t, "jane@example.com")

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/api/auth/currentUser", nil), token))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[userResponse](t, rec)
	assert.Equal(t, userID, body.User.ID)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/currentUser", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User Not authenticated", decode[errorResponse](t, rec).Message)

	rec = s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/api/auth/currentUser", nil), tamper(token)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", decode[errorResponse](t, rec).Message)
}

func TestCurrentUser_DeletedUser(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.tokens.Issue("ghost@example.com", "no-such-user")
	require.NoError(t, err)

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/api/auth/currentUser", nil), token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found.", decode[errorResponse](t, rec).Message)
}

func expiredToken(t *testing.T, userID string) string {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "expired",
			IssuedAt:  jwt.NewNumericDate(past.Add(-72 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
		UserID: userID,
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

// tamper swaps the payload for another user's while keeping the signature.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"id":"someone-else","exp":4102444800}`))
	return strings.Join(parts, ".")
}

func TestAuthenticatedRoutesRejectBadSessions(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t, "jane@example.com")

	forged, _, err := auth.NewTokenIssuer([]byte("other-secret"), 0, nil).Issue("jane@example.com", userID)
	require.NoError(t, err)

	routes := []struct{ method, target string }{
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/user/all-uploaded-img"},
		{http.MethodPost, "/api/user/upload-image"},
		{http.MethodDelete, "/api/user/delete-image/abc"},
	}
	tokens := map[string]string{
		"none":     "",
		"expired":  expiredToken(t, userID),
		"tampered": tamper(token),
		"forged":   forged,
	}

	for _, route := range routes {
		for name, tok := range tokens {
			t.Run(route.method+" "+route.target+" "+name, func(t *testing.T) {
				req := httptest.NewRequest(route.method, route.target, nil)
				if tok != "" {
					withToken(req, tok)
				}
				rec := s.do(t, req)
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		}
	}
}

func TestBearerTokenFallback(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/user/all-uploaded-img", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := s.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User logged out successfully.", decode[errorResponse](t, rec).Message)

	cookie := sessionCookieFrom(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	rec = s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/api/user/all-uploaded-img", nil), token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndList(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")

	assert.Empty(t, s.list(t, token))

	rec := s.do(t, withToken(uploadRequest(t, map[string]string{
		"tone":           "formal",
		"language":       "spanish",
		"additionalInfo": "my cat",
	}, true), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[uploadResponse](t, rec)
	assert.Equal(t, "Image uploaded and caption generated successfully.", body.Message)
	assert.Equal(t, "A caption in spanish", body.Caption)
	assert.True(t, strings.HasPrefix(body.ImageURL, "https://cdn.test/imgs/1_userImage_"))

	assert.Equal(t, "formal", s.captioner.last.Tone)
	assert.Equal(t, "my cat", s.captioner.last.AdditionalInfo)
	assert.Equal(t, "image/png", s.captioner.last.MIMEType)

	images := s.list(t, token)
	require.Len(t, images, 1)
	assert.Equal(t, body.ImageURL, images[0].ImageURL)
	assert.Equal(t, body.Caption, images[0].Caption)
	assert.NotEmpty(t, images[0].ID)
	assert.NotEmpty(t, images[0].FileID)
}

func TestUpload_TooLarge(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("imageFile", "huge.png")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xAB}, 1<<20+1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/user/upload-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := s.do(t, withToken(req, token))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Image exceeds the upload size limit.", decode[errorResponse](t, rec).Message)

	assert.Zero(t, s.storage.n)
	assert.Nil(t, s.captioner.last.Image)
	assert.Empty(t, s.list(t, token))
}

func TestUpload_MissingFile(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")

	rec := s.do(t, withToken(uploadRequest(t, map[string]string{"tone": "formal"}, false), token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.list(t, token))
}

func TestUpload_CaptionFailure(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")
	s.captioner.err = errors.New("quota exceeded")

	rec := s.do(t, withToken(uploadRequest(t, nil, true), token))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode[errorResponse](t, rec)
	assert.Equal(t, "An error occurred while uploading image and generating caption.", body.Message)
	assert.Contains(t, body.Error, "quota exceeded")

	assert.Len(t, s.storage.deleted, 1)
	assert.Empty(t, s.list(t, token))
}

func TestDeleteImage(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")
	s.upload(t, token)
	s.upload(t, token)
	s.upload(t, token)

	images := s.list(t, token)
	require.Len(t, images, 3)

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/api/user/delete-image/"+images[1].ID, nil), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[deleteResponse](t, rec)
	assert.Equal(t, images[1].ID, body.DeletedImageID)
	assert.Equal(t, []string{images[1].FileID}, s.storage.deleted)

	remaining := s.list(t, token)
	require.Len(t, remaining, 2)
	assert.Equal(t, images[0].ID, remaining[0].ID)
	assert.Equal(t, images[2].ID, remaining[1].ID)

	rec = s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/api/user/delete-image/"+images[1].ID, nil), token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found.", decode[errorResponse](t, rec).Message)
}

func TestDeleteImage_OtherUsersImage(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.register(t, "alice@example.com")
	bob, _ := s.register(t, "bob@example.com")
	s.upload(t, bob)
	bobImages := s.list(t, bob)

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/api/user/delete-image/"+bobImages[0].ID, nil), alice))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, s.list(t, bob), 1)
	assert.Empty(t, s.storage.deleted)
}

func TestDeleteImage_StorageFailure(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "jane@example.com")
	s.upload(t, token)
	images := s.list(t, token)
	s.storage.deleteErr = errors.New("storage offline")

	rec := s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/api/user/delete-image/"+images[0].ID, nil), token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.list(t, token))
	assert.NotEmpty(t, s.logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("fileId", images[0].FileID)).All())
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := s.do(t, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealthAndAccessLog(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())

	entries := s.logs.FilterMessage("request").FilterField(zap.String("path", "/health")).All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, http.StatusOK, entries[0].ContextMap()["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", models.ErrValidation), http.StatusBadRequest},
		{models.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: sig", models.ErrInvalidToken), http.StatusUnauthorized},
		{models.ErrTokenExpired, http.StatusUnauthorized},
		{models.ErrTokenRevoked, http.StatusUnauthorized},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("load user: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrImageNotFound), http.StatusNotFound},
		{models.ErrAlreadyExists, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
