package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/notedock/notedock/internal/config"
	"github.com/notedock/notedock/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notedock.db")), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open test db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.Note{}); errMigrate != nil {
		t.Fatalf("migrate test db: %v", errMigrate)
	}
	return conn
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:        "test-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
}

func newAuthRouter(t *testing.T) (*gin.Engine, *AuthHandler, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	h := NewAuthHandler(conn, testJWTConfig(), nil, nil)
	r := gin.New()
	r.POST("/v0/auth/register", h.Register)
	r.POST("/v0/auth/send-otp", h.SendOTP)
	r.POST("/v0/auth/send-login-otp", h.SendLoginOTP)
	r.POST("/v0/auth/verify-otp", h.VerifyOTP)
	r.POST("/v0/auth/login", h.Login)
	r.POST("/v0/auth/refresh", h.Refresh)
	r.POST("/v0/auth/logout", h.Logout)
	return r, h, conn
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if errEncode := json.NewEncoder(&body).Encode(payload); errEncode != nil {
			t.Fatalf("encode payload: %v", errEncode)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response body %q: %v", w.Body.String(), errDecode)
	}
	return out
}

func storedOTP(t *testing.T, conn *gorm.DB, email string) string {
	t.Helper()
	var user models.User
	if errFind := conn.Where("email = ?", email).First(&user).Error; errFind != nil {
		t.Fatalf("load user %s: %v", email, errFind)
	}
	if user.OTP == nil {
		t.Fatalf("expected pending otp for %s", email)
	}
	return *user.OTP
}

func registerUser(t *testing.T, r *gin.Engine, email string) {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v0/auth/register", gin.H{
		"name":        "Ada Lovelace",
		"email":       email,
		"dateOfBirth": "1990-12-10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d body %s", w.Code, w.Body.String())
	}
}

func TestRegisterCreatesUnverifiedUserWithOTP(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")

	var user models.User
	if errFind := conn.Where("email = ?", "ada@example.com").First(&user).Error; errFind != nil {
		t.Fatalf("load created user: %v", errFind)
	}
	if user.IsVerified {
		t.Fatalf("expected new user to be unverified")
	}
	if !user.HasPendingOTP() {
		t.Fatalf("expected pending otp on new user")
	}
	if len(*user.OTP) != 6 {
		t.Fatalf("expected 6-digit otp, got %q", *user.OTP)
	}
	if user.Role != models.RoleUser || user.AuthProvider != models.ProviderEmail {
		t.Fatalf("unexpected role/provider: %q/%q", user.Role, user.AuthProvider)
	}
}

func TestRegisterDuplicateEmailCaseInsensitive(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	registerUser(t, r, "Ada@Example.com")

	w := doJSON(t, r, http.MethodPost, "/v0/auth/register", gin.H{
		"name":        "Ada Again",
		"email":       "ada@example.com",
		"dateOfBirth": "1990-12-10",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	cases := []struct {
		name    string
		payload gin.H
	}{
		{"short name", gin.H{"name": "A", "email": "a@example.com", "dateOfBirth": "1990-01-01"}},
		{"long name", gin.H{"name": string(make([]byte, 51)), "email": "a@example.com", "dateOfBirth": "1990-01-01"}},
		{"bad email", gin.H{"name": "Ada", "email": "not-an-email", "dateOfBirth": "1990-01-01"}},
		{"bad dob", gin.H{"name": "Ada", "email": "a@example.com", "dateOfBirth": "12/10/1990"}},
	}
	for _, tc := range cases {
		w := doJSON(t, r, http.MethodPost, "/v0/auth/register", tc.payload)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestVerifyOTPSingleUse(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")

	w := doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if token, _ := body["token"].(string); token == "" {
		t.Fatalf("expected access token in verify response")
	}
	user, _ := body["user"].(map[string]any)
	if user == nil || user["isVerified"] != true {
		t.Fatalf("expected verified user in response, got %v", body["user"])
	}
	if _, found := user["otp"]; found {
		t.Fatalf("otp must never appear in responses")
	}

	// The same code must not be redeemable twice.
	w = doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replayed otp: expected 400, got %d", w.Code)
	}
}

func TestVerifyOTPMismatchPreservesChallenge(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	w := doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": wrong})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong otp: expected 401, got %d", w.Code)
	}

	// A failed attempt must not consume the challenge.
	w = doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})
	if w.Code != http.StatusOK {
		t.Fatalf("correct otp after mismatch: expected 200, got %d body %s", w.Code, w.Body.String())
	}
}

func TestVerifyOTPExpired(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")

	past := time.Now().UTC().Add(-time.Minute)
	if errUpdate := conn.Model(&models.User{}).Where("email = ?", "ada@example.com").
		Update("otp_expires", past).Error; errUpdate != nil {
		t.Fatalf("expire otp: %v", errUpdate)
	}

	w := doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expired otp: expected 400, got %d", w.Code)
	}
}

func TestSendOTPUnknownEmail(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v0/auth/send-otp", gin.H{"email": "nobody@example.com"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown email, got %d", w.Code)
	}
}

func TestSendOTPOverwritesPendingChallenge(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	first := storedOTP(t, conn, "ada@example.com")

	w := doJSON(t, r, http.MethodPost, "/v0/auth/send-otp", gin.H{"email": "ada@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("send-otp: expected 200, got %d", w.Code)
	}
	second := storedOTP(t, conn, "ada@example.com")

	// The old code is dead once a new one is issued, regardless of the
	// tiny chance the two codes collide.
	if first != second {
		w = doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": first})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("stale otp: expected 401, got %d", w.Code)
		}
	}
	w = doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": second})
	if w.Code != http.StatusOK {
		t.Fatalf("fresh otp: expected 200, got %d", w.Code)
	}
}

func TestSendLoginOTPRequiresVerifiedAccount(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")

	w := doJSON(t, r, http.MethodPost, "/v0/auth/send-login-otp", gin.H{"email": "ada@example.com"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unverified account: expected 400, got %d", w.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")
	doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})

	w := doJSON(t, r, http.MethodPost, "/v0/auth/send-login-otp", gin.H{"email": "ada@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("send-login-otp: expected 200, got %d body %s", w.Code, w.Body.String())
	}
	loginCode := storedOTP(t, conn, "ada@example.com")

	w = doJSON(t, r, http.MethodPost, "/v0/auth/login", gin.H{"email": "ada@example.com", "otp": loginCode})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if token, _ := body["accessToken"].(string); token == "" {
		t.Fatalf("expected accessToken in login response")
	}
	var refreshCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil || refreshCookie.Value == "" {
		t.Fatalf("expected refresh cookie on login")
	}
	if !refreshCookie.HttpOnly || refreshCookie.Path != "/v0/auth" {
		t.Fatalf("unexpected refresh cookie attributes: %+v", refreshCookie)
	}

	// A login code is single-use too.
	w = doJSON(t, r, http.MethodPost, "/v0/auth/login", gin.H{"email": "ada@example.com", "otp": loginCode})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replayed login otp: expected 401, got %d", w.Code)
	}
}

func TestLoginRejectsUnknownAndUnverified(t *testing.T) {
	r, _, conn := newAuthRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v0/auth/login", gin.H{"email": "nobody@example.com", "otp": "123456"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: expected 401, got %d", w.Code)
	}

	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")
	w = doJSON(t, r, http.MethodPost, "/v0/auth/login", gin.H{"email": "ada@example.com", "otp": code})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unverified account: expected 401, got %d", w.Code)
	}
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	r, _, conn := newAuthRouter(t)
	registerUser(t, r, "ada@example.com")
	code := storedOTP(t, conn, "ada@example.com")
	verify := doJSON(t, r, http.MethodPost, "/v0/auth/verify-otp", gin.H{"email": "ada@example.com", "otp": code})

	var refreshCookie *http.Cookie
	for _, cookie := range verify.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil {
		t.Fatalf("expected refresh cookie after verification")
	}

	req := httptest.NewRequest(http.MethodPost, "/v0/auth/refresh", nil)
	req.AddCookie(refreshCookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d body %s", w.Code, w.Body.String())
	}
	if token, _ := decodeBody(t, w)["accessToken"].(string); token == "" {
		t.Fatalf("expected accessToken in refresh response")
	}
}

func TestRefreshRejectsMissingAndInvalidCookie(t *testing.T) {
	r, _, _ := newAuthRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v0/auth/refresh", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v0/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "not-a-jwt"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("invalid cookie: expected 403, got %d", rec.Code)
	}
}

func TestLogoutClearsRefreshCookie(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v0/auth/logout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	var cleared bool
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == refreshCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected refresh cookie to be cleared")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", got)
	}
}

func seedVerifiedUser(t *testing.T, conn *gorm.DB, email string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		Name:         "Seed User",
		Email:        email,
		DateOfBirth:  datatypes.Date(time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC)),
		IsVerified:   true,
		Role:         models.RoleUser,
		AuthProvider: models.ProviderEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user %s: %v", email, errCreate)
	}
	return &user
}
