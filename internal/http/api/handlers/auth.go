package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notedock/notedock/internal/config"
	"github.com/notedock/notedock/internal/googleauth"
	"github.com/notedock/notedock/internal/mailer"
	"github.com/notedock/notedock/internal/models"
	"github.com/notedock/notedock/internal/otp"
	"github.com/notedock/notedock/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const refreshCookieName = "refresh_token"

// googleDefaultDateOfBirth fills the required DOB column for accounts
// created through Google sign-in, which does not supply one.
var googleDefaultDateOfBirth = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// AuthHandler manages registration, OTP verification, and sessions.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
	mail   mailer.Sender
	google *googleauth.Verifier
	nowFn  func() time.Time
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig, mail mailer.Sender, google *googleauth.Verifier) *AuthHandler {
	return &AuthHandler{
		db:     db,
		jwtCfg: jwtCfg,
		mail:   mail,
		google: google,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeEmail lowercases and trims an email address so comparisons
// are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, errParse := mail.ParseAddress(email)
	return errParse == nil && addr.Address == email
}

// registerRequest defines the request body for registration.
type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Register creates an unverified account and emails the first OTP.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if len(name) < 2 || len(name) > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 2-50 characters"})
		return
	}
	email := NormalizeEmail(body.Email)
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	dob, errParse := time.Parse("2006-01-02", strings.TrimSpace(body.DateOfBirth))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dateOfBirth must be YYYY-MM-DD"})
		return
	}

	ctx := c.Request.Context()
	var existing models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if errFind == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user already exists"})
		return
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	code, errGen := otp.Generate()
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	now := h.nowFn()
	expires := now.Add(otp.TTL)
	user := models.User{
		Name:         name,
		Email:        email,
		DateOfBirth:  datatypes.Date(dob),
		IsVerified:   false,
		OTP:          &code,
		OTPExpires:   &expires,
		Role:         models.RoleUser,
		AuthProvider: models.ProviderEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := h.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	if errSend := h.sendOTPMail(ctx, email, "Verify your email", code); errSend != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send otp"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "OTP sent to email for verification"})
}

// sendOTPRequest defines the request body for OTP issuance.
type sendOTPRequest struct {
	Email string `json:"email"`
}

// SendOTP issues a fresh verification OTP, replacing any pending one.
func (h *AuthHandler) SendOTP(c *gin.Context) {
	var body sendOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := NormalizeEmail(body.Email)
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}

	ctx := c.Request.Context()
	user, ok := h.findUserByEmail(c, email)
	if !ok {
		return
	}
	if !h.issueChallenge(c, ctx, user, "Your OTP Code") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent"})
}

// SendLoginOTP issues a login OTP for an already verified account.
func (h *AuthHandler) SendLoginOTP(c *gin.Context) {
	var body sendOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := NormalizeEmail(body.Email)
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}

	ctx := c.Request.Context()
	user, ok := h.findUserByEmail(c, email)
	if !ok {
		return
	}
	if !user.IsVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account not verified, complete email verification first"})
		return
	}
	if !h.issueChallenge(c, ctx, user, "Login OTP") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login OTP sent"})
}

// verifyOTPRequest defines the request body for OTP verification.
type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyOTP checks a submitted code against the pending challenge,
// marks the account verified, and opens a session.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var body verifyOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := NormalizeEmail(body.Email)
	submitted := strings.TrimSpace(body.OTP)
	if !validEmail(email) || len(submitted) != otp.Length {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp expired or invalid"})
		return
	}

	ctx := c.Request.Context()
	var user models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "otp expired or invalid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "otp verification failed"})
		return
	}

	now := h.nowFn()
	if !user.HasPendingOTP() || !now.Before(*user.OTPExpires) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp expired or invalid"})
		return
	}
	if !otp.Verify(submitted, *user.OTP) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect otp"})
		return
	}

	// Success and challenge clearing are a single guarded update so a
	// code can never be redeemed twice.
	res := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND otp = ?", user.ID, submitted).
		Updates(map[string]any{
			"is_verified": true,
			"otp":         nil,
			"otp_expires": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "otp verification failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp expired or invalid"})
		return
	}
	user.IsVerified = true
	user.OTP = nil
	user.OTPExpires = nil

	accessToken, ok := h.openSession(c, &user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "OTP verified",
		"token":   accessToken,
		"user":    userResponse(&user),
	})
}

// Login verifies a login OTP for a verified account and opens a session.
func (h *AuthHandler) Login(c *gin.Context) {
	var body verifyOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := NormalizeEmail(body.Email)
	submitted := strings.TrimSpace(body.OTP)

	ctx := c.Request.Context()
	var user models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired otp"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	now := h.nowFn()
	if !user.IsVerified || !user.HasPendingOTP() || !now.Before(*user.OTPExpires) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired otp"})
		return
	}
	if !otp.Verify(submitted, *user.OTP) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired otp"})
		return
	}

	res := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND otp = ?", user.ID, submitted).
		Updates(map[string]any{
			"otp":         nil,
			"otp_expires": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired otp"})
		return
	}
	user.OTP = nil
	user.OTPExpires = nil

	accessToken, ok := h.openSession(c, &user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
		"user":        userResponse(&user),
	})
}

// googleSignInRequest defines the request body for Google sign-in.
type googleSignInRequest struct {
	IDToken string `json:"idToken"`
}

// GoogleSignIn verifies a Google ID token and signs the user in,
// creating a verified account on first contact. The OAuth path never
// touches OTP fields.
func (h *AuthHandler) GoogleSignIn(c *gin.Context) {
	var body googleSignInRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id token is required"})
		return
	}
	if h.google == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in not configured"})
		return
	}

	ctx := c.Request.Context()
	profile, errVerify := h.google.Verify(ctx, body.IDToken)
	if errVerify != nil {
		if errors.Is(errVerify, googleauth.ErrInvalidIDToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id token"})
			return
		}
		log.WithError(errVerify).Error("google sign-in: token verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in failed"})
		return
	}

	email := NormalizeEmail(profile.Email)
	now := h.nowFn()

	var user models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		name := strings.TrimSpace(profile.Name)
		if name == "" {
			name = "Google User"
		}
		googleID := profile.Subject
		user = models.User{
			Name:           name,
			Email:          email,
			DateOfBirth:    datatypes.Date(googleDefaultDateOfBirth),
			IsVerified:     true,
			Role:           models.RoleUser,
			AuthProvider:   models.ProviderGoogle,
			GoogleID:       &googleID,
			ProfilePicture: profile.Picture,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if errCreate := h.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in failed"})
			return
		}
	case errFind != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in failed"})
		return
	default:
		updates := map[string]any{
			"google_id":     profile.Subject,
			"is_verified":   true,
			"auth_provider": models.ProviderGoogle,
			"updated_at":    now,
		}
		if profile.Picture != "" {
			updates["profile_picture"] = profile.Picture
		}
		if errUpdate := h.db.WithContext(ctx).Model(&user).Updates(updates).Error; errUpdate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in failed"})
			return
		}
		googleID := profile.Subject
		user.GoogleID = &googleID
		user.IsVerified = true
		user.AuthProvider = models.ProviderGoogle
		if profile.Picture != "" {
			user.ProfilePicture = profile.Picture
		}
	}

	accessToken, ok := h.openSession(c, &user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
		"user":        userResponse(&user),
	})
}

// Me returns the authenticated user's account.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(&user)})
}

// Refresh exchanges a valid refresh cookie for a new access token and
// rotates the cookie.
func (h *AuthHandler) Refresh(c *gin.Context) {
	cookie, errCookie := c.Cookie(refreshCookieName)
	if errCookie != nil || strings.TrimSpace(cookie) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}

	claims, errParse := security.ParseRefreshToken(h.jwtCfg.Secret, cookie)
	if errParse != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	userID, errID := claims.UserID()
	if errID != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	accessToken, ok := h.openSession(c, &user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": accessToken})
}

// Logout clears the refresh cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, "/v0/auth", "", true, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// findUserByEmail loads a user or writes the 404/500 response.
func (h *AuthHandler) findUserByEmail(c *gin.Context, email string) (*models.User, bool) {
	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &user, true
}

// issueChallenge stores a fresh OTP on the account, overwriting any
// pending one, and mails it. Writes the error response on failure.
func (h *AuthHandler) issueChallenge(c *gin.Context, ctx context.Context, user *models.User, subject string) bool {
	code, errGen := otp.Generate()
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send otp"})
		return false
	}
	now := h.nowFn()
	expires := now.Add(otp.TTL)

	res := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"otp":         code,
			"otp_expires": expires,
			"updated_at":  now,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send otp"})
		return false
	}
	if errSend := h.sendOTPMail(ctx, user.Email, subject, code); errSend != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send otp"})
		return false
	}
	return true
}

func (h *AuthHandler) sendOTPMail(ctx context.Context, to, subject, code string) error {
	if h.mail == nil {
		return nil
	}
	if errSend := h.mail.Send(ctx, to, subject, fmt.Sprintf("Your OTP is: %s", code)); errSend != nil {
		log.WithError(errSend).WithField("to", to).Error("otp mail delivery failed")
		return errSend
	}
	return nil
}

// openSession mints the access token and sets the refresh cookie.
// Writes the error response and returns false on failure.
func (h *AuthHandler) openSession(c *gin.Context, user *models.User) (string, bool) {
	accessToken, errAccess := security.IssueAccessToken(
		h.jwtCfg.Secret, user.ID, user.Email, user.Name, user.Role, h.jwtCfg.AccessExpiry)
	if errAccess != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return "", false
	}
	refreshToken, errRefresh := security.IssueRefreshToken(h.jwtCfg.Secret, user.ID, h.jwtCfg.RefreshExpiry)
	if errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return "", false
	}

	maxAge := int(h.jwtCfg.RefreshExpiry / time.Second)
	if maxAge <= 0 {
		maxAge = int(security.DefaultRefreshExpiry / time.Second)
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, refreshToken, maxAge, "/v0/auth", "", true, true)
	return accessToken, true
}

// currentUserID reads the authenticated user ID set by the middleware.
func currentUserID(c *gin.Context) (uint64, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok
}

// userResponse shapes a user for API responses. OTP fields never leave
// the server.
func userResponse(user *models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"dateOfBirth":    time.Time(user.DateOfBirth).Format("2006-01-02"),
		"isVerified":     user.IsVerified,
		"role":           user.Role,
		"authProvider":   user.AuthProvider,
		"profilePicture": user.ProfilePicture,
		"createdAt":      user.CreatedAt,
	}
}
