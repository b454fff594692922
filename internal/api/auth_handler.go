package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/repository"
)

const (
	refreshTokenCookieName         = "refresh_token"
	refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"
	loginRateLimitPerHour          = 10
	loginLockThreshold             = 5
	loginLockTTL                   = 15 * time.Minute
)

// UserStore is the part of the user repository the auth endpoints need.
type UserStore interface {
	Create(ctx context.Context, user *database.User) error
	GetByUsername(ctx context.Context, username string) (database.User, error)
	GetByID(ctx context.Context, id uint) (database.User, error)
}

// AuthHandler handles register, login, refresh and logout.
type AuthHandler struct {
	users        UserStore
	authService  *auth.AuthService
	redis        redis.UniversalClient
	logger       *slog.Logger
	cookieDomain string
}

func NewAuthHandler(users UserStore, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, cookieDomain string) *AuthHandler {
	return &AuthHandler{
		users:        users,
		authService:  authService,
		redis:        redisClient,
		logger:       logger,
		cookieDomain: cookieDomain,
	}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Register creates an account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := h.loggerFromContext(c).With(slog.String("username", req.Username))

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	user := database.User{Username: req.Username, PasswordHash: hashed}
	if err := h.users.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			Conflict(c, "username already taken")
			return
		}
		logger.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, gin.H{"id": user.ID})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks the password and issues a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	username := strings.ToLower(req.Username)
	logger := h.loggerFromContext(c).With(slog.String("username", req.Username))

	rateKey := "rate:login:" + c.ClientIP() + ":" + username
	if !allowRate(ctx, h.redis, rateKey, loginRateLimitPerHour, time.Hour) {
		TooManyRequests(c, "rate limit exceeded")
		return
	}
	if h.redis != nil {
		if ttl, _ := h.redis.TTL(ctx, "lock:login:"+username).Result(); ttl > 0 {
			TooManyRequests(c, "account temporarily locked")
			return
		}
	}

	user, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logger.Info("login failed: user not found")
			h.recordLoginFailure(ctx, username)
			AbortUnauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		h.recordLoginFailure(ctx, username)
		AbortUnauthorized(c)
		return
	}
	if h.redis != nil {
		_ = h.redis.Del(ctx, "lock:login:fail:"+username).Err()
	}

	pair, err := h.authService.GenerateTokenPair(user.ID)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.replyWithTokenPair(c, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token into a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, key, ok := h.refreshClaims(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if h.redis != nil {
		if err := h.redis.Get(ctx, key).Err(); err == nil {
			logger.Info("refresh token revoked", slog.String("jti", claims.ID))
			AbortUnauthorized(c)
			return
		} else if !errors.Is(err, redis.Nil) {
			logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
	}

	if _, err := h.users.GetByID(ctx, claims.UserID); err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		AbortUnauthorized(c)
		return
	}

	pair, err := h.authService.GenerateTokenPair(claims.UserID)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.replyWithTokenPair(c, pair)
}

// Logout blacklists the refresh token and clears its cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, key, ok := h.refreshClaims(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if err := h.revokeRefreshToken(c.Request.Context(), key, claims.ExpiresAt); err != nil {
		h.loggerFromContext(c).Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.writeRefreshCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) refreshClaims(c *gin.Context) (*auth.TokenClaims, string, bool) {
	token := h.extractRefreshToken(c)
	if token == "" {
		return nil, "", false
	}
	claims, err := h.authService.ValidateToken(token)
	if err != nil || claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" {
		h.loggerFromContext(c).Info("refresh token rejected", slog.Any("error", err))
		return nil, "", false
	}
	return claims, refreshTokenBlacklistKeyPrefix + claims.ID, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, pair auth.TokenPair) {
	h.writeRefreshCookie(c, pair.RefreshToken, int(h.authService.RefreshTokenTTL().Seconds()))
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   pair.ExpiresIn,
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) writeRefreshCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    value,
		MaxAge:   maxAge,
		Path:     "/v1/auth",
		Domain:   strings.TrimSpace(h.cookieDomain),
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	if h.redis == nil {
		return nil
	}
	ttl := h.authService.RefreshTokenTTL()
	if expiresAt != nil {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, username string) {
	if h.redis == nil {
		return
	}
	count, err := incrWithTTL(ctx, h.redis, "lock:login:fail:"+username, loginLockTTL)
	if err != nil {
		return
	}
	if count >= loginLockThreshold {
		_ = h.redis.Set(ctx, "lock:login:"+username, "1", loginLockTTL).Err()
	}
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
