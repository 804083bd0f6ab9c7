package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"customer-auth/internal/domain"
	"customer-auth/internal/service"
)

const (
	tokenIssuer     = "customer-auth"
	ctxKeyStaffUser = "staff_user"
)

var errInvalidToken = errors.New("invalid token")

type staffClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// tokenSigner signs and verifies admin session tokens.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenSigner(secret string, ttl time.Duration) *tokenSigner {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &tokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *tokenSigner) issue(user *domain.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := staffClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *tokenSigner) parse(raw string) (int64, error) {
	token, err := jwt.ParseWithClaims(raw, &staffClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(*staffClaims)
	if !ok || !token.Valid {
		return 0, errInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidToken
	}
	return id, nil
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      struct {
		ID       int64  `json:"id"`
		Email    string `json:"email"`
		UserName string `json:"user_name"`
	} `json:"user"`
}

// login issues a session token to active staff accounts only.
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err == nil && !user.IsStaff {
		err = service.ErrInvalidCredentials
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.WithField("email", domain.NormalizeEmail(req.Email)).Warn("admin login rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Please enter the correct email and password for a staff account."})
			return
		}
		h.writeError(c, err)
		return
	}

	token, expires, err := h.tokens.issue(user)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var resp loginResponse
	resp.Token = token
	resp.ExpiresAt = expires.UTC().Format(time.RFC3339)
	resp.User.ID = user.ID
	resp.User.Email = user.Email
	resp.User.UserName = user.UserName
	c.JSON(http.StatusOK, resp)
}

// requireStaff admits requests carrying a valid token whose user is still
// active staff.
func (h *Handler) requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		id, err := h.tokens.parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		user, err := h.users.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
				return
			}
			h.writeError(c, err)
			c.Abort()
			return
		}
		if !user.IsActive || !user.IsStaff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff access required"})
			return
		}

		c.Set(ctxKeyStaffUser, user)
		c.Next()
	}
}

func staffUser(c *gin.Context) *domain.User {
	v, ok := c.Get(ctxKeyStaffUser)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}
