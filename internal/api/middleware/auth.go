package middleware

import (
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName      = "backtest_auth"
	ownerIDKey      = "owner_id"
	defaultTokenTTL = 24 * time.Hour
)

type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Auth resolves caller identity and guards the admin surface. Identity
// is the subject of a valid bearer token when one is presented, else
// the client IP; it is the sole ownership key for submitted jobs.
type Auth struct {
	secret        []byte
	adminHash     string
	tokenDuration time.Duration
}

type AuthConfig struct {
	AdminPasswordHash string
	TokenDuration     time.Duration
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = defaultTokenTTL
	}

	// Sessions do not survive restarts; a fresh per-process secret is
	// enough for a single-instance deployment.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	return &Auth{
		secret:        secret,
		adminHash:     cfg.AdminPasswordHash,
		tokenDuration: cfg.TokenDuration,
	}, nil
}

// Identity attaches the caller identifier to the request context.
func (a *Auth) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := a.tokenFromRequest(c); token != "" {
			if claims, err := a.validateToken(token); err == nil && claims.Subject != "" {
				c.Set(ownerIDKey, "user:"+claims.Subject)
				c.Next()
				return
			}
		}

		c.Set(ownerIDKey, "ip:"+c.ClientIP())
		c.Next()
	}
}

// OwnerID returns the identifier set by Identity.
func OwnerID(c *gin.Context) string {
	if v, ok := c.Get(ownerIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return "ip:" + c.ClientIP()
}

// RequireAdmin guards /admin routes. With no password hash configured
// the guard is a no-op and access control is left to the deployment.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.adminHash == "" {
			c.Next()
			return
		}

		token := a.tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil || !claims.Admin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Next()
	}
}

func (a *Auth) LoginHandler(c *gin.Context) {
	if a.adminHash == "" {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "admin auth is not configured"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "invalid request"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.adminHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "invalid password"})
		return
	}

	token, err := a.generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "failed to generate token"})
		return
	}

	c.SetCookie(cookieName, token, int(a.tokenDuration.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true})
}

func (a *Auth) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "logged out"})
}

func (a *Auth) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
			Issuer:    "backtest-api",
		},
		Admin: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *Auth) tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
