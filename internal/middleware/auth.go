package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ClaimsContextKey = "claims"
)

// Roles carried in tokens
const (
	RoleUser    = "user"
	RoleService = "service"
	RoleAdmin   = "admin"
)

// Claims represents JWT claims. Service tokens are issued to the messaging
// client and act for any user; user tokens are scoped to UserID.
type Claims struct {
	UserID int64  `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates and issues HMAC-signed tokens
type Auth struct {
	secret []byte
}

// NewAuth creates an authenticator for secret
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return token.Claims.(*Claims), nil
}

// JWTAuth middleware validates bearer tokens
func (a *Auth) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			return
		}

		claims, err := a.parse(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Next()
	}
}

// GenerateToken issues a token for role. userID is only meaningful for RoleUser.
func (a *Auth) GenerateToken(subject, role string, userID int64, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// GetClaims retrieves the validated claims from the context
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// RequireRole rejects callers whose token does not carry one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if ok {
			for _, r := range roles {
				if claims.Role == r {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// AuthorizeUser lets user tokens reach only their own :param routes.
// Service and admin tokens pass.
func AuthorizeUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if claims.Role == RoleService || claims.Role == RoleAdmin {
			c.Next()
			return
		}

		id, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || claims.Role != RoleUser || id != claims.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}
