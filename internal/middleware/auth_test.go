package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateToken(t *testing.T) {
	auth := NewAuth(testSecret)

	token, err := auth.GenerateToken("bot", RoleService, 0, 1*time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := auth.parse(token)
	require.NoError(t, err)
	assert.Equal(t, "bot", claims.Subject)
	assert.Equal(t, RoleService, claims.Role)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuth(testSecret)

	expired, err := auth.GenerateToken("bot", RoleService, 0, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuth("other-secret").GenerateToken("bot", RoleAdmin, 0, time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{
			name:           "Missing authorization header",
			header:         "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid token format",
			header:         "InvalidToken",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired token",
			header:         "Bearer " + expired,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong secret",
			header:         "Bearer " + foreign,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unsigned token",
			header:         "Bearer " + unsigned,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c.Request = req

			auth.JWTAuth()(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuth(testSecret)

	token, err := auth.GenerateToken("user-42", RoleUser, 42, 1*time.Hour)
	assert.NoError(t, err)

	router := gin.New()
	router.GET("/test", auth.JWTAuth(), func(c *gin.Context) {
		claims, exists := GetClaims(c)
		assert.True(t, exists)
		assert.Equal(t, int64(42), claims.UserID)
		assert.Equal(t, RoleUser, claims.Role)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleAndAuthorizeUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuth(testSecret)

	router := gin.New()
	router.Use(auth.JWTAuth())
	router.GET("/users/:id", AuthorizeUser("id"), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	token := func(role string, userID int64) string {
		tok, err := auth.GenerateToken("t", role, userID, time.Hour)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"user reads own record", "GET", "/users/7", token(RoleUser, 7), http.StatusOK},
		{"user reads other record", "GET", "/users/8", token(RoleUser, 7), http.StatusForbidden},
		{"service reads any record", "GET", "/users/8", token(RoleService, 0), http.StatusOK},
		{"user cannot administer", "POST", "/admin", token(RoleUser, 7), http.StatusForbidden},
		{"service cannot administer", "POST", "/admin", token(RoleService, 0), http.StatusForbidden},
		{"admin administers", "POST", "/admin", token(RoleAdmin, 0), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
