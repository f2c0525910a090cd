package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestValidateServiceToken(t *testing.T) {
	if err := ValidateServiceToken("", "secret"); err != ErrMissingServiceToken {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if err := ValidateServiceToken("wrong", "secret"); err != ErrInvalidServiceToken {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if err := ValidateServiceToken("secret", "secret"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateJWT("op-1", "admin", secret, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.OperatorID != "op-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := ValidateJWT(token, []byte("other-secret")); err != ErrInvalidJWT {
		t.Fatalf("expected invalid JWT, got %v", err)
	}
}

func TestJWTExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateJWT("op-1", "admin", secret, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateJWT(token, secret); err != ErrExpiredJWT {
		t.Fatalf("expected expired JWT, got %v", err)
	}
}

func TestJWTAuthMiddlewareRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("test-secret")

	router := gin.New()
	router.GET("/admin", JWTAuthMiddleware(secret, "admin"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("operator_id"))
	})

	// No header
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// Wrong role
	token, _ := GenerateJWT("op-2", "viewer", secret, time.Minute)
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// Admin role
	token, _ = GenerateJWT("op-1", "admin", secret, time.Minute)
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "op-1" {
		t.Fatalf("expected 200/op-1, got %d/%s", w.Code, w.Body.String())
	}
}
