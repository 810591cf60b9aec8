package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rental-platform/internal/config"

	"github.com/gin-gonic/gin"
)

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	pair, _ := m.IssuePair(time.Now(), Actor{ID: "u-9", Role: "admin"})

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		a, ok := ActorFrom(c.Request.Context())
		if !ok || a.ID != "u-9" || a.Role != "admin" {
			t.Errorf("unexpected actor %+v", a)
		}
		if c.GetString("user_id") != "u-9" {
			t.Errorf("expected user_id on gin context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestOptionalAccessToken_AnonymousPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})

	r := gin.New()
	r.GET("/x", OptionalAccessToken(m), func(c *gin.Context) {
		if _, ok := ActorFrom(c.Request.Context()); ok {
			t.Errorf("expected anonymous request")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
