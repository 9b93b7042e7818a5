package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"council/pkg/auth"
)

func TestLogoutFailsWhenBlacklistUnreachable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtMgr := auth.NewJWTManager("secret", time.Hour)
	// nothing listens here; the blacklist write must surface, not vanish
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	h := NewAuthHandler(nil, nil, jwtMgr, rdb)

	token, err := jwtMgr.Generate("user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	c.Request.Header.Set("Authorization", "Bearer "+token)

	h.Logout(c)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("logout with dead redis = %d, want 500", w.Code)
	}
}

func TestLogoutRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(nil, nil, auth.NewJWTManager("secret", time.Hour), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	c.Request.Header.Set("Authorization", "Bearer not-a-token")

	h.Logout(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("logout with bad token = %d, want 401", w.Code)
	}
}
