package middleware

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator map[string]service.User

func (s stubValidator) ValidateToken(_ context.Context, token string) (*service.User, error) {
	u, ok := s[token]
	if !ok {
		return nil, service.ErrInvalidToken
	}
	return &u, nil
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop(), nil))
	auth := r.Group("/", AuthMiddleware(stubValidator{
		"user-token":  {ID: "u1"},
		"admin-token": {ID: "a1", Permissions: []string{"admin"}},
	}))
	auth.GET("/me", func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.String(http.StatusOK, u.ID)
	})
	auth.GET("/admin", AdminOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAndAdmin(t *testing.T) {
	r := newEngine()

	if w := get(r, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}
	if w := get(r, "/me", "nope"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	w := get(r, "/me", "user-token")
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Fatalf("user: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("request id header must be echoed")
	}
	if w := get(r, "/admin", "user-token"); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin: %d", w.Code)
	}
	if w := get(r, "/admin", "admin-token"); w.Code != http.StatusNoContent {
		t.Fatalf("admin: %d", w.Code)
	}
}

func TestWebhookSignature(t *testing.T) {
	r := gin.New()
	r.POST("/cb", WebhookSignature("s3cret"), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	body := `{"tx_ref":"ORDER-1","status":"success"}`
	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: %d", w.Code)
	}
	if w := send(hex.EncodeToString(Sign("other", []byte(body)))); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", w.Code)
	}
	w := send(hex.EncodeToString(Sign("s3cret", []byte(body))))
	if w.Code != http.StatusOK || w.Body.String() != body {
		t.Fatalf("signed: %d %q", w.Code, w.Body.String())
	}
}

func TestWebhookSignatureDisabled(t *testing.T) {
	r := gin.New()
	r.POST("/cb", WebhookSignature(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader("{}")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}
