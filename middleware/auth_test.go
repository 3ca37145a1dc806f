package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/gin-gonic/gin"
)

type fakeIdentifier map[string]*federation.Caller

func (f fakeIdentifier) Identify(_ context.Context, username, password string) (*federation.Caller, error) {
	if username == "broken" {
		return nil, errors.New("db down")
	}
	caller, ok := f[username+":"+password]
	if !ok {
		return nil, domain.ErrAuthentication
	}
	return caller, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	ids := fakeIdentifier{
		"alice:pw": {Author: &domain.Author{Id: "http://n/api/authors/alice/", Username: "alice"}},
		"node:pw":  {Node: &domain.RemoteNode{Host: "http://n2/"}},
	}
	r := gin.New()
	r.Use(AuthMiddleware(ids, log.New(io.Discard)))
	r.GET("/open", func(c *gin.Context) {
		switch {
		case Author(c) != nil:
			c.String(http.StatusOK, "author:"+Author(c).Username)
		case Caller(c) != nil:
			c.String(http.StatusOK, "node:"+Caller(c).Node.Host)
		default:
			c.String(http.StatusOK, "anonymous")
		}
	})
	r.GET("/closed", RequireCaller(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		name       string
		path       string
		user, pass string
		wantStatus int
		wantBody   string
	}{
		{"anonymous open", "/open", "", "", http.StatusOK, "anonymous"},
		{"author", "/open", "alice", "pw", http.StatusOK, "author:alice"},
		{"node", "/open", "node", "pw", http.StatusOK, "node:http://n2/"},
		{"bad password", "/open", "alice", "nope", http.StatusUnauthorized, ""},
		{"identify failure", "/open", "broken", "x", http.StatusInternalServerError, ""},
		{"anonymous closed", "/closed", "", "", http.StatusUnauthorized, ""},
		{"author closed", "/closed", "alice", "pw", http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, w.Body.String())
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate challenge")
			}
		})
	}
}
