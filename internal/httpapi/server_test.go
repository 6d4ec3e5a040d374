package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "lnsched/pkg/logx"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "ok") })
}

func TestWithAuth(t *testing.T) {
	t.Parallel()
	h := withAuth("s3cret", okHandler())
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/notifications", "", http.StatusUnauthorized},
		{"bearer", "/notifications", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "/notifications", "Bearer nope", http.StatusUnauthorized},
		{"query", "/notifications?token=s3cret", "", http.StatusOK},
		{"healthz open", "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
	if withAuth(" ", okHandler()) == nil {
		t.Fatal("withAuth without token returned nil")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:1":    true,
		"[::1]:9":        true,
		":8080":          false,
		"0.0.0.0:80":     false,
		"10.1.2.3:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func waitAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never started listening")
	return ""
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0", Token: "tok"}, okHandler(), logx.Nop())
	s.Start(context.Background())
	addr := waitAddr(t, s)

	req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Reconfigure(ctx, ServerConfig{Enabled: false})
	if s.Supervisor() != nil || s.Enabled() {
		t.Fatal("server still running after disable")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: true, Addr: "0.0.0.0:0"}, okHandler(), logx.Nop())
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if sup := s.Supervisor(); sup != nil && errors.Is(sup.Err(), ErrInsecureBind) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("insecure bind was not refused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Addr() != "" {
		t.Fatalf("listening on %s despite refusal", s.Addr())
	}
}
