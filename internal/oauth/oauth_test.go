package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// serviceAccountJSON returns a key file whose token_uri points at tokenURL.
func serviceAccountJSON(t *testing.T, tokenURL string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"client_email":   "mailroom@proj.iam.gserviceaccount.com",
		"private_key_id": "key-1",
		"private_key":    string(pemKey),
		"token_uri":      tokenURL,
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// tokenServer issues "tok-<sub>" for every JWT bearer grant.
func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		claims := jwtlib.MapClaims{}
		if _, _, err := jwtlib.NewParser().ParseUnverified(r.PostForm.Get("assertion"), claims); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sub, _ := claims["sub"].(string)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%s","token_type":"Bearer","expires_in":3600}`, sub)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_TokenSourceImpersonatesMailbox(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	m, err := NewManagerFromJSON(serviceAccountJSON(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("NewManagerFromJSON: %v", err)
	}
	if m.ClientEmail() != "mailroom@proj.iam.gserviceaccount.com" {
		t.Errorf("ClientEmail = %q", m.ClientEmail())
	}

	ts, err := m.TokenSource(context.Background(), " Ops@Example.com ")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "tok-ops@example.com" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}

	// Cached source, cached token.
	again, _ := m.TokenSource(context.Background(), "ops@example.com")
	if _, err := again.Token(); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}

	other, _ := m.TokenSource(context.Background(), "finance@example.com")
	tok, err = other.Token()
	if err != nil || tok.AccessToken != "tok-finance@example.com" {
		t.Errorf("other mailbox token = %v, %v", tok, err)
	}

	m.Forget("OPS@example.com")
	fresh, _ := m.TokenSource(context.Background(), "ops@example.com")
	if _, err := fresh.Token(); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("token endpoint calls after Forget = %d, want 3", got)
	}
}

func TestManager_TokenSourceErrors(t *testing.T) {
	var calls atomic.Int32
	m, err := NewManagerFromJSON(serviceAccountJSON(t, tokenServer(t, &calls).URL), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.TokenSource(context.Background(), "  "); err == nil {
		t.Error("expected error for empty mailbox")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.TokenSource(ctx, "ops@example.com"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewManager_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewManager(filepath.Join(dir, "missing.json"), nil)
	if !errors.Is(err, ErrNoServiceAccount) {
		t.Errorf("missing file err = %v, want ErrNoServiceAccount", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"type":"authorized_user"}`), 0600); err != nil {
		t.Fatal(err)
	}
	_, err = NewManager(bad, nil)
	if err == nil || !strings.Contains(err.Error(), "parse service account") {
		t.Errorf("bad file err = %v", err)
	}
}
