package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func ecKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}
	return key
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// publicJWK renders the public half of key as a JWK.
func publicJWK(kid string, key any) map[string]any {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return map[string]any{
			"kid": kid, "kty": "RSA", "alg": "RS256", "use": "sig",
			"n": b64(k.N.Bytes()),
			"e": b64(big.NewInt(int64(k.E)).Bytes()),
		}
	case *ecdsa.PrivateKey:
		return map[string]any{
			"kid": kid, "kty": "EC", "crv": "P-256", "use": "sig",
			"x": b64(k.X.Bytes()),
			"y": b64(k.Y.Bytes()),
		}
	}
	panic(fmt.Sprintf("unsupported key %T", key))
}

// jwksServer serves keys and counts fetches.
func jwksServer(t *testing.T, keys ...map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func sign(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func identityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "docflow-api",
		Algorithms: []string{"RS256", "ES256"},
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"tenant_id":  "tenant_id",
			"email":      "email",
			"roles":      "roles",
		},
	}
}

func approverClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "alice",
		"tenant_id": "acme",
		"email":     "alice@acme.example",
		"roles":     []string{"Purchase Manager"},
		"iss":       "https://auth.example.com",
		"aud":       "docflow-api",
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":       jwt.NewNumericDate(time.Now()),
	}
}

func TestJWKSClient_GetKey(t *testing.T) {
	rk, ek := rsaKey(t), ecKey(t)
	srv, fetches := jwksServer(t, publicJWK("rsa-1", rk), publicJWK("ec-1", ek))
	client := NewJWKSClient(srv.URL, time.Hour, nil)

	got, err := client.GetKey("rsa-1")
	if err != nil {
		t.Fatalf("GetKey(rsa-1): %v", err)
	}
	if pub, ok := got.(*rsa.PublicKey); !ok || pub.N.Cmp(rk.N) != 0 {
		t.Errorf("rsa-1 = %T, want the served RSA key", got)
	}

	got, err = client.GetKey("ec-1")
	if err != nil {
		t.Fatalf("GetKey(ec-1): %v", err)
	}
	if pub, ok := got.(*ecdsa.PublicKey); !ok || pub.X.Cmp(ek.X) != 0 || pub.Y.Cmp(ek.Y) != 0 {
		t.Errorf("ec-1 = %T, want the served EC key", got)
	}

	if n := fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}
}

func TestJWKSClient_GetKey_unknownKid(t *testing.T) {
	srv, fetches := jwksServer(t, publicJWK("rsa-1", rsaKey(t)))
	client := NewJWKSClient(srv.URL, time.Hour, nil)

	if _, err := client.GetKey("rotated-away"); err == nil {
		t.Fatal("GetKey(rotated-away) succeeded")
	}
	// Fresh keys are not refetched for every unknown kid.
	if _, err := client.GetKey("rotated-away"); err == nil {
		t.Fatal("GetKey(rotated-away) succeeded on retry")
	}
	if n := fetches.Load(); n > 2 {
		t.Errorf("JWKS fetched %d times for an unknown kid", n)
	}
}

func TestJWKSClient_GetKey_emptySet(t *testing.T) {
	srv, _ := jwksServer(t)
	if _, err := NewJWKSClient(srv.URL, time.Hour, nil).GetKey("any"); err == nil {
		t.Fatal("GetKey against an empty set succeeded")
	}
}

func TestJWTAuthenticator(t *testing.T) {
	rk, ek := rsaKey(t), ecKey(t)
	srv, _ := jwksServer(t, publicJWK("rsa-1", rk), publicJWK("ec-1", ek))

	with := func(edit func(jwt.MapClaims)) jwt.MapClaims {
		c := approverClaims()
		edit(c)
		return c
	}
	bearer := func(tok string) string { return "Bearer " + tok }

	tests := []struct {
		name       string
		algorithms []string
		header     string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "RS256",
			header:     bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", approverClaims())),
			wantStatus: http.StatusOK,
		},
		{
			name:       "ES256",
			header:     bearer(sign(t, ek, jwt.SigningMethodES256, "ec-1", approverClaims())),
			wantStatus: http.StatusOK,
		},
		{
			name: "expired inside leeway",
			header: bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
				c["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))
			}))),
			wantStatus: http.StatusOK,
		},
		{
			name:       "no header",
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Missing authorization header",
		},
		{
			name:       "basic scheme",
			header:     "Basic YWxpY2U6c2VjcmV0",
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid authorization header format",
		},
		{
			name:       "malformed",
			header:     bearer("not.a.jwt"),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid token",
		},
		{
			name: "expired",
			header: bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
				c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			}))),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Token expired",
		},
		{
			name: "foreign issuer",
			header: bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
				c["iss"] = "https://evil.example.com"
			}))),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid token issuer",
		},
		{
			name: "foreign audience",
			header: bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
				c["aud"] = "payroll-api"
			}))),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid token audience",
		},
		{
			name: "no expiry",
			header: bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
				delete(c, "exp")
			}))),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Missing required claim",
		},
		{
			name:       "algorithm not allowed",
			algorithms: []string{"ES256"},
			header:     bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-1", approverClaims())),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Disallowed signing algorithm",
		},
		{
			name:       "unknown kid",
			header:     bearer(sign(t, rk, jwt.SigningMethodRS256, "rsa-9", approverClaims())),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Unknown signing key",
		},
		{
			name:       "no kid",
			header:     bearer(sign(t, rk, jwt.SigningMethodRS256, "", approverClaims())),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Unknown signing key",
		},
		{
			name:       "signed by another key",
			header:     bearer(sign(t, rsaKey(t), jwt.SigningMethodRS256, "rsa-1", approverClaims())),
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid token signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := identityConfig()
			if tt.algorithms != nil {
				cfg.Algorithms = tt.algorithms
			}
			var subject string
			h := JWTAuthenticator(cfg, NewJWKSClient(srv.URL, time.Hour, nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject, _ = ClaimsFrom(r.Context())["sub"].(string)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/documents/Purchase%20Order/PO-1/transitions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus == http.StatusOK {
				if subject != "alice" {
					t.Errorf("sub claim = %q, want alice", subject)
				}
				return
			}
			var resp struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != model.ErrUnauthorized || resp.Error.Message != tt.wantMsg {
				t.Errorf("error = %s %q, want %s %q", resp.Error.Code, resp.Error.Message, model.ErrUnauthorized, tt.wantMsg)
			}
		})
	}
}

func TestExtractClaim_dotNotation(t *testing.T) {
	claims := map[string]any{
		"realm_access": map[string]any{
			"roles": []any{"admin", "viewer"},
		},
		"sub": "user-1",
	}

	// Simple path
	if v := extractClaimString(claims, "sub"); v != "user-1" {
		t.Errorf("sub = %q, want user-1", v)
	}

	// Nested path
	roles := extractClaimStringSlice(claims, "realm_access.roles")
	if len(roles) != 2 || roles[0] != "admin" {
		t.Errorf("realm_access.roles = %v, want [admin viewer]", roles)
	}

	// Missing path
	if v := extractClaimString(claims, "nonexistent.path"); v != "" {
		t.Errorf("nonexistent.path = %q, want empty", v)
	}

	// Nil claims
	if v := extractClaimString(nil, "sub"); v != "" {
		t.Errorf("nil claims = %q, want empty", v)
	}
}

func TestClassifyJWTError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{jwt.ErrTokenExpired, "Token expired"},
		{jwt.ErrTokenInvalidIssuer, "Invalid token issuer"},
		{jwt.ErrTokenInvalidAudience, "Invalid token audience"},
		{jwt.ErrTokenRequiredClaimMissing, "Missing required claim"},
		{jwt.ErrTokenUnverifiable, "Unknown signing key"},
		{jwt.ErrTokenSignatureInvalid, "Invalid token signature"},
		{jwt.ErrTokenMalformed, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := classifyJWTError(tt.err); got != tt.want {
				t.Errorf("classifyJWTError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestExtractClaimStringSlice_spaceSeparated(t *testing.T) {
	claims := map[string]any{"scope": "docs:read docs:write"}
	got := extractClaimStringSlice(claims, "scope")
	if len(got) != 2 || got[1] != "docs:write" {
		t.Errorf("scope = %v, want [docs:read docs:write]", got)
	}
}
