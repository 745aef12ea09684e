package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

// JWKSClient serves signing keys from an identity provider's key set.
// Keys are refetched once the set is older than ttl or a kid is missing,
// but never more often than minRefresh. Concurrent refetches share one
// request.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	logger     *zap.Logger

	current atomic.Pointer[keySet]
	fetches singleflight.Group
}

type keySet struct {
	keys    map[string]crypto.PublicKey
	fetched time.Time
}

func (s *keySet) lookup(kid string) (crypto.PublicKey, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// NewJWKSClient returns a client for the key set at url. logger may be nil.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// GetKey returns the verification key for kid. When the provider cannot be
// reached a previously fetched key is still served.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	cached := c.current.Load()
	if k, ok := cached.lookup(kid); ok && time.Since(cached.fetched) <= c.ttl {
		return k, nil
	}

	fresh, err := c.refresh(cached)
	if err != nil {
		if k, ok := cached.lookup(kid); ok {
			c.logger.Warn("jwks refresh failed, serving cached key", zap.String("kid", kid), zap.Error(err))
			return k, nil
		}
		return nil, fmt.Errorf("jwks: refreshing key set: %w", err)
	}
	if k, ok := fresh.lookup(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("jwks: no key with kid %q", kid)
}

func (c *JWKSClient) refresh(cached *keySet) (*keySet, error) {
	if cached != nil && len(cached.keys) > 0 && time.Since(cached.fetched) < c.minRefresh {
		return cached, nil
	}
	v, err, _ := c.fetches.Do(c.url, func() (any, error) {
		set, err := c.fetch()
		if err != nil {
			return nil, err
		}
		c.current.Store(set)
		c.logger.Debug("jwks refreshed", zap.Int("keys", len(set.keys)))
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

func (c *JWKSClient) fetch() (*keySet, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}

	set := &keySet{keys: make(map[string]crypto.PublicKey, len(doc.Keys)), fetched: time.Now()}
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		key, err := k.publicKey()
		switch {
		case errors.Is(err, errUnsupportedKeyType):
		case err != nil:
			c.logger.Warn("jwks key skipped", zap.String("kid", k.Kid), zap.Error(err))
		default:
			set.keys[k.Kid] = key
		}
	}
	return set, nil
}

var errUnsupportedKeyType = errors.New("unsupported key type")

// jsonWebKey holds the RFC 7517 members used for RSA and EC signature keys.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		return k.rsaKey()
	case "EC":
		return k.ecKey()
	}
	return nil, errUnsupportedKeyType
}

func (k jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("missing n or e")
	}
	n, err := decodeSegment("n", k.N)
	if err != nil {
		return nil, err
	}
	e, err := decodeSegment("e", k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func (k jsonWebKey) ecKey() (*ecdsa.PublicKey, error) {
	if k.Crv == "" || k.X == "" || k.Y == "" {
		return nil, errors.New("missing crv, x, or y")
	}
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	x, err := decodeSegment("x", k.X)
	if err != nil {
		return nil, err
	}
	y, err := decodeSegment("y", k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeSegment(name, v string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// JWTAuthenticator verifies the bearer token against the JWKS keys and the
// configured issuer and audience, then stores its claims in the context.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return jwks.GetKey(kid)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFor)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}
			if !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", model.NewUnauthorizedError("Missing authorization header")
	}
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return "", model.NewUnauthorizedError("Invalid authorization header format")
	}
	return raw, nil
}

// classifyJWTError maps a verification failure to a client-facing message.
func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Missing required claim"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	case strings.Contains(err.Error(), "signing method"):
		return "Disallowed signing algorithm"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}
