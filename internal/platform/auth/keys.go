package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/labstack/echo/v4"
)

// JWKSKey represents a single JSON Web Key. The private members are only
// populated in the process key set loaded from JWKS_BASE64.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`

	D  string `json:"d,omitempty"`
	P  string `json:"p,omitempty"`
	Q  string `json:"q,omitempty"`
	DP string `json:"dp,omitempty"`
	DQ string `json:"dq,omitempty"`
	QI string `json:"qi,omitempty"`
}

// JWKSResponse represents a JWK set document.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// KeySet is the process-wide signing key. It is immutable after boot.
type KeySet struct {
	Kid     string
	Private *rsa.PrivateKey
}

// LoadKeySet decodes a base64 JWK set and returns its first RSA private key.
func LoadKeySet(b64 string) (*KeySet, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding JWKS_BASE64: %w", err)
	}
	var jwks JWKSResponse
	if err := json.Unmarshal(raw, &jwks); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.D == "" {
			continue
		}
		priv, err := parseRSAPrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.Kid, err)
		}
		kid := k.Kid
		if kid == "" {
			kid = thumbprint(&priv.PublicKey)
		}
		return &KeySet{Kid: kid, Private: priv}, nil
	}
	return nil, fmt.Errorf("JWKS contains no RSA private key")
}

// GenerateKeySet creates a fresh RSA key set.
func GenerateKeySet(bits int) (*KeySet, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return &KeySet{Kid: thumbprint(&priv.PublicKey), Private: priv}, nil
}

// Encode renders the key set, private members included, as base64 JSON
// suitable for JWKS_BASE64.
func (k *KeySet) Encode() (string, error) {
	priv := k.Private
	priv.Precompute()
	jwk := k.publicJWK()
	jwk.D = b64(priv.D)
	jwk.P = b64(priv.Primes[0])
	jwk.Q = b64(priv.Primes[1])
	jwk.DP = b64(priv.Precomputed.Dp)
	jwk.DQ = b64(priv.Precomputed.Dq)
	jwk.QI = b64(priv.Precomputed.Qinv)

	raw, err := json.Marshal(JWKSResponse{Keys: []JWKSKey{jwk}})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Public returns the public half as a JWK set document.
func (k *KeySet) Public() JWKSResponse {
	return JWKSResponse{Keys: []JWKSKey{k.publicJWK()}}
}

func (k *KeySet) publicJWK() JWKSKey {
	pub := k.Private.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: k.Kid,
		Use: "sig",
		Alg: "RS256",
		N:   b64(pub.N),
		E:   b64(big.NewInt(int64(pub.E))),
	}
}

// OpenIDConfigHandler publishes the public JWKS so middlewares can verify
// Care_Bearer tokens.
func OpenIDConfigHandler(keys *KeySet) echo.HandlerFunc {
	doc := keys.Public()
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "public, max-age=300")
		return c.JSON(http.StatusOK, doc)
	}
}

// parseRSAPublicKey converts a JWKSKey to an *rsa.PublicKey.
func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	n, err := decodeBig(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := decodeBig(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseRSAPrivateKey(k JWKSKey) (*rsa.PrivateKey, error) {
	pub, err := parseRSAPublicKey(k)
	if err != nil {
		return nil, err
	}
	d, err := decodeBig(k.D)
	if err != nil {
		return nil, fmt.Errorf("decoding private exponent: %w", err)
	}
	priv := &rsa.PrivateKey{PublicKey: *pub, D: d}
	if k.P != "" && k.Q != "" {
		p, err := decodeBig(k.P)
		if err != nil {
			return nil, fmt.Errorf("decoding p: %w", err)
		}
		q, err := decodeBig(k.Q)
		if err != nil {
			return nil, fmt.Errorf("decoding q: %w", err)
		}
		priv.Primes = []*big.Int{p, q}
	}
	if len(priv.Primes) == 0 {
		return nil, fmt.Errorf("private key is missing its primes")
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	priv.Precompute()
	return priv, nil
}

func decodeBig(s string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func b64(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

func thumbprint(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
