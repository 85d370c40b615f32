package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of tokens minted for middleware requests.
const TokenTTL = 60 * time.Second

// Signer mints short-lived RS256 tokens for outbound middleware calls.
type Signer struct {
	keys *KeySet
	now  func() time.Time
}

func NewSigner(keys *KeySet) *Signer {
	return &Signer{keys: keys, now: time.Now}
}

// Sign returns a token carrying extra plus iat and exp = iat + 60s. A new
// token is produced on every call.
func (s *Signer) Sign(extra map[string]interface{}) (string, error) {
	iat := s.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["iat"] = iat.Unix()
	claims["exp"] = iat.Add(TokenTTL).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.Kid
	signed, err := token.SignedString(s.keys.Private)
	if err != nil {
		return "", fmt.Errorf("signing middleware token: %w", err)
	}
	return signed, nil
}
