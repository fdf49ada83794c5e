package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the subset of the identity provider's session token the service
// relies on. Sub is the coach's user id; every query is scoped by it.
type Claims struct {
	Sub             string `json:"sub"`
	SessionID       string `json:"sid,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	Exp             int64  `json:"exp"`
	Nbf             int64  `json:"nbf,omitempty"`
	Iat             int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// clockSkew tolerates small clock differences between us and the issuer.
const clockSkew = 30 * time.Second

func (c *Claims) validAt(now time.Time) bool {
	if c.Sub == "" {
		return false
	}
	if c.Exp > 0 && now.Add(-clockSkew).Unix() > c.Exp {
		return false
	}
	if c.Nbf > 0 && now.Add(clockSkew).Unix() < c.Nbf {
		return false
	}
	return true
}

func ParseHeader(token string) (*Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	var header Header
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	return &header, nil
}

// SignHS256 issues a development token; production tokens come from the
// identity provider.
func SignHS256(claims Claims, secret string) (string, error) {
	unsigned, err := unsignedToken(Header{Alg: "HS256", Typ: "JWT"}, claims)
	if err != nil {
		return "", err
	}
	return unsigned + "." + hmacSHA256(unsigned, secret), nil
}

func ParseAndVerifyHS256(token, secret string, now time.Time) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || secret == "" {
		return nil, ErrInvalidToken
	}
	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(hmacSHA256(unsigned, secret))) {
		return nil, ErrInvalidToken
	}
	return claimsFrom(parts[1], now)
}

func VerifyRS256(token string, pubKey *rsa.PublicKey, now time.Time) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || pubKey == nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hash[:], sig); err != nil {
		return nil, ErrInvalidToken
	}
	return claimsFrom(parts[1], now)
}

func claimsFrom(segment string, now time.Time) (*Claims, error) {
	var claims Claims
	if err := decodeSegment(segment, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if !claims.validAt(now) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func decodeSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func unsignedToken(header Header, claims Claims) (string, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON), nil
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
