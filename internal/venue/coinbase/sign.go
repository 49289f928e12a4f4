package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// signer produces the CB-ACCESS-* headers for an API key pair. The
// signature covers timestamp + method + path + body; the query string is
// excluded per the API contract.
type signer struct {
	key    string
	secret []byte
}

func newSigner(key, secret string) (*signer, error) {
	key = strings.TrimSpace(key)
	secret = strings.TrimSpace(secret)
	if key == "" || secret == "" {
		return nil, errors.New("api key and secret are required")
	}
	return &signer{key: key, secret: []byte(secret)}, nil
}

func (s *signer) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp + method + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}
