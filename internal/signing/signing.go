// Package signing implements HMAC-signed, expiring links for preview and
// download endpoints.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer generates and validates expiring signatures over a record identity.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from a shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for a record id and unix expiry.
func (s *Signer) Sign(recordID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", recordID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery builds the query fragment for a link valid for ttl.
func (s *Signer) SignedQuery(recordID string, ttl time.Duration) string {
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("id=%s&expires=%d&sig=%s", recordID, expires, s.Sign(recordID, expires))
}

// Validate checks a signature and rejects expired links. Comparison is
// constant time.
func (s *Signer) Validate(recordID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > exp {
		return false
	}
	expected := s.Sign(recordID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
