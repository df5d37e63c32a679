// Package signing provides HMAC-SHA256 signatures over canonical payloads.
package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/harunnryd/warden/internal/audit"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

// SignedMessage is a payload plus the hex HMAC of its canonical form.
type SignedMessage struct {
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
}

type Service struct {
	secret []byte
	audit  audit.Logger
}

func NewService(secret string, auditLog audit.Logger) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("hmac secret is required")
	}
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Service{secret: []byte(secret), audit: auditLog}, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of message.
func (s *Service) Sign(message string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *Service) Verify(message, signature string) bool {
	expected := s.Sign(message)
	if hmac.Equal([]byte(expected), []byte(signature)) {
		return true
	}
	s.audit.Security(context.Background(), audit.SeverityCritical, "signature_verification_failed", map[string]any{
		"message_length": len(message),
	})
	return false
}

func (s *Service) Wrap(payload map[string]any) SignedMessage {
	return SignedMessage{
		Payload:   payload,
		Signature: s.Sign(Canonical(payload)),
	}
}

func (s *Service) Unwrap(msg SignedMessage) (map[string]any, error) {
	if !s.Verify(Canonical(msg.Payload), msg.Signature) {
		return nil, fmt.Errorf("unwrap signed message: %w", wardenErrors.ErrInvalidSignature)
	}
	return msg.Payload, nil
}
