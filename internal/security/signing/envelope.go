package signing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

// Envelope carries the headers of an inter-process signed message.
type Envelope struct {
	Signature string
	Nonce     string
	Timestamp int64
}

// NonceStore reports whether a nonce was already used and records it otherwise.
type NonceStore interface {
	CheckAndMark(key string, ttl time.Duration) bool
}

func envelopeMessage(payload map[string]any, nonce string, timestamp int64) string {
	return Canonical(payload) + "\n" + nonce + "\n" + strconv.FormatInt(timestamp, 10)
}

// SignEnvelope binds payload to a nonce and a unix timestamp.
func (s *Service) SignEnvelope(payload map[string]any, nonce string, at time.Time) Envelope {
	ts := at.Unix()
	return Envelope{
		Signature: s.Sign(envelopeMessage(payload, nonce, ts)),
		Nonce:     nonce,
		Timestamp: ts,
	}
}

type EnvelopeVerifier struct {
	service *Service
	nonces  NonceStore
	window  time.Duration
	clock   clock.Clock
}

func NewEnvelopeVerifier(service *Service, nonces NonceStore, window time.Duration, c clock.Clock) *EnvelopeVerifier {
	return &EnvelopeVerifier{
		service: service,
		nonces:  nonces,
		window:  window,
		clock:   clock.OrSystem(c),
	}
}

// Verify checks freshness, signature and nonce uniqueness, in that order.
// The nonce is only consumed once the signature is known to be valid.
func (v *EnvelopeVerifier) Verify(ctx context.Context, payload map[string]any, env Envelope) error {
	if env.Signature == "" || env.Nonce == "" || env.Timestamp == 0 {
		return fmt.Errorf("missing signature, nonce, or timestamp: %w", wardenErrors.ErrInvalidSignature)
	}

	age := v.clock.Now().Sub(time.Unix(env.Timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > v.window {
		v.service.audit.Security(ctx, audit.SeverityWarning, "stale_message_rejected", map[string]any{
			"nonce":     env.Nonce,
			"timestamp": env.Timestamp,
		})
		return fmt.Errorf("timestamp outside %s window: %w", v.window, wardenErrors.ErrReplay)
	}

	if !v.service.Verify(envelopeMessage(payload, env.Nonce, env.Timestamp), env.Signature) {
		return fmt.Errorf("envelope: %w", wardenErrors.ErrInvalidSignature)
	}

	if v.nonces.CheckAndMark("nonce:"+env.Nonce, 2*v.window) {
		v.service.audit.Security(ctx, audit.SeverityCritical, "nonce_reuse_detected", map[string]any{
			"nonce": env.Nonce,
		})
		return fmt.Errorf("nonce %q already used: %w", env.Nonce, wardenErrors.ErrReplay)
	}
	return nil
}
