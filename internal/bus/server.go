package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/security/signing"
)

const (
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = 60 * time.Second

	maxBodyBytes = 1 << 20
)

// Verifier is satisfied by signing.EnvelopeVerifier.
type Verifier interface {
	Verify(ctx context.Context, payload map[string]any, env signing.Envelope) error
}

type Options struct {
	RateLimit int
	Window    time.Duration
	Clock     clock.Clock
	Audit     audit.Logger
	Metrics   *metrics.Metrics
}

type Server struct {
	verifier Verifier
	clock    clock.Clock
	audit    audit.Logger
	metrics  *metrics.Metrics

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	queue    []Record
	seq      int
}

func NewServer(verifier Verifier, opts Options) *Server {
	s := &Server{
		verifier: verifier,
		clock:    clock.OrSystem(opts.Clock),
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		burst:    opts.RateLimit,
		limiters: make(map[string]*rate.Limiter),
	}
	if s.burst <= 0 {
		s.burst = DefaultRateLimit
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	s.limit = rate.Every(window / time.Duration(s.burst))
	if s.audit == nil {
		s.audit = audit.Nop()
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/inbox/{recipient}", s.handleInbox).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

func (s *Server) allow(sender string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[sender]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[sender] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(s.clock.Now(), 1)
}

// PruneLimiters drops per-sender limiters whose bucket has refilled. A dropped
// sender starts again with a full bucket, which is the state it was in.
func (s *Server) PruneLimiters() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sender, lim := range s.limiters {
		if lim.TokensAt(now) >= float64(s.burst) {
			delete(s.limiters, sender)
			removed++
		}
	}
	return removed
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		s.reject(w, "invalid_body", wardenErrors.InvalidInput("invalid request body"))
		return
	}

	if !s.allow(msg.Sender) {
		s.audit.Security(ctx, audit.SeverityWarning, "rate_limit_exceeded", map[string]any{"sender": msg.Sender, "protocol": msg.Protocol})
		s.reject(w, "rate_limited", wardenErrors.RateLimited(fmt.Sprintf("sender %s exceeded %d messages", msg.Sender, s.burst)))
		return
	}

	env, err := envelopeFromHeaders(r.Header)
	if err != nil {
		s.audit.Security(ctx, audit.SeverityCritical, "missing_signature", map[string]any{"sender": msg.Sender, "protocol": msg.Protocol})
		s.reject(w, "unsigned", err)
		return
	}
	if err := s.verifier.Verify(ctx, msg.signable(), env); err != nil {
		s.audit.Security(ctx, audit.SeverityCritical, "signature_verification_failed", map[string]any{
			"sender": msg.Sender, "protocol": msg.Protocol, "error": err.Error(),
		})
		s.reject(w, "bad_signature", err)
		return
	}

	if err := msg.Validate(); err != nil {
		s.audit.Security(ctx, audit.SeverityWarning, "payload_validation_failed", map[string]any{
			"sender": msg.Sender, "protocol": msg.Protocol, "error": err.Error(),
		})
		s.reject(w, "invalid_payload", err)
		return
	}

	rec := s.enqueue(msg)
	slog.Info("Bus message queued", "id", rec.ID, "sender", rec.Sender, "recipient", rec.Recipient, "protocol", rec.Protocol)
	s.audit.Audit(ctx, "bus_message_queued", map[string]any{"message_id": rec.ID, "sender": rec.Sender, "recipient": rec.Recipient, "protocol": rec.Protocol})
	s.metrics.ObserveBusMessage("queued")
	writeJSON(w, http.StatusOK, SendResult{
		Status:    "success",
		MessageID: rec.ID,
		Recipient: rec.Recipient,
		Protocol:  rec.Protocol,
		Timestamp: rec.Timestamp,
	})
}

func (s *Server) enqueue(msg Message) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := Record{
		ID:        fmt.Sprintf("MSG-%04d", s.seq),
		Timestamp: s.clock.Now().UTC(),
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Protocol:  msg.Protocol,
		TaskID:    msg.TaskID,
		Payload:   msg.Payload,
		Status:    "pending",
	}
	s.queue = append(s.queue, rec)
	return rec
}

// Drain removes and returns every pending message for recipient.
func (s *Server) Drain(recipient string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	kept := s.queue[:0]
	for _, rec := range s.queue {
		if rec.Recipient == recipient {
			rec.Status = "delivered"
			out = append(out, rec)
			continue
		}
		kept = append(kept, rec)
	}
	s.queue = kept
	return out
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	recipient := mux.Vars(r)["recipient"]
	messages := s.Drain(recipient)
	if messages == nil {
		messages = []Record{}
	}
	seen := map[string]bool{}
	protocols := []string{}
	for _, m := range messages {
		if !seen[m.Protocol] {
			seen[m.Protocol] = true
			protocols = append(protocols, m.Protocol)
		}
	}
	sort.Strings(protocols)
	slog.Info("Bus inbox drained", "recipient", recipient, "count", len(messages))
	writeJSON(w, http.StatusOK, Inbox{
		Recipient:    recipient,
		MessageCount: len(messages),
		Protocols:    protocols,
		Messages:     messages,
		Timestamp:    s.clock.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	dist := make(map[string]int)
	for _, rec := range s.queue {
		dist[rec.Protocol]++
	}
	pending := len(s.queue)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, Status{
		Status:               "healthy",
		TotalMessages:        pending,
		PendingMessages:      pending,
		ProtocolDistribution: dist,
		Timestamp:            s.clock.Now().UTC(),
	})
}

func (s *Server) reject(w http.ResponseWriter, outcome string, err error) {
	s.metrics.ObserveBusMessage(outcome)
	writeJSON(w, wardenErrors.HTTPStatus(err), map[string]string{
		"error":    err.Error(),
		"category": wardenErrors.Category(err),
	})
}

func envelopeFromHeaders(h http.Header) (signing.Envelope, error) {
	env := signing.Envelope{Signature: h.Get(HeaderSignature), Nonce: h.Get(HeaderNonce)}
	raw := h.Get(HeaderTimestamp)
	if env.Signature == "" || env.Nonce == "" || raw == "" {
		return env, fmt.Errorf("missing signature, nonce, or timestamp headers: %w", wardenErrors.ErrUnauthenticated)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return env, fmt.Errorf("malformed timestamp header: %w", wardenErrors.ErrUnauthenticated)
	}
	env.Timestamp = ts
	return env, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Warn("Failed to write response", "error", err)
	}
}
