// Package transport builds request envelopes, moves them to the remote API
// over a Wire, and normalizes the replies.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
)

// DefaultCallTimeout bounds a single round trip unless configured otherwise.
const DefaultCallTimeout = 30 * time.Second

// Wire moves one encoded envelope to the server and returns the raw reply.
type Wire interface {
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// TokenSource supplies the session token attached to outgoing envelopes.
type TokenSource interface {
	Token() string
}

// Sender is implemented by Envelope and by test doubles.
type Sender interface {
	Send(ctx context.Context, op protocol.Operation, fields protocol.Fields) (*protocol.Response, error)
}

// Config holds envelope configuration.
type Config struct {
	Wire        Wire
	Tokens      TokenSource
	CallTimeout time.Duration // 0 uses DefaultCallTimeout, negative disables
}

// Envelope sends operations to a single endpoint.
type Envelope struct {
	wire    Wire
	timeout time.Duration
	lastID  atomic.Int64

	mu     sync.RWMutex
	tokens TokenSource
}

// New creates an envelope sender.
func New(cfg Config) *Envelope {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &Envelope{
		wire:    cfg.Wire,
		timeout: timeout,
		tokens:  cfg.Tokens,
	}
}

// SetTokenSource sets where the session token is read from.
func (e *Envelope) SetTokenSource(ts TokenSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = ts
}

func (e *Envelope) token() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tokens == nil {
		return ""
	}
	return e.tokens.Token()
}

// Close releases the underlying wire.
func (e *Envelope) Close() error {
	return e.wire.Close()
}

// nextRequestID returns a nanosecond timestamp, bumped so that ids handed out
// by one envelope are strictly increasing.
func (e *Envelope) nextRequestID() string {
	for {
		last := e.lastID.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if e.lastID.CompareAndSwap(last, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}

// Send issues one operation. A reply with status "error" is returned as a
// payload with a nil error; only failures that produced no server opinion are
// returned as *Error.
func (e *Envelope) Send(ctx context.Context, op protocol.Operation, fields protocol.Fields) (*protocol.Response, error) {
	req := protocol.Request{
		Operation: op,
		RequestID: e.nextRequestID(),
		Token:     e.token(),
		Fields:    fields,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("encode envelope: %w", err)}
	}

	ctx = logging.WithRequestID(ctx, req.RequestID)
	log := logging.WithContext(ctx)

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := e.wire.Exchange(callCtx, payload)
	if err != nil {
		if isTimeout(callCtx, err) {
			metrics.RecordEnvelope(string(op), metrics.OutcomeTimeout, time.Since(start))
			log.Warn("envelope timed out", logging.String("operation", string(op)), logging.Duration("timeout", e.timeout))
			return nil, &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
		}
		metrics.RecordEnvelope(string(op), metrics.OutcomeTransport, time.Since(start))
		log.Warn("envelope failed", logging.String("operation", string(op)), logging.Err(err))
		return nil, &Error{Op: op, Err: err}
	}

	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.RecordEnvelope(string(op), metrics.OutcomeTransport, time.Since(start))
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
	}
	if !resp.Valid() {
		metrics.RecordEnvelope(string(op), metrics.OutcomeTransport, time.Since(start))
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: status %q", ErrMalformedResponse, resp.Status)}
	}

	outcome := metrics.OutcomeSuccess
	if !resp.OK() {
		outcome = metrics.OutcomeAPIError
	}
	metrics.RecordEnvelope(string(op), outcome, time.Since(start))
	log.Debug("envelope done",
		logging.String("operation", string(op)),
		logging.String("status", resp.Status),
		logging.String("error", resp.Error),
		logging.Duration("duration", time.Since(start)),
	)
	return &resp, nil
}

func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
