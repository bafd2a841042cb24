// Package rpc turns the fire-and-forget relay into a correlated
// request/response channel with per-call payload encryption. The broker
// owns the pending-call table; the caller owns key resolution and crypto.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/registry"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

// Default deadlines. Spawn-class operations (starting a new session on the
// daemon) take far longer than a permission decision.
const (
	DefaultTimeout = 15 * time.Second
	SpawnTimeout   = 45 * time.Second
)

// Envelope is the socket frame for an outbound RPC request: the frozen
// wire request shape plus the id that correlates the eventual ack.
type Envelope struct {
	ID string `json:"id"`
	wire.RPCRequest
}

// Broker matches outbound requests with inbound acknowledgments. Callers
// block on Call; the relay's message loop resolves waits out-of-band via
// HandleAck.
type Broker struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]chan wire.RPCAck
}

// NewBroker constructs an empty Broker.
func NewBroker(log *zap.Logger) *Broker {
	return &Broker{log: log, pending: make(map[string]chan wire.RPCAck)}
}

// Call sends one request on the target connection and waits for its single
// acknowledgment. On timeout the waiter is released and any later ack for
// this id is discarded. A cancelled ack maps to ErrCancelled, ok=false to
// ErrRPCFailed.
func (b *Broker) Call(ctx context.Context, target registry.Sendable, method, params string, timeout time.Duration) (wire.RPCAck, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id, err := uuid.NewV4()
	if err != nil {
		return wire.RPCAck{}, err
	}
	reqID := id.String()

	// buffered so a racing HandleAck never blocks on an abandoned waiter
	ch := make(chan wire.RPCAck, 1)
	b.mu.Lock()
	b.pending[reqID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
	}()

	env := Envelope{ID: reqID, RPCRequest: wire.RPCRequest{Method: method, Params: params}}
	if err := target.Send(wire.EventRPCRequest, env); err != nil {
		return wire.RPCAck{}, fmt.Errorf("send request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if ack.Cancelled {
			return ack, fmt.Errorf("rpc %s: %w", method, errs.ErrCancelled)
		}
		if ack.OK == nil || !*ack.OK {
			return ack, fmt.Errorf("rpc %s: %w", method, errs.ErrRPCFailed)
		}
		return ack, nil
	case <-timer.C:
		return wire.RPCAck{}, fmt.Errorf("rpc %s after %s: %w", method, timeout, errs.ErrTimeout)
	case <-ctx.Done():
		return wire.RPCAck{}, ctx.Err()
	}
}

// HandleAck resolves the waiter for an inbound acknowledgment. Acks whose
// request has already timed out (or was never ours) are dropped with a log
// line only.
func (b *Broker) HandleAck(ack wire.RPCAck) {
	b.mu.Lock()
	ch, ok := b.pending[ack.RequestID]
	if ok {
		delete(b.pending, ack.RequestID)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debug("discarding orphaned rpc ack", zap.String("requestId", ack.RequestID))
		return
	}
	ch <- ack
}

// PendingCount reports in-flight calls, for diagnostics.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
