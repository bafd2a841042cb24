// Package router decides, per outbound event, which registered connections
// receive it, and performs best-effort delivery. Durable updates are
// persisted (and sequenced) before any socket sees them; ephemerals go
// straight out.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/registry"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

// UpdateStore persists an update body and allocates its per-account
// sequence number. Implemented by the Postgres update repository.
type UpdateStore interface {
	Append(ctx context.Context, accountID string, body json.RawMessage, createdAt int64) (id string, seq int64, err error)
}

type filterKind int

const (
	filterAll filterKind = iota
	filterSessionInterested
	filterUserOnly
	filterMachineOnly
)

// Filter selects which of an account's connections receive an event.
// The zero value delivers to all authenticated connections.
type Filter struct {
	kind      filterKind
	sessionID string
	machineID string
}

// AllConnections delivers to every connection for the account.
func AllConnections() Filter { return Filter{kind: filterAll} }

// AllInterestedInSession delivers to user-scoped connections and to
// session-scoped connections whose session matches. Machine-scoped
// connections never match.
func AllInterestedInSession(sessionID string) Filter {
	return Filter{kind: filterSessionInterested, sessionID: sessionID}
}

// UserScopedOnly delivers to user-scoped connections only.
func UserScopedOnly() Filter { return Filter{kind: filterUserOnly} }

// MachineScopedOnly delivers to user-scoped connections and to the
// machine-scoped connection whose machine matches. Session-scoped
// connections never match.
func MachineScopedOnly(machineID string) Filter {
	return Filter{kind: filterMachineOnly, machineID: machineID}
}

func (f Filter) matches(c *registry.Connection) bool {
	switch f.kind {
	case filterSessionInterested:
		switch c.Scope {
		case registry.ScopeUser:
			return true
		case registry.ScopeSession:
			return c.SessionID == f.sessionID
		default:
			return false
		}
	case filterUserOnly:
		return c.Scope == registry.ScopeUser
	case filterMachineOnly:
		switch c.Scope {
		case registry.ScopeUser:
			return true
		case registry.ScopeMachine:
			return c.MachineID == f.machineID
		default:
			return false
		}
	default:
		return true
	}
}

// Router fans events out to registered connections.
type Router struct {
	reg     *registry.Registry
	updates UpdateStore
	log     *zap.Logger
}

// New constructs a Router.
func New(reg *registry.Registry, updates UpdateStore, log *zap.Logger) *Router {
	return &Router{reg: reg, updates: updates, log: log}
}

// UpdateOptions parameterize one durable emit.
type UpdateOptions struct {
	AccountID string
	Body      json.RawMessage
	Filter    Filter
	// SkipSender, when set, is excluded from delivery regardless of filter.
	SkipSender *registry.Connection
}

// EmitUpdate persists the body, assigns id and sequence, and delivers the
// envelope to every matching connection. The persisted envelope is returned
// so callers can include it in their own response.
func (r *Router) EmitUpdate(ctx context.Context, opts UpdateOptions) (*wire.UpdateEvent, error) {
	if _, err := wire.BodyTag(opts.Body); err != nil {
		return nil, err
	}
	createdAt := wire.Now()
	id, seq, err := r.updates.Append(ctx, opts.AccountID, opts.Body, createdAt)
	if err != nil {
		return nil, fmt.Errorf("persist update: %w", err)
	}
	ev := &wire.UpdateEvent{ID: id, Seq: seq, Body: opts.Body, CreatedAt: createdAt}
	r.deliver(opts.AccountID, wire.EventUpdate, ev, opts.Filter, opts.SkipSender)
	return ev, nil
}

// EphemeralOptions parameterize one fire-and-forget emit.
type EphemeralOptions struct {
	AccountID  string
	Event      wire.EphemeralEvent
	Filter     Filter
	SkipSender *registry.Connection
}

// EmitEphemeral delivers without persistence or sequencing.
func (r *Router) EmitEphemeral(opts EphemeralOptions) {
	r.deliver(opts.AccountID, wire.EventEphemeral, opts.Event, opts.Filter, opts.SkipSender)
}

// deliver performs one best-effort send per matching connection. Failures
// are isolated per socket: a dead connection only loses its own copy.
func (r *Router) deliver(accountID, event string, payload any, f Filter, skip *registry.Connection) {
	conns := r.reg.Get(accountID)
	if len(conns) == 0 {
		r.log.Debug("no connections for account, dropping event",
			zap.String("account", accountID),
			zap.String("event", event),
		)
		return
	}
	sent := 0
	for _, c := range conns {
		if c == skip || !f.matches(c) {
			continue
		}
		if err := c.Send(event, payload); err != nil {
			r.log.Warn("send failed",
				zap.String("account", accountID),
				zap.String("scope", c.Scope.String()),
				zap.String("event", event),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	r.log.Debug("event delivered",
		zap.String("account", accountID),
		zap.String("event", event),
		zap.Int("recipients", sent),
	)
}
