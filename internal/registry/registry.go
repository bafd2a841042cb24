// Package registry indexes live client connections per account, tagged with
// their addressing scope. The event router consults it to decide who
// receives an event.
package registry

import "sync"

// Scope is the addressing granularity of one socket.
type Scope int

const (
	// ScopeUser is a connection bound to an account only (mobile/web app).
	ScopeUser Scope = iota
	// ScopeSession is a connection bound to one session on one account.
	ScopeSession
	// ScopeMachine is a connection bound to one daemon machine on one account.
	ScopeMachine
)

// String returns the scope name used in logs and handshake parameters.
func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user-scoped"
	case ScopeSession:
		return "session-scoped"
	case ScopeMachine:
		return "machine-scoped"
	}
	return "unknown"
}

// Sendable is the only capability the router needs from a transport.
type Sendable interface {
	Send(event string, payload any) error
}

// Connection is one authenticated socket. SessionID is set only for
// session-scoped connections, MachineID only for machine-scoped ones.
type Connection struct {
	AccountID string
	Scope     Scope
	SessionID string
	MachineID string
	Socket    Sendable
}

// Send forwards to the underlying transport handle.
func (c *Connection) Send(event string, payload any) error {
	return c.Socket.Send(event, payload)
}

// Registry holds the per-account connection sets. All methods are safe for
// concurrent use; connect and disconnect for one account are serialized by
// the internal lock.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]map[*Connection]struct{}
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{accounts: make(map[string]map[*Connection]struct{})}
}

// Add registers a connection under its account.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.accounts[conn.AccountID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.accounts[conn.AccountID] = set
	}
	set[conn] = struct{}{}
}

// Remove unregisters a connection. Removing the last connection for an
// account also removes the account entry, so the map never leaks empty sets.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.accounts[conn.AccountID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.accounts, conn.AccountID)
	}
}

// Get returns a snapshot of the account's connections. The snapshot is safe
// to iterate while connections come and go.
func (r *Registry) Get(accountID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.accounts[accountID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// FindMachine returns one live machine-scoped connection for the given
// machine id, or nil when the daemon is not connected here.
func (r *Registry) FindMachine(accountID, machineID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.accounts[accountID] {
		if c.Scope == ScopeMachine && c.MachineID == machineID {
			return c
		}
	}
	return nil
}

// FindSession returns one live session-scoped connection for the given
// session id, or nil.
func (r *Registry) FindSession(accountID, sessionID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.accounts[accountID] {
		if c.Scope == ScopeSession && c.SessionID == sessionID {
			return c
		}
	}
	return nil
}

// Count reports the number of live connections for an account.
func (r *Registry) Count(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts[accountID])
}
