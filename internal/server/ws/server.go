package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/auth"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/limiter"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/model"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/registry"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/router"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/rpc"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

var errUnknownTarget = errors.New("rpc target must be machine or session")

type presenceTracker interface {
	HandleUserConnect(ctx context.Context, accountID string)
	HandleUserDisconnect(ctx context.Context, accountID string)
}

type kvService interface {
	Get(ctx context.Context, accountID, key string) (*model.KVEntry, error)
	List(ctx context.Context, accountID, prefix string, limit int) ([]model.KVEntry, error)
	BulkGet(ctx context.Context, accountID string, keys []string) ([]model.KVEntry, error)
	Mutate(ctx context.Context, accountID string, muts []model.KVMutation) ([]model.KVEntry, []model.KVConflict, error)
}

type rpcCaller interface {
	MachineRPC(ctx context.Context, accountID, machineID, method string, params []byte, timeout time.Duration) ([]byte, error)
	SessionRPC(ctx context.Context, accountID, sessionID, method string, params []byte, timeout time.Duration) ([]byte, error)
}

// Server upgrades and serves relay websocket connections.
type Server struct {
	tokens   *auth.Tokens
	reg      *registry.Registry
	router   *router.Router
	broker   *rpc.Broker
	caller   rpcCaller
	kv       kvService
	presence presenceTracker
	lim      limiter.Limiter
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs the websocket edge. lim may be nil to disable
// handshake rate limiting.
func NewServer(tokens *auth.Tokens, reg *registry.Registry, rt *router.Router, broker *rpc.Broker, caller rpcCaller, kvSvc kvService, presence presenceTracker, lim limiter.Limiter, log *zap.Logger) *Server {
	return &Server{
		tokens:   tokens,
		reg:      reg,
		router:   rt,
		broker:   broker,
		caller:   caller,
		kv:       kvSvc,
		presence: presence,
		lim:      lim,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the handshake, classifies the connection scope
// from the query, and runs the message loop until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ipKey := s.sourceKey(r)
	if s.lim != nil {
		allowed, retry, err := s.lim.Allow(r.Context(), ipKey)
		if err != nil {
			// fail open: the limiter protects against brute force, it must
			// not take the relay down with it
			s.log.Warn("handshake limiter unavailable", zap.Error(err))
		} else if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			http.Error(w, "too many failed handshakes", http.StatusTooManyRequests)
			return
		}
	}

	accountID, err := s.tokens.Verify(q.Get("token"))
	if err != nil {
		if s.lim != nil {
			_ = s.lim.Failure(r.Context(), ipKey)
		}
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if s.lim != nil {
		_ = s.lim.Success(r.Context(), ipKey)
	}

	conn := &registry.Connection{AccountID: accountID.String()}
	switch q.Get("clientType") {
	case "", "user-scoped":
		conn.Scope = registry.ScopeUser
	case "session-scoped":
		conn.Scope = registry.ScopeSession
		conn.SessionID = q.Get("sessionId")
		if conn.SessionID == "" {
			http.Error(w, "sessionId required", http.StatusBadRequest)
			return
		}
	case "machine-scoped":
		conn.Scope = registry.ScopeMachine
		conn.MachineID = q.Get("machineId")
		if conn.MachineID == "" {
			http.Error(w, "machineId required", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "unknown clientType", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sock := newSocket(wsConn)
	conn.Socket = sock

	log := s.log.With(
		zap.String("account_id", conn.AccountID),
		zap.String("scope", conn.Scope.String()),
	)

	s.reg.Add(conn)
	s.presence.HandleUserConnect(r.Context(), conn.AccountID)
	log.Info("connection opened")

	pingDone := make(chan struct{})
	go s.pingLoop(sock, pingDone)

	s.readLoop(r.Context(), conn, sock, log)

	close(pingDone)
	s.reg.Remove(conn)
	s.presence.HandleUserDisconnect(context.WithoutCancel(r.Context()), conn.AccountID)
	sock.close()
	log.Info("connection closed")
}

func (s *Server) sourceKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return limiter.HashIP(host)
}

func (s *Server) pingLoop(sock *socket, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := sock.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *registry.Connection, sock *socket, log *zap.Logger) {
	sock.conn.SetReadLimit(maxMessageSize)
	_ = sock.conn.SetReadDeadline(time.Now().Add(pongWait))
	sock.conn.SetPongHandler(func(string) error {
		return sock.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sock.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, conn, sock, raw, log)
	}
}

// dispatch handles one inbound frame. A panic in a handler drops the frame,
// not the connection.
func (s *Server) dispatch(ctx context.Context, conn *registry.Connection, sock *socket, raw []byte, log *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("frame handler panicked", zap.Any("panic", rec))
		}
	}()

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn("undecodable frame", zap.Error(err))
		return
	}

	switch f.Event {
	case wire.EventUpdate:
		s.handleUpdate(ctx, conn, f.Data, log)
	case wire.EventEphemeral:
		s.handleEphemeral(conn, f.Data, log)
	case "rpc-ack":
		var ack wire.RPCAck
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			log.Warn("undecodable rpc ack", zap.Error(err))
			return
		}
		s.broker.HandleAck(ack)
	case "rpc-call":
		// runs outside the read loop so a slow remote cannot stall the socket
		go s.handleRPCCall(ctx, conn, sock, f.Data, log)
	case "kv":
		go s.handleKV(ctx, conn, sock, f.Data, log)
	default:
		log.Debug("unknown event", zap.String("event", f.Event))
	}
}

// handleUpdate persists and fans out a client-originated update. The filter
// follows the body's addressing: session bodies reach everyone interested in
// the session, machine bodies reach the machine and user clients, account
// level bodies reach every connection.
func (s *Server) handleUpdate(ctx context.Context, conn *registry.Connection, body json.RawMessage, log *zap.Logger) {
	var probe struct {
		T         string `json:"t"`
		ID        string `json:"id"`
		SID       string `json:"sid"`
		MachineID string `json:"machineId"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.T == "" {
		log.Warn("update body rejected", zap.Error(err))
		return
	}

	var filter router.Filter
	switch probe.T {
	case wire.BodyNewMessage, wire.BodyDeleteSession:
		filter = router.AllInterestedInSession(probe.SID)
	case wire.BodyUpdateSession:
		filter = router.AllInterestedInSession(probe.ID)
	case wire.BodyUpdateMachine:
		filter = router.MachineScopedOnly(probe.MachineID)
	case wire.BodyNewSession, wire.BodyUpdateAccount, wire.BodyRelationshipUpdated:
		filter = router.AllConnections()
	default:
		// kv batches and anything unrecognized are server-origin only
		log.Warn("update body tag not accepted from clients", zap.String("tag", probe.T))
		return
	}

	if _, err := s.router.EmitUpdate(ctx, router.UpdateOptions{
		AccountID:  conn.AccountID,
		Body:       body,
		Filter:     filter,
		SkipSender: conn,
	}); err != nil {
		log.Error("update emit failed", zap.String("tag", probe.T), zap.Error(err))
	}
}

func (s *Server) handleEphemeral(conn *registry.Connection, data json.RawMessage, log *zap.Logger) {
	var ev wire.EphemeralEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn("undecodable ephemeral", zap.Error(err))
		return
	}

	var filter router.Filter
	switch ev.Type {
	case wire.EphemeralActivity:
		filter = router.AllInterestedInSession(ev.SessionID)
	case wire.EphemeralUsage:
		filter = router.UserScopedOnly()
	default:
		// friend-status is server-origin only
		log.Warn("ephemeral type not accepted from clients", zap.String("type", ev.Type))
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = wire.Now()
	}

	s.router.EmitEphemeral(router.EphemeralOptions{
		AccountID:  conn.AccountID,
		Event:      ev,
		Filter:     filter,
		SkipSender: conn,
	})
}

// rpcCallRequest is the client's ask to relay an encrypted call to one of
// its own machines or sessions.
type rpcCallRequest struct {
	ID        string          `json:"id"`
	Target    string          `json:"target"` // "machine" or "session"
	TargetID  string          `json:"targetId"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	TimeoutMS int64           `json:"timeoutMs,omitempty"`
}

type rpcCallResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) handleRPCCall(ctx context.Context, conn *registry.Connection, sock *socket, data json.RawMessage, log *zap.Logger) {
	var req rpcCallRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn("undecodable rpc call", zap.Error(err))
		return
	}

	timeout := rpc.DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		if timeout > rpc.SpawnTimeout {
			timeout = rpc.SpawnTimeout
		}
	}

	var (
		result []byte
		err    error
	)
	switch req.Target {
	case "machine":
		result, err = s.caller.MachineRPC(ctx, conn.AccountID, req.TargetID, req.Method, req.Params, timeout)
	case "session":
		result, err = s.caller.SessionRPC(ctx, conn.AccountID, req.TargetID, req.Method, req.Params, timeout)
	default:
		err = errUnknownTarget
	}

	resp := rpcCallResult{ID: req.ID}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}
	if serr := sock.Send("rpc-result", resp); serr != nil {
		log.Warn("rpc result send failed", zap.String("method", req.Method), zap.Error(serr))
	}
}

// kvRequest carries one key/value operation over the socket.
type kvRequest struct {
	ID        string       `json:"id"`
	Op        string       `json:"op"` // get, list, bulk-get, mutate
	Key       string       `json:"key,omitempty"`
	Prefix    string       `json:"prefix,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Keys      []string     `json:"keys,omitempty"`
	Mutations []kvMutation `json:"mutations,omitempty"`
}

type kvMutation struct {
	Key             string  `json:"key"`
	Value           *string `json:"value"`
	ExpectedVersion int64   `json:"expectedVersion"`
}

type kvEntry struct {
	Key     string  `json:"key"`
	Value   *string `json:"value"`
	Version int64   `json:"version"`
}

type kvResult struct {
	ID        string    `json:"id"`
	Entry     *kvEntry  `json:"entry,omitempty"`
	Entries   []kvEntry `json:"entries,omitempty"`
	Applied   []kvEntry `json:"applied,omitempty"`
	Conflicts []kvEntry `json:"conflicts,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (s *Server) handleKV(ctx context.Context, conn *registry.Connection, sock *socket, data json.RawMessage, log *zap.Logger) {
	var req kvRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn("undecodable kv request", zap.Error(err))
		return
	}

	res := kvResult{ID: req.ID}
	switch req.Op {
	case "get":
		entry, err := s.kv.Get(ctx, conn.AccountID, req.Key)
		if err != nil {
			res.Error = err.Error()
		} else if entry != nil {
			res.Entry = &kvEntry{Key: entry.Key, Value: entry.Value, Version: entry.Version}
		}
	case "list":
		entries, err := s.kv.List(ctx, conn.AccountID, req.Prefix, req.Limit)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Entries = toKVEntries(entries)
		}
	case "bulk-get":
		entries, err := s.kv.BulkGet(ctx, conn.AccountID, req.Keys)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Entries = toKVEntries(entries)
		}
	case "mutate":
		muts := make([]model.KVMutation, 0, len(req.Mutations))
		for _, m := range req.Mutations {
			muts = append(muts, model.KVMutation{Key: m.Key, Value: m.Value, ExpectedVersion: m.ExpectedVersion})
		}
		applied, conflicts, err := s.kv.Mutate(ctx, conn.AccountID, muts)
		for _, c := range conflicts {
			res.Conflicts = append(res.Conflicts, kvEntry{Key: c.Key, Value: c.Value, Version: c.Version})
		}
		if err != nil && len(res.Conflicts) == 0 {
			res.Error = err.Error()
		}
		res.Applied = toKVEntries(applied)
	default:
		res.Error = "unknown kv op " + req.Op
	}

	if err := sock.Send("kv-result", res); err != nil {
		log.Warn("kv result send failed", zap.String("op", req.Op), zap.Error(err))
	}
}

func toKVEntries(entries []model.KVEntry) []kvEntry {
	out := make([]kvEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, kvEntry{Key: e.Key, Value: e.Value, Version: e.Version})
	}
	return out
}
