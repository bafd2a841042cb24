package rpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/crypto/bundle"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/registry"
)

// KeyDirectory resolves the key material a call target requires. Machine
// targets expose an X25519 public key; session targets may carry a
// per-session data-encryption key (absent for sessions created before key
// versioning).
type KeyDirectory interface {
	MachinePublicKey(ctx context.Context, accountID, machineID string) ([]byte, error)
	SessionDataKey(ctx context.Context, accountID, sessionID string) (dek []byte, dekID string, err error)
}

// Caller issues encrypted RPCs to machines and sessions through the broker.
// Shared keys are derived once per machine and session crypto is memoized
// by (sessionID, dekID), so repeated calls skip the key-derivation cost.
type Caller struct {
	broker  *Broker
	reg     *registry.Registry
	keys    KeyDirectory
	log     *zap.Logger
	privKey []byte
	master  []byte

	mu             sync.Mutex
	machineCiphers map[string]*bundle.Cipher // machineID -> derived-key cipher
	sessionSealers map[string]bundle.Sealer  // sessionID+"\x00"+dekID
}

// NewCaller constructs a Caller. privateKey is this party's X25519 private
// key for machine key agreement; masterSecret keys the legacy cipher for
// sessions without a data-encryption key.
func NewCaller(broker *Broker, reg *registry.Registry, keys KeyDirectory, privateKey, masterSecret []byte, log *zap.Logger) *Caller {
	return &Caller{
		broker:         broker,
		reg:            reg,
		keys:           keys,
		log:            log,
		privKey:        privateKey,
		master:         masterSecret,
		machineCiphers: make(map[string]*bundle.Cipher),
		sessionSealers: make(map[string]bundle.Sealer),
	}
}

// MachineRPC calls a method on a connected daemon machine. Params are
// sealed under the machine's derived shared key; the ack result is opened
// with the same key. The machine must be connected to this relay process.
func (c *Caller) MachineRPC(ctx context.Context, accountID, machineID, method string, params []byte, timeout time.Duration) ([]byte, error) {
	conn := c.reg.FindMachine(accountID, machineID)
	if conn == nil {
		return nil, fmt.Errorf("machine %s: %w", machineID, errs.ErrNotFound)
	}
	cipher, err := c.machineCipher(ctx, accountID, machineID)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, conn, machineID+":"+method, cipher, params, timeout)
}

// SessionRPC calls a method on a running session. Crypto is selected by the
// session's key material: an AES-GCM bundle cipher keyed by its
// data-encryption key when one exists, else the legacy cipher keyed by the
// master secret.
func (c *Caller) SessionRPC(ctx context.Context, accountID, sessionID, method string, params []byte, timeout time.Duration) ([]byte, error) {
	conn := c.reg.FindSession(accountID, sessionID)
	if conn == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
	}
	sealer, err := c.sessionSealer(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, conn, sessionID+":"+method, sealer, params, timeout)
}

// call runs the shared encrypt -> request -> decrypt pipeline. A response
// that cannot be decrypted is a hard failure: garbage is never returned.
func (c *Caller) call(ctx context.Context, conn *registry.Connection, method string, sealer bundle.Sealer, params []byte, timeout time.Duration) ([]byte, error) {
	sealed, err := sealer.Encrypt(params)
	if err != nil {
		return nil, fmt.Errorf("encrypt params: %w", err)
	}
	ack, err := c.broker.Call(ctx, conn, method, base64.StdEncoding.EncodeToString(sealed), timeout)
	if err != nil {
		return nil, err
	}
	if ack.Result == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(ack.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt RPC response: %w", errs.ErrDecryptionFailed)
	}
	result, err := sealer.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt RPC response: %w", err)
	}
	return result, nil
}

func (c *Caller) machineCipher(ctx context.Context, accountID, machineID string) (*bundle.Cipher, error) {
	c.mu.Lock()
	cached, ok := c.machineCiphers[machineID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}
	pub, err := c.keys.MachinePublicKey(ctx, accountID, machineID)
	if err != nil {
		return nil, fmt.Errorf("machine key lookup: %w", err)
	}
	key, err := bundle.DeriveSharedKey(c.privKey, pub)
	if err != nil {
		return nil, err
	}
	cipher, err := bundle.New(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.machineCiphers[machineID] = cipher
	c.mu.Unlock()
	return cipher, nil
}

func (c *Caller) sessionSealer(ctx context.Context, accountID, sessionID string) (bundle.Sealer, error) {
	dek, dekID, err := c.keys.SessionDataKey(ctx, accountID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session key lookup: %w", err)
	}
	memoKey := sessionID + "\x00" + dekID
	c.mu.Lock()
	cached, ok := c.sessionSealers[memoKey]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var sealer bundle.Sealer
	if len(dek) > 0 {
		sealer, err = bundle.New(dek)
	} else {
		// pre-key-versioning session; visible fleet-wide so a silent
		// downgrade would show up in logs
		c.log.Warn("session has no data encryption key, using legacy cipher",
			zap.String("session", sessionID))
		sealer, err = bundle.NewLegacy(c.master)
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessionSealers[memoKey] = sealer
	c.mu.Unlock()
	return sealer, nil
}
