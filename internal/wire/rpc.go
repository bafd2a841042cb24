package wire

// RPCRequest is the relay-forwarded call envelope. Method is
// "<targetId>:<methodName>"; Params is the base64-encoded encrypted bundle
// (shared-key for machine targets, session-key or legacy for sessions).
type RPCRequest struct {
	Method string `json:"method"`
	Params string `json:"params"`
}

// RPCAck is the single acknowledgment a request expects. Exactly one of the
// outcome fields is meaningful: Cancelled for an explicit remote cancel,
// OK=false for a remote failure, OK=true with Result for success.
type RPCAck struct {
	OK        *bool  `json:"ok,omitempty"`
	Result    string `json:"result,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
