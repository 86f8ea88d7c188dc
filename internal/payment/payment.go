// Package payment implements the x402-style payment exchange used when a
// spend cap blocks an operation: the directive the server issues alongside a
// 402 response, the proof header the client presents on retry, and the
// verifier that checks a proof structurally and against the chain.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Protocol constants. ClawSight settles exclusively in USDC on Base.
const (
	ProofType = "x402"
	ChainBase = "base"
	TokenUSDC = "USDC"

	// USDCDecimals is the decimal precision of the USDC token contract.
	USDCDecimals = 6

	// FreshnessWindow bounds how old a proof's issuance timestamp may be
	// before it is rejected as a possible replay.
	FreshnessWindow = 5 * time.Minute
)

// Proof is the payment evidence an agent attaches to a retried request. It
// travels base64-encoded in the X-Payment-Proof header. SignedTx is the hash
// of the submitted ERC-20 transfer transaction.
type Proof struct {
	Type      string    `json:"type"`
	Chain     string    `json:"chain"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	Recipient string    `json:"recipient"`
	SignedTx  string    `json:"signed_tx"`
	Payer     string    `json:"payer"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeProofHeader serializes a proof into its header representation.
func EncodeProofHeader(p *Proof) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeProofHeader parses the X-Payment-Proof header value back into a
// proof. It rejects anything that is not base64-wrapped JSON.
func DecodeProofHeader(value string) (*Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding payment proof base64: %w", err)
	}
	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payment proof: %w", err)
	}
	return &p, nil
}

// ValidationError reports a proof rejected by a specific check. Handlers map
// it to a client error; it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid payment proof: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
