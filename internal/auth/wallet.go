package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignInMessage is the exact text a wallet signs to prove control of its
// address. The nonce makes each message single-use; both sides must build the
// string identically.
func SignInMessage(nonce string) string {
	return "ClawSight sign-in\nNonce: " + nonce
}

// RecoverSigner recovers the wallet address that produced an EIP-191
// personal-sign signature over message. The returned address is lowercased
// hex.
func RecoverSigner(message, signature string) (string, error) {
	sigHex := strings.TrimPrefix(signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("decoding signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("recovering public key: %w", err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
