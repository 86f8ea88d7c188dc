package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the first
// topic of every ERC-20 Transfer log.
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// ReceiptFetcher is the slice of an Ethereum RPC client the verifier needs.
// *ethclient.Client satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// VerifierConfig carries the chain-side expectations for proof verification.
type VerifierConfig struct {
	// TokenAddress is the USDC contract the transfer must come from.
	TokenAddress string
	// Chain is the expected chain tag in proofs, e.g. "base".
	Chain string
	// Strict rejects proofs when the RPC provider is unreachable instead of
	// falling back to structural acceptance.
	Strict bool
	// RPCTimeout bounds each receipt lookup.
	RPCTimeout time.Duration
}

// Result describes an accepted proof. OnChain is false when the provider was
// unreachable and structural checks alone carried the decision.
type Result struct {
	Amount  float64
	TxHash  string
	OnChain bool
}

// Verifier checks payment proofs: a fixed sequence of structural checks
// first, then confirmation of the ERC-20 transfer against the transaction
// receipt. An unreachable provider degrades to structural acceptance (logged
// loudly) unless strict mode is configured; a receipt that contradicts the
// proof always rejects.
type Verifier struct {
	client ReceiptFetcher
	token  common.Address
	chain  string
	strict bool

	rpcTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewVerifier creates a verifier. A nil client disables on-chain confirmation
// entirely, leaving structural checks (useful in tests and air-gapped
// deployments).
func NewVerifier(client ReceiptFetcher, cfg VerifierConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	chain := cfg.Chain
	if chain == "" {
		chain = ChainBase
	}
	return &Verifier{
		client:     client,
		token:      common.HexToAddress(cfg.TokenAddress),
		chain:      chain,
		strict:     cfg.Strict,
		rpcTimeout: timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Verify checks a proof against the expected payer, recipient, and minimum
// cost. Structural failures and on-chain contradictions return a
// *ValidationError; provider failures in strict mode return a plain error so
// callers can signal a transient condition instead of a client fault.
func (v *Verifier) Verify(ctx context.Context, proof *Proof, expectedPayer, expectedRecipient string, minCostUSDC float64) (*Result, error) {
	minUnits := ToBaseUnits(minCostUSDC)

	units, verr := v.checkStructure(proof, expectedPayer, expectedRecipient, minUnits)
	if verr != nil {
		return nil, verr
	}

	if v.client == nil {
		return &Result{Amount: FromBaseUnits(units), TxHash: proof.SignedTx, OnChain: false}, nil
	}

	rctx, cancel := context.WithTimeout(ctx, v.rpcTimeout)
	defer cancel()

	receipt, err := v.client.TransactionReceipt(rctx, common.HexToHash(proof.SignedTx))
	if err != nil {
		if v.strict {
			return nil, fmt.Errorf("fetching payment receipt: %w", err)
		}
		reason := "rpc_error"
		if errors.Is(err, ethereum.NotFound) {
			reason = "receipt_not_found"
		}
		v.logger.Warn("accepting payment proof without on-chain confirmation",
			"tx", proof.SignedTx,
			"payer", proof.Payer,
			"amount", proof.Amount,
			"reason", reason,
			"error", err,
		)
		return &Result{Amount: FromBaseUnits(units), TxHash: proof.SignedTx, OnChain: false}, nil
	}

	transferred, verr := matchTransfer(receipt, v.token, proof.Payer, proof.Recipient, minUnits)
	if verr != nil {
		return nil, verr
	}

	return &Result{Amount: FromBaseUnits(transferred), TxHash: proof.SignedTx, OnChain: true}, nil
}

// checkStructure runs the ordered structural checks and returns the proof's
// amount in base units when they all pass. The order is fixed so rejections
// are deterministic and cheap checks run before any chain traffic.
func (v *Verifier) checkStructure(proof *Proof, expectedPayer, expectedRecipient string, minUnits *big.Int) (*big.Int, *ValidationError) {
	if proof.Type != ProofType {
		return nil, invalid("unsupported proof type %q", proof.Type)
	}
	if proof.Chain != v.chain {
		return nil, invalid("wrong chain %q, want %q", proof.Chain, v.chain)
	}
	if proof.Token != TokenUSDC {
		return nil, invalid("wrong token %q, want %s", proof.Token, TokenUSDC)
	}

	units, err := ParseAmount(proof.Amount)
	if err != nil {
		return nil, invalid("malformed amount %q", proof.Amount)
	}
	if units.Cmp(minUnits) < 0 {
		return nil, invalid("amount %s below required %s", proof.Amount, FormatAmount(minUnits))
	}

	if !common.IsHexAddress(proof.Recipient) {
		return nil, invalid("malformed recipient address")
	}
	if common.HexToAddress(proof.Recipient) != common.HexToAddress(expectedRecipient) {
		return nil, invalid("recipient does not match collection address")
	}

	if !common.IsHexAddress(proof.Payer) {
		return nil, invalid("malformed payer address")
	}
	if expectedPayer != "" && common.HexToAddress(proof.Payer) != common.HexToAddress(expectedPayer) {
		return nil, invalid("payer does not match account wallet")
	}

	if len(proof.SignedTx) != 66 || proof.SignedTx[:2] != "0x" || !isHex(proof.SignedTx[2:]) {
		return nil, invalid("malformed transaction hash")
	}

	now := v.now()
	if proof.Timestamp.After(now.Add(time.Minute)) {
		return nil, invalid("proof timestamp is in the future")
	}
	if now.Sub(proof.Timestamp) > FreshnessWindow {
		return nil, invalid("proof older than %s", FreshnessWindow)
	}

	return units, nil
}

// matchTransfer scans a receipt for an ERC-20 Transfer log from the expected
// token contract moving at least minUnits from payer to recipient. It returns
// the transferred base units.
func matchTransfer(receipt *types.Receipt, token common.Address, payer, recipient string, minUnits *big.Int) (*big.Int, *ValidationError) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, invalid("transaction reverted")
	}

	from := common.HexToAddress(payer)
	to := common.HexToAddress(recipient)

	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) != from {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != to {
			continue
		}
		value := new(big.Int).SetBytes(log.Data)
		if value.Cmp(minUnits) < 0 {
			return nil, invalid("on-chain transfer of %s below required %s", FormatAmount(value), FormatAmount(minUnits))
		}
		return value, nil
	}

	return nil, invalid("no matching transfer in transaction receipt")
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
