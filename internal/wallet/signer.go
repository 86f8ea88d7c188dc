// Package wallet holds the agent's payment capability: an ECDSA key that can
// settle a payment directive by submitting an ERC-20 transfer, and a keystore
// that keeps that key encrypted at rest.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/BrainsyETH/clawsight/internal/payment"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferGasLimit covers an ERC-20 transfer with headroom; USDC transfers
// run well under it.
const transferGasLimit = 100_000

// Signer is the wallet capability the transport asks for when a request comes
// back payment-required. Implementations must be safe for concurrent use.
type Signer interface {
	// Address returns the payer address, the account wallet the server will
	// match proofs against.
	Address() string

	// Pay settles a directive and returns the proof to attach to the retry.
	Pay(ctx context.Context, d payment.Directive) (*payment.Proof, error)
}

// TxSender is the slice of an Ethereum RPC client the signer needs to submit
// a transfer. *ethclient.Client satisfies it.
type TxSender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner pays directives from a locally-held private key by building,
// signing, and submitting ERC-20 transfer transactions.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	token   common.Address
	chainID *big.Int
	sender  TxSender
	logger  *slog.Logger
	now     func() time.Time
}

// NewKeySigner creates a signer for the given key. tokenAddress is the USDC
// contract the transfers go through; chainID signs for the target chain.
func NewKeySigner(key *ecdsa.PrivateKey, tokenAddress string, chainID int64, sender TxSender, logger *slog.Logger) *KeySigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		token:   common.HexToAddress(tokenAddress),
		chainID: big.NewInt(chainID),
		sender:  sender,
		logger:  logger,
		now:     time.Now,
	}
}

// Address returns the payer address derived from the key.
func (s *KeySigner) Address() string {
	return s.address.Hex()
}

// Pay submits an ERC-20 transfer satisfying the directive and returns the
// proof referencing the submitted transaction. The proof is issued as soon as
// the transaction is accepted by the RPC node; the server's verifier tolerates
// a not-yet-indexed receipt.
func (s *KeySigner) Pay(ctx context.Context, d payment.Directive) (*payment.Proof, error) {
	units, err := payment.ParseAmount(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("parsing directive amount: %w", err)
	}
	if !common.IsHexAddress(d.Recipient) {
		return nil, fmt.Errorf("malformed directive recipient %q", d.Recipient)
	}
	recipient := common.HexToAddress(d.Recipient)

	nonce, err := s.sender.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("fetching account nonce: %w", err)
	}
	gasPrice, err := s.sender.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.token,
		Value:    big.NewInt(0),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     transferCalldata(recipient, units),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("signing transfer: %w", err)
	}
	if err := s.sender.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("submitting transfer: %w", err)
	}

	txHash := signed.Hash().Hex()
	s.logger.Info("submitted payment transfer",
		"tx", txHash, "amount", d.Amount, "recipient", d.Recipient)

	return &payment.Proof{
		Type:      payment.ProofType,
		Chain:     payment.ChainBase,
		Token:     d.Token,
		Amount:    d.Amount,
		Recipient: d.Recipient,
		SignedTx:  txHash,
		Payer:     s.Address(),
		Timestamp: s.now().UTC(),
	}, nil
}

// transferCalldata encodes transfer(address,uint256) with the 4-byte selector
// followed by two 32-byte-padded arguments.
func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, 0xa9, 0x05, 0x9c, 0xbb)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
