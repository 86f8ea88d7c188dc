// Package gate is the billing decision point. Every chargeable operation
// passes through Authorize, which prices it against the catalog, checks the
// account's spend caps, settles any attached payment proof, and writes the
// ledger rows the next decision will be judged against.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/ledger"
	"github.com/BrainsyETH/clawsight/internal/payment"
)

// CapChecker is the interface for evaluating an account's spend caps.
type CapChecker interface {
	Check(ctx context.Context, accountID string) (account.Status, error)
}

// Recorder is the interface for appending usage ledger entries.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
	RecordBatch(ctx context.Context, entries []ledger.Entry) error
}

// ProofVerifier is the interface for verifying payment proofs.
type ProofVerifier interface {
	Verify(ctx context.Context, proof *payment.Proof, expectedPayer, expectedRecipient string, minCostUSDC float64) (*payment.Result, error)
}

// MetricsRecorder is an optional interface for recording gate metrics.
type MetricsRecorder interface {
	IncGateDecision(kind, outcome string)
	IncPaymentVerification(result string)
}

// ErrUnknownKind reports an operation kind missing from the catalog.
var ErrUnknownKind = errors.New("unknown operation kind")

// ErrNoCollectionAddress reports a paid operation with no configured payment
// collection address. Such operations are refused rather than silently
// allowed unpriced.
var ErrNoCollectionAddress = errors.New("payment collection address not configured")

// Request describes one operation awaiting a gate decision.
type Request struct {
	AccountID   string
	Wallet      string
	Kind        string
	Skill       string
	SessionID   string
	Metadata    map[string]string
	OccurredAt  time.Time
	ProofHeader string
}

// Decision is the outcome of an allowed operation.
type Decision struct {
	Cost    float64
	Status  account.Status
	Payment *payment.Result // non-nil when a proof was settled alongside
}

// CapExceededError blocks an operation pending payment. Handlers convert it
// into a payment-required response carrying the directive.
type CapExceededError struct {
	Kind      string
	Cost      float64
	Status    account.Status
	Directive payment.Directive
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s reached: %s requires payment of %s %s",
		e.Status.Reason, e.Kind, e.Directive.Amount, e.Directive.Token)
}

// Gate makes billing decisions and owns their ledger side effects.
type Gate struct {
	caps           CapChecker
	recorder       Recorder
	verifier       ProofVerifier
	collectionAddr string
	metrics        MetricsRecorder
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a gate. collectionAddr may be empty, in which case every paid
// operation is refused with ErrNoCollectionAddress.
func New(caps CapChecker, recorder Recorder, verifier ProofVerifier, collectionAddr string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		caps:           caps,
		recorder:       recorder,
		verifier:       verifier,
		collectionAddr: collectionAddr,
		logger:         logger,
		now:            time.Now,
	}
}

// SetMetrics sets the optional metrics recorder.
func (g *Gate) SetMetrics(m MetricsRecorder) {
	g.metrics = m
}

// Authorize decides allow/charge/block for one operation.
//
// Free kinds are recorded at zero cost and allowed without a cap check. Paid
// kinds require a collection address, then a cap check: blocked accounts get
// a CapExceededError carrying the payment directive, with no ledger write.
// An attached proof is settled whether or not the account is blocked; a valid
// one records an external-payment entry, an invalid one rejects with a
// *payment.ValidationError and charges nothing. Allowed operations always end
// with a ledger entry at catalog cost.
func (g *Gate) Authorize(ctx context.Context, req Request) (*Decision, error) {
	cost, ok := catalog.Cost(req.Kind)
	if !ok {
		return nil, ErrUnknownKind
	}

	if cost == 0 && req.Kind != catalog.KindAPICall {
		if err := g.recorder.Record(ctx, g.entry(req, 0)); err != nil {
			return nil, fmt.Errorf("recording free operation: %w", err)
		}
		g.countDecision(req.Kind, "allowed")
		return &Decision{Cost: 0}, nil
	}

	if g.collectionAddr == "" {
		g.logger.Error("refusing paid operation: no collection address configured",
			"kind", req.Kind, "account_id", req.AccountID)
		g.countDecision(req.Kind, "unconfigured")
		return nil, ErrNoCollectionAddress
	}

	status, err := g.caps.Check(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("checking spend caps: %w", err)
	}

	if !status.Allowed && req.ProofHeader == "" {
		g.countDecision(req.Kind, "blocked")
		return nil, &CapExceededError{
			Kind:      req.Kind,
			Cost:      cost,
			Status:    status,
			Directive: payment.NewDirective(cost, g.collectionAddr),
		}
	}

	decision := &Decision{Cost: cost, Status: status}

	if req.ProofHeader != "" {
		res, err := g.settleProof(ctx, req, cost)
		if err != nil {
			g.countDecision(req.Kind, "payment_rejected")
			return nil, err
		}
		decision.Payment = res
	}

	if err := g.recorder.Record(ctx, g.entry(req, cost)); err != nil {
		return nil, fmt.Errorf("recording usage: %w", err)
	}

	if decision.Payment != nil {
		g.countDecision(req.Kind, "paid")
	} else {
		g.countDecision(req.Kind, "allowed")
	}
	return decision, nil
}

// Record prices and records an operation without cap enforcement. Sync
// batches use it for member events: those describe work the agent already
// performed locally, so they are billed but never individually blocked; the
// spend they add surfaces at the next Authorize.
func (g *Gate) Record(ctx context.Context, req Request) (float64, error) {
	cost, ok := catalog.Cost(req.Kind)
	if !ok {
		return 0, ErrUnknownKind
	}
	if err := g.recorder.Record(ctx, g.entry(req, cost)); err != nil {
		return 0, fmt.Errorf("recording usage: %w", err)
	}
	g.countDecision(req.Kind, "recorded")
	return cost, nil
}

// RecordBatch prices and records a set of operations in one ledger
// transaction, dropping requests with unknown kinds. It returns how many
// entries were recorded and how many were dropped.
func (g *Gate) RecordBatch(ctx context.Context, reqs []Request) (recorded, dropped int, err error) {
	entries := make([]ledger.Entry, 0, len(reqs))
	for _, req := range reqs {
		cost, ok := catalog.Cost(req.Kind)
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, g.entry(req, cost))
	}

	if err := g.recorder.RecordBatch(ctx, entries); err != nil {
		return 0, 0, fmt.Errorf("recording usage batch: %w", err)
	}
	for _, e := range entries {
		g.countDecision(e.Kind, "recorded")
	}
	return len(entries), dropped, nil
}

// settleProof decodes, verifies, and records an attached payment proof.
func (g *Gate) settleProof(ctx context.Context, req Request, cost float64) (*payment.Result, error) {
	proof, err := payment.DecodeProofHeader(req.ProofHeader)
	if err != nil {
		g.countVerification("undecodable")
		return nil, &payment.ValidationError{Reason: "unreadable proof header"}
	}

	res, err := g.verifier.Verify(ctx, proof, req.Wallet, g.collectionAddr, cost)
	if err != nil {
		var verr *payment.ValidationError
		if errors.As(err, &verr) {
			g.countVerification("rejected")
		} else {
			g.countVerification("error")
		}
		return nil, err
	}

	if res.OnChain {
		g.countVerification("confirmed")
	} else {
		g.countVerification("structural")
	}

	entry := ledger.Entry{
		AccountID: req.AccountID,
		Kind:      catalog.KindPayment,
		Cost:      res.Amount,
		Skill:     req.Skill,
		SessionID: req.SessionID,
		Metadata: map[string]string{
			"tx_ref":   truncateRef(res.TxHash),
			"on_chain": strconv.FormatBool(res.OnChain),
		},
		OccurredAt: g.now().UTC(),
	}
	if err := g.recorder.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording external payment: %w", err)
	}
	return res, nil
}

// entry builds the ledger row for a gate request at the given cost.
func (g *Gate) entry(req Request, cost float64) ledger.Entry {
	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = g.now().UTC()
	}
	return ledger.Entry{
		AccountID:  req.AccountID,
		Kind:       req.Kind,
		Cost:       cost,
		Skill:      req.Skill,
		SessionID:  req.SessionID,
		Metadata:   req.Metadata,
		OccurredAt: occurred,
	}
}

// truncateRef shortens a transaction hash for ledger metadata; the full
// proof is never persisted.
func truncateRef(txHash string) string {
	if len(txHash) <= 18 {
		return txHash
	}
	return txHash[:18]
}

func (g *Gate) countDecision(kind, outcome string) {
	if g.metrics != nil {
		g.metrics.IncGateDecision(kind, outcome)
	}
}

func (g *Gate) countVerification(result string) {
	if g.metrics != nil {
		g.metrics.IncPaymentVerification(result)
	}
}
