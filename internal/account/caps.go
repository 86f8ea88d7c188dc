package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BrainsyETH/clawsight/internal/ledger"
)

// AccountReader is the account lookup slice the checker needs.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*Account, error)
}

// SpendReader is the ledger slice the checker needs.
type SpendReader interface {
	CurrentSpend(ctx context.Context, accountID string, at time.Time) (ledger.Spend, error)
}

// Status is the outcome of a cap check together with the numbers behind it,
// so callers can report how far over (or under) the account sits.
type Status struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"` // "daily_cap" or "monthly_cap" when blocked
	DailySpent   float64 `json:"daily_spent"`
	MonthlySpent float64 `json:"monthly_spent"`
	DailyCap     float64 `json:"daily_cap"`
	MonthlyCap   float64 `json:"monthly_cap"`
}

// CapChecker decides whether an account may perform more paid work by
// comparing ledger aggregates against the account's caps.
type CapChecker struct {
	accounts AccountReader
	spend    SpendReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewCapChecker creates a checker over the given account and spend readers.
func NewCapChecker(accounts AccountReader, spend SpendReader, logger *slog.Logger) *CapChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapChecker{
		accounts: accounts,
		spend:    spend,
		logger:   logger,
		now:      time.Now,
	}
}

// Check evaluates the caps for accountID. An account with no row on file is
// allowed: absent cap configuration must never block the system, it only
// means nothing to enforce. The daily cap is evaluated before the monthly
// one, and reaching a cap exactly blocks.
func (c *CapChecker) Check(ctx context.Context, accountID string) (Status, error) {
	acct, err := c.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn("cap check for unknown account, allowing", "account_id", accountID)
			return Status{Allowed: true}, nil
		}
		return Status{}, fmt.Errorf("loading account for cap check: %w", err)
	}

	spend, err := c.spend.CurrentSpend(ctx, accountID, c.now().UTC())
	if err != nil {
		return Status{}, fmt.Errorf("loading spend for cap check: %w", err)
	}

	status := Status{
		Allowed:      true,
		DailySpent:   spend.Daily,
		MonthlySpent: spend.Monthly,
		DailyCap:     acct.DailyCap,
		MonthlyCap:   acct.MonthlyCap,
	}

	switch {
	case acct.DailyCap > 0 && spend.Daily >= acct.DailyCap:
		status.Allowed = false
		status.Reason = "daily_cap"
	case acct.MonthlyCap > 0 && spend.Monthly >= acct.MonthlyCap:
		status.Allowed = false
		status.Reason = "monthly_cap"
	}

	return status, nil
}
