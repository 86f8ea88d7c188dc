package account

import (
	"errors"
	"fmt"
	"time"
)

// Default caps applied at provisioning when the request does not set its own.
const (
	DefaultDailyCap   = 1.0
	DefaultMonthlyCap = 20.0
)

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// Account represents a paired dashboard/agent identity. The agent
// authenticates with the API key; the wallet address is the expected payer of
// any payment proofs the agent presents.
type Account struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	APIKeyHash    string    `json:"-"`
	APIKeyPrefix  string    `json:"api_key_prefix"`
	WalletAddress string    `json:"wallet_address"`
	DailyCap      float64   `json:"daily_cap"`
	MonthlyCap    float64   `json:"monthly_cap"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateAccountInput holds the fields required to create a new account.
type CreateAccountInput struct {
	Name          string  `json:"name"`
	APIKeyHash    string  `json:"api_key_hash"`
	APIKeyPrefix  string  `json:"api_key_prefix"`
	WalletAddress string  `json:"wallet_address"`
	DailyCap      float64 `json:"daily_cap"`
	MonthlyCap    float64 `json:"monthly_cap"`
}

// ListParams controls cursor-based pagination for listing accounts.
type ListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// ValidateCaps checks a requested cap pair against the accepted range. Caps
// must be strictly positive and bounded above by maxCap; a zero would brick
// the account and an absurd value would disable protection entirely.
func ValidateCaps(daily, monthly, maxCap float64) error {
	if daily <= 0 || monthly <= 0 {
		return fmt.Errorf("caps must be greater than zero")
	}
	if daily > maxCap || monthly > maxCap {
		return fmt.Errorf("caps must not exceed %g USDC", maxCap)
	}
	return nil
}
