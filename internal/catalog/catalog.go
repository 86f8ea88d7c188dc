// Package catalog defines the operation kinds ClawSight meters and the USDC
// cost charged for each. The table is fixed at build time; accounts influence
// spending only through their caps, never through per-account pricing.
package catalog

// Operation kinds.
const (
	KindAPICall       = "api_call"
	KindConfigWrite   = "config_write"
	KindConfigRead    = "config_read"
	KindSync          = "sync"
	KindHeartbeat     = "heartbeat"
	KindExport        = "export"
	KindComputeMinute = "compute_minute"
	KindSkillInstall  = "skill_install"

	// KindPayment is the ledger kind for a verified external payment. Its
	// catalog cost is zero; entries of this kind carry the verified on-chain
	// amount instead.
	KindPayment = "x402_payment"
)

// costs maps each known kind to its unit cost in USDC.
var costs = map[string]float64{
	KindAPICall:       0.001,
	KindConfigWrite:   0.001,
	KindConfigRead:    0,
	KindSync:          0.0005,
	KindHeartbeat:     0.0001,
	KindExport:        0.005,
	KindComputeMinute: 0.01,
	KindSkillInstall:  0.002,
	KindPayment:       0,
}

// Cost returns the unit cost for the given kind. Unknown kinds report ok=false
// so callers can drop them rather than bill at a default.
func Cost(kind string) (cost float64, ok bool) {
	cost, ok = costs[kind]
	return cost, ok
}

// Known reports whether kind is in the catalog.
func Known(kind string) bool {
	_, ok := costs[kind]
	return ok
}

// Free reports whether kind is known and carries no charge.
func Free(kind string) bool {
	cost, ok := costs[kind]
	return ok && cost == 0
}

// Kinds returns every kind in the catalog. Order is unspecified.
func Kinds() []string {
	out := make([]string, 0, len(costs))
	for k := range costs {
		out = append(out, k)
	}
	return out
}
