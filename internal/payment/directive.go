package payment

import (
	"fmt"
	"strings"
)

// Directive tells a blocked client exactly what to pay: token, amount, and
// the collection address. It is the X-Payment-Required header value.
type Directive struct {
	Token     string
	Amount    string
	Recipient string
}

// String renders the directive in its wire form: three space-delimited
// fields, "<token> <amount> <recipient>", with the amount carrying six
// decimal places.
func (d Directive) String() string {
	return d.Token + " " + d.Amount + " " + d.Recipient
}

// NewDirective builds a USDC directive for the given cost and collection
// address.
func NewDirective(costUSDC float64, recipient string) Directive {
	return Directive{
		Token:     TokenUSDC,
		Amount:    FormatAmount(ToBaseUnits(costUSDC)),
		Recipient: recipient,
	}
}

// ParseDirective parses a directive header value. The format is strict:
// exactly three space-delimited fields with a well-formed decimal amount.
func ParseDirective(value string) (Directive, error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return Directive{}, fmt.Errorf("malformed payment directive: want 3 fields, got %d", len(fields))
	}
	if _, err := ParseAmount(fields[1]); err != nil {
		return Directive{}, fmt.Errorf("malformed payment directive amount: %w", err)
	}
	return Directive{
		Token:     fields[0],
		Amount:    fields[1],
		Recipient: fields[2],
	}, nil
}
