package market

import "strings"

// Side is the direction of a position on a binary outcome.
// BUY profits when the outcome probability rises, SELL when it falls.
type Side string

const (
	Buy     Side = "BUY"
	Sell    Side = "SELL"
	Unknown Side = "UNKNOWN"
)

// ParseSide maps loose advisory text ("buy", "BUY YES", "'SELL'") onto a Side.
func ParseSide(s string) Side {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(u, "BUY"):
		return Buy
	case strings.Contains(u, "SELL"):
		return Sell
	default:
		return Unknown
	}
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func (s Side) String() string { return string(s) }
