package portfolio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

var ErrBadIntent = errors.New("portfolio: malformed trade intent")

// Intent is a proposed trade from the advisory collaborator. Only Side,
// Price and SizeFraction drive execution; the rest labels the position.
type Intent struct {
	Side           market.Side     `json:"side"`
	Price          decimal.Decimal `json:"price"`
	SizeFraction   decimal.Decimal `json:"size"`
	MarketID       string          `json:"market_id,omitempty"`
	EventTitle     string          `json:"event_title,omitempty"`
	MarketQuestion string          `json:"market_question,omitempty"`
}

// ParseIntent reads the advisor's loose "side:BUY, price:0.42, size:0.1"
// recommendation. Code fences, backticks and quotes are ignored and keys
// are case-insensitive. Missing fields stay zero so Open reports them as a
// skip; only unparsable numbers are an error.
func ParseIntent(text string) (Intent, error) {
	text = strings.ReplaceAll(text, "```", "")
	text = strings.ReplaceAll(text, "`", "")

	in := Intent{Side: market.Unknown}
	for _, part := range strings.Split(strings.TrimSpace(text), ",") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.Trim(strings.TrimSpace(v), `'"`)

		switch k {
		case "side":
			in.Side = market.ParseSide(v)
		case "price":
			p, err := decimal.NewFromString(v)
			if err != nil {
				return Intent{}, fmt.Errorf("%w: price %q", ErrBadIntent, v)
			}
			in.Price = p
		case "size", "size_fraction":
			s, err := decimal.NewFromString(v)
			if err != nil {
				return Intent{}, fmt.Errorf("%w: size %q", ErrBadIntent, v)
			}
			in.SizeFraction = s
		case "market_id", "market":
			in.MarketID = v
		case "event_title", "event":
			in.EventTitle = v
		case "market_question", "question":
			in.MarketQuestion = v
		}
	}
	return in, nil
}
