package ledger

import (
	"testing"
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s got %s", want, got)
}

func testPosition(id string, notional string) Position {
	return Position{
		ID:           id,
		MarketID:     "mkt-1",
		Side:         market.Buy,
		EntryPrice:   d("0.40"),
		SizeFraction: d("0.2"),
		Notional:     d(notional),
		Qty:          d(notional).Div(d("0.40")),
		Commission:   decimal.Zero,
		OpenedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecodeLegacyDocument(t *testing.T) {
	t.Parallel()

	legacy := []byte(`{
  "current_balance": 900.0,
  "positions": [
    {
      "id": "pos_20240501_120000",
      "event_title": "Election",
      "market_question": "Will X win?",
      "side": "BUY",
      "entry_price": 0.4,
      "size_fraction": 0.1,
      "notional": 100.0,
      "qty": 250.0,
      "opened_at": "2024-05-01T12:00:00.123456"
    }
  ],
  "last_updated": "2024-05-01T12:00:00.123456"
}`)

	doc, err := decode(legacy)
	require.NoError(t, err)
	require.Len(t, doc.Positions, 1)

	p := doc.Positions[0]
	assert.Equal(t, "pos_20240501_120000", p.ID)
	assert.Equal(t, market.Buy, p.Side)
	assertDec(t, "0.4", p.EntryPrice)
	assert.Equal(t, 2024, p.OpenedAt.Year())
	assert.Equal(t, 123456000, p.OpenedAt.Nanosecond())

	// Audit fields are back-filled so the invariant holds immediately.
	assertDec(t, "1000", doc.InitialBalance)
	assert.NoError(t, Audit(doc))
}

func TestDecodeRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{"current_balance": `},
		{"bad time", `{"current_balance": 1, "positions": [], "last_updated": "yesterday"}`},
		{"missing id", `{"current_balance": 1, "positions": [{"side": "BUY", "notional": 1}]}`},
		{"duplicate id", `{"current_balance": 1, "positions": [{"id":"a","side":"BUY","notional":1},{"id":"a","side":"BUY","notional":1}]}`},
		{"bad side", `{"current_balance": 1, "positions": [{"id":"a","side":"HOLD","notional":1}]}`},
		{"negative notional", `{"current_balance": 1, "positions": [{"id":"a","side":"SELL","notional":-1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode([]byte(tt.in))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestEncodeDecodeKeepsOrderAndNumbers(t *testing.T) {
	t.Parallel()

	doc := NewDocument(d("100"), time.Now())
	doc.Positions = append(doc.Positions, testPosition("b", "20"), testPosition("a", "10"))
	doc.CurrentBalance = d("70")

	b, err := encode(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"current_balance": 70`)

	got, err := decode(b)
	require.NoError(t, err)
	require.Len(t, got.Positions, 2)
	assert.Equal(t, "b", got.Positions[0].ID)
	assert.Equal(t, "a", got.Positions[1].ID)
	assertDec(t, "100", got.InitialBalance)
	assert.NoError(t, Audit(got))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	doc := NewDocument(d("100"), time.Now())
	doc.Positions = append(doc.Positions, testPosition("a", "10"))

	c := doc.Clone()
	c.Positions[0].ID = "changed"
	c.Remove(0)

	assert.Equal(t, "a", doc.Positions[0].ID)
	assert.Len(t, doc.Positions, 1)
}

func TestAudit(t *testing.T) {
	t.Parallel()

	doc := NewDocument(d("100"), time.Now())
	doc.Positions = append(doc.Positions, testPosition("a", "20"))
	doc.CurrentBalance = d("79.9")
	doc.FeesPaid = d("0.1")
	assert.NoError(t, Audit(doc))

	doc.CurrentBalance = d("80")
	assert.ErrorIs(t, Audit(doc), ErrImbalance)
}

func TestFindRemove(t *testing.T) {
	t.Parallel()

	doc := NewDocument(d("100"), time.Now())
	doc.Positions = append(doc.Positions, testPosition("a", "1"), testPosition("b", "2"), testPosition("c", "3"))

	i := doc.Find("b")
	require.Equal(t, 1, i)
	p := doc.Remove(i)
	assert.Equal(t, "b", p.ID)
	assert.Equal(t, -1, doc.Find("b"))
	assert.Equal(t, "a", doc.Positions[0].ID)
	assert.Equal(t, "c", doc.Positions[1].ID)
	assertDec(t, "4", doc.OpenNotional())
}
