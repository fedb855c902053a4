package journal

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// SessionReport summarizes one trading session for the Org journal.
type SessionReport struct {
	Mode    string
	Created time.Time
	Start   time.Time
	End     time.Time

	Intents int // intents offered to the engine
	Opened  int
	Skipped int

	StartBalance decimal.Decimal
	EndBalance   decimal.Decimal
	OpenAtEnd    int

	Stats  Stats
	Trades []TradeRecord
	Notes  []string
}

func (r SessionReport) NetPL() decimal.Decimal { return r.EndBalance.Sub(r.StartBalance) }

func (r SessionReport) ReturnPct() decimal.Decimal {
	if !r.StartBalance.IsPositive() {
		return decimal.Zero
	}
	return r.NetPL().Div(r.StartBalance).Shift(2)
}

var sessionOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"money":  func(d decimal.Decimal) string { return d.StringFixed(2) },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
	"tradeOrg": FormatTradeOrg,
}

var sessionOrg = template.Must(template.New("session").Funcs(sessionOrgFuncs).Parse(SessionOrgTemplate))

// RenderOrg returns the report as an Org-mode document.
func (r SessionReport) RenderOrg() (string, error) {
	var buf bytes.Buffer
	if err := sessionOrg.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render session report: %w", err)
	}
	return buf.String(), nil
}

func (r SessionReport) WriteOrg(path string) error {
	s, err := r.RenderOrg()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

const SessionOrgTemplate = `* SESSION: {{.Mode}} {{(orTime .Created).Format "2006-01-02"}}
:PROPERTIES:
:MODE:        {{.Mode}}
:START:       {{.Start.Format "2006-01-02 15:04:05"}}
:END_TIME:    {{.End.Format "2006-01-02 15:04:05"}}
:START_BAL:   {{money .StartBalance}}
:END_BAL:     {{money .EndBalance}}
:NET_PL:      {{money .NetPL}}
:RETURN_PCT:  {{money .ReturnPct}}
:INTENTS:     {{.Intents}}
:OPENED:      {{.Opened}}
:SKIPPED:     {{.Skipped}}
:OPEN_AT_END: {{.OpenAtEnd}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Closed trades:    *{{.Stats.Trades}}*
- Realized P/L:     *{{money .Stats.TotalPnL}}*
- Win Rate:         *{{printf "%.2f" (mul100 .Stats.WinRate)}}%*
- Profit Factor:    *{{printf "%.2f" .Stats.ProfitFactor}}*
- Max Drawdown:     *{{money .Stats.MaxDrawdown}}*
- Sharpe (per trade): *{{printf "%.4f" .Stats.Sharpe}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Stats.Wins}} |
| Losses  | {{.Stats.Losses}} |
| Total   | {{.Stats.Trades}} |
{{- if .Trades }}

** Trades
{{- range .Trades }}
{{ tradeOrg . }}
{{- end }}
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
