// Package report renders a portfolio valuation and its trade history as
// markdown, optionally styled for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

const DefaultCurrency = "EUR"

// Report is everything the markdown summary shows.
type Report struct {
	Title     string
	Time      time.Time
	Currency  string
	Settings  risk.Settings
	Valuation portfolio.Valuation
	Trades    []portfolio.Trade // newest first, as the ledger keeps them

	// MaxTrades limits the trade table; zero shows all of them.
	MaxTrades int
}

// Money formats amount in currency, rounded to the currency's minor
// unit. An unknown currency falls back to two decimals and the code.
func Money(amount float64, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	cur := money.GetCurrency(currency)
	if cur == nil {
		return decimal.NewFromFloat(amount).StringFixed(2) + " " + currency
	}
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0)
	if minor.IsNegative() {
		return "-" + money.New(minor.Neg().IntPart(), currency).Display()
	}
	return money.New(minor.IntPart(), currency).Display()
}

// Quantity formats a quantity with at most 8 decimals and no trailing zeros.
func Quantity(q float64) string {
	return decimal.NewFromFloat(q).Round(8).String()
}

// Percent formats a signed percentage.
func Percent(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(2) + "%"
}

func signedMoney(amount float64, currency string) string {
	if amount > 0 {
		return "+" + Money(amount, currency)
	}
	return Money(amount, currency)
}

// Markdown renders r as a markdown document.
func (r Report) Markdown() string {
	cur := r.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	title := r.Title
	if title == "" {
		title = "Portfolio"
	}
	v := r.Valuation

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if !r.Time.IsZero() {
		fmt.Fprintf(&b, "_As of %s_\n\n", r.Time.UTC().Format(time.RFC3339))
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| | |\n|---|---:|\n")
	row := func(k, val string) { fmt.Fprintf(&b, "| %s | %s |\n", k, val) }
	row("Starting cash", Money(v.StartingCash, cur))
	row("Cash", Money(v.Cash, cur))
	row("Equity", Money(v.Equity, cur))
	row("Exposure", Money(v.Exposure, cur))
	row("Leverage", decimal.NewFromFloat(v.Leverage).StringFixed(2)+"x")
	row("Unrealized P&L", signedMoney(v.UnrealizedPnL, cur))
	row("Realized P&L", signedMoney(v.RealizedPnL, cur))
	row("Total P&L", fmt.Sprintf("%s (%s)", signedMoney(v.TotalPnL, cur), Percent(v.TotalPnLPct)))

	b.WriteString("\n## Risk\n\n")
	if r.Settings.Advanced {
		fmt.Fprintf(&b, "Advanced mode on: short %s, max leverage %sx, fee %s bps, slippage %s bps.\n",
			onOff(r.Settings.AllowShort),
			decimal.NewFromFloat(r.Settings.MaxLeverage).String(),
			decimal.NewFromFloat(r.Settings.FeeBps).String(),
			decimal.NewFromFloat(r.Settings.SlippageBps).String())
	} else {
		b.WriteString("Advanced mode off: long only, no fees.\n")
	}

	b.WriteString("\n## Positions\n\n")
	open := 0
	for _, p := range v.Positions {
		if p.Quantity != 0 {
			open++
		}
	}
	if open == 0 {
		b.WriteString("No open positions.\n")
	} else {
		b.WriteString("| Symbol | Qty | Avg price | Price | Value | Unrealized |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|\n")
		for _, p := range v.Positions {
			if p.Quantity == 0 {
				continue
			}
			price, value, upnl := "n/a", "n/a", "n/a"
			if p.Priced {
				price = Money(p.Price, cur)
				value = Money(p.MarketValue, cur)
				upnl = signedMoney(p.UnrealizedPnL, cur)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				p.Symbol, Quantity(p.Quantity), Money(p.AvgPrice, cur), price, value, upnl)
		}
	}

	b.WriteString("\n## Trades\n\n")
	trades := r.Trades
	if r.MaxTrades > 0 && len(trades) > r.MaxTrades {
		trades = trades[:r.MaxTrades]
	}
	if len(trades) == 0 {
		b.WriteString("No trades yet.\n")
		return b.String()
	}
	b.WriteString("| Time | Side | Symbol | Qty | Price | Fee | Realized |\n")
	b.WriteString("|---|---|---|---:|---:|---:|---:|\n")
	for _, t := range trades {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			t.Time.UTC().Format("2006-01-02 15:04:05"), t.Side, t.Symbol,
			Quantity(t.Quantity), Money(t.Price, cur), Money(t.Fee, cur), signedMoney(t.RealizedPnL, cur))
	}
	if len(trades) < len(r.Trades) {
		fmt.Fprintf(&b, "\n_%d older trades not shown._\n", len(r.Trades)-len(trades))
	}
	return b.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Render styles markdown for a terminal. style is a glamour standard
// style name ("dark", "light", "notty", ...); empty picks one from the
// terminal.
func Render(markdown, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("report: renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return out, nil
}

// Write renders r to w. Raw writes the markdown source unstyled.
func (r Report) Write(w io.Writer, raw bool, style string, width int) error {
	md := r.Markdown()
	if !raw {
		var err error
		if md, err = Render(md, style, width); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, md)
	return err
}
