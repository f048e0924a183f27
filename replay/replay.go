// Package replay runs a scripted CSV of prices and orders against a
// fresh ledger, for reproducing scenarios outside the live session.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/pkg/id"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

// Options controls how replay behaves.
type Options struct {
	StartingCash float64
	Settings     risk.Settings

	// If true: apply the row price first, then the event. This is what
	// you want most of the time so orders fill at that row's price.
	TickThenEvent bool

	// StopOnReject aborts on the first rejected order instead of
	// recording it and moving on.
	StopOnReject bool

	// Journal, when set, receives every trade and an equity snapshot
	// after each one.
	Journal journal.Journal
}

// Rejection is an order the ledger refused.
type Rejection struct {
	Line   int    `json:"line"`
	Event  string `json:"event"`
	Reason string `json:"reason"`
	Err    string `json:"error"`
}

type Result struct {
	Rows       int
	Trades     []portfolio.Trade // fills since the last RESET, oldest first; not capped
	Rejections []Rejection
	Settings   risk.Settings
	Valuation  portfolio.Valuation
	Ledger     *portfolio.Ledger
}

type runner struct {
	opts     Options
	ledger   *portfolio.Ledger
	prices   *market.PriceStore
	settings risk.Settings
	now      time.Time
	rec      *tradeRecorder
	res      *Result
}

// CSV replays the file at csvPath. See Run for the format.
func CSV(ctx context.Context, csvPath string, opts Options) (*Result, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	return Run(ctx, f, opts)
}

// Run replays prices and scripted orders.
//
// CSV formats supported:
//
//  1. Prices only:
//     time,symbol,price
//
//  2. Prices + events:
//     time,symbol,price,event,arg1,arg2,arg3,arg4
//
// Events (case-insensitive):
//
//	BUY:         arg1=qty     arg2=symbol (optional, defaults to the row symbol)
//	SELL:        arg1=qty     arg2=symbol (optional)
//	BUY_AMOUNT:  arg1=cash    arg2=symbol (optional)
//	SELL_ALL:    arg1=symbol (optional)
//	ADVANCED:    arg1=on|off
//	RISK:        arg1=allow_short(true|false) arg2=max_leverage arg3=fee_bps arg4=slippage_bps
//	RESET:       arg1=starting cash (optional)
//
// An empty price column leaves the symbol's price unchanged.
func Run(ctx context.Context, in io.Reader, opts Options) (*Result, error) {
	if opts.StartingCash <= 0 {
		opts.StartingCash = portfolio.DefaultStartingCash
	}
	if opts.Settings.MaxLeverage == 0 {
		opts.Settings = risk.DefaultSettings()
	}

	rn := &runner{
		opts:     opts,
		prices:   market.NewPriceStore(),
		settings: opts.Settings,
		rec:      &tradeRecorder{j: opts.Journal},
		res:      &Result{},
	}
	rn.ledger = portfolio.NewLedger(opts.StartingCash,
		portfolio.WithClock(func() time.Time { return rn.now }),
		portfolio.WithIDs(id.NewSource(1)),
	)
	rn.ledger.SetTradeListener(rn.rec)

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if err := rn.row(line, row); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		rn.res.Rows++
	}

	rn.res.Trades = rn.rec.trades
	rn.res.Settings = rn.settings
	rn.res.Valuation = rn.ledger.Value(rn.prices)
	rn.res.Ledger = rn.ledger
	return rn.res, nil
}

func (rn *runner) row(line int, row []string) error {
	// Minimum columns: time,symbol,price
	if len(row) < 3 {
		return fmt.Errorf("bad row (need at least 3 cols time,symbol,price): %v", row)
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	symbol := strings.TrimSpace(row[1])

	var price float64
	if raw := strings.TrimSpace(row[2]); raw != "" {
		price, err = strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			return fmt.Errorf("bad price %q", row[2])
		}
	}

	event := ""
	var args []string
	if len(row) >= 4 {
		event = strings.TrimSpace(row[3])
	}
	if len(row) >= 5 {
		args = row[4:]
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	rn.now = t
	tick := func() {
		if price > 0 {
			rn.prices.Set(market.Quote{Symbol: symbol, Price: price, Time: t})
		}
	}

	if rn.opts.TickThenEvent {
		tick()
		if event != "" {
			return rn.event(line, symbol, event, args)
		}
		return nil
	}

	// Event first, then tick (rare, but supported)
	if event != "" {
		if err := rn.event(line, symbol, event, args); err != nil {
			return err
		}
	}
	tick()
	return nil
}

func (rn *runner) event(line int, rowSymbol, event string, args []string) error {
	switch ev := strings.ToUpper(event); ev {
	case "BUY", "SELL", "BUY_AMOUNT":
		amount, err := parseFloatArg(args, 0, "qty")
		if err != nil {
			return fmt.Errorf("%s: %w", ev, err)
		}
		symbol := argOr(args, 1, rowSymbol)
		side, qty := portfolio.Buy, amount
		switch ev {
		case "SELL":
			side = portfolio.Sell
		case "BUY_AMOUNT":
			px, _ := rn.prices.Price(symbol)
			qty, err = portfolio.QuantityFromAmount(amount, px)
			if err != nil {
				return rn.rejected(line, ev, err)
			}
		}
		return rn.execute(line, ev, side, symbol, qty)

	case "SELL_ALL":
		symbol := argOr(args, 0, rowSymbol)
		qty := rn.ledger.Position(symbol).Quantity
		if qty <= 0 {
			return rn.rejected(line, ev, portfolio.ErrInsufficientHoldings)
		}
		return rn.execute(line, ev, portfolio.Sell, symbol, qty)

	case "ADVANCED":
		on, err := parseBool(argOr(args, 0, "on"))
		if err != nil {
			return fmt.Errorf("ADVANCED: %w", err)
		}
		next := rn.settings
		next.SetAdvanced(on)
		if err := rn.ledger.CheckInvariants(next); err != nil {
			return rn.rejected(line, ev, err)
		}
		rn.settings = next
		return nil

	case "RISK":
		p, err := parseRiskArgs(args)
		if err != nil {
			return fmt.Errorf("RISK: %w", err)
		}
		next := rn.settings
		if err := next.SetParameters(p); err != nil {
			return rn.rejected(line, ev, err)
		}
		if err := rn.ledger.CheckInvariants(next); err != nil {
			return rn.rejected(line, ev, err)
		}
		rn.settings = next
		return nil

	case "RESET":
		cash := rn.opts.StartingCash
		if raw := argOr(args, 0, ""); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("RESET: bad cash %q: %w", raw, err)
			}
			cash = v
		}
		if err := rn.ledger.Reset(cash); err != nil {
			return fmt.Errorf("RESET: %w", err)
		}
		rn.settings = rn.opts.Settings
		rn.rec.trades = nil
		return nil

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

func (rn *runner) execute(line int, ev string, side portfolio.Side, symbol string, qty float64) error {
	if _, err := rn.ledger.Execute(side, symbol, qty, rn.settings, rn.prices); err != nil {
		return rn.rejected(line, ev, err)
	}
	if err := rn.rec.takeErr(); err != nil {
		return fmt.Errorf("%s: journal: %w", ev, err)
	}
	if rn.opts.Journal != nil {
		snap := journal.SnapshotOf(rn.now, rn.ledger.Value(rn.prices))
		if err := rn.opts.Journal.RecordEquity(snap); err != nil {
			return fmt.Errorf("%s: journal: %w", ev, err)
		}
	}
	return nil
}

func (rn *runner) rejected(line int, ev string, err error) error {
	if rn.opts.StopOnReject {
		return fmt.Errorf("%s: %w", ev, err)
	}
	rn.res.Rejections = append(rn.res.Rejections, Rejection{
		Line:   line,
		Event:  ev,
		Reason: portfolio.Reason(err),
		Err:    err.Error(),
	})
	return nil
}

// tradeRecorder keeps every fill, since the ledger history is capped,
// and forwards it to the journal when there is one. The first journal
// error is held until the runner collects it.
type tradeRecorder struct {
	j      journal.Journal
	trades []portfolio.Trade
	err    error
}

func (r *tradeRecorder) OnTrade(t portfolio.Trade) {
	r.trades = append(r.trades, t)
	if r.j == nil {
		return
	}
	if err := r.j.RecordTrade(t); err != nil && r.err == nil {
		r.err = err
	}
}

func (r *tradeRecorder) takeErr() error {
	err := r.err
	r.err = nil
	return err
}

func argOr(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

func parseFloatArg(args []string, i int, name string) (float64, error) {
	raw := argOr(args, i, "")
	if raw == "" {
		return 0, fmt.Errorf("need arg%d=%s", i+1, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", name, raw, err)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("bad switch %q (want on|off)", s)
}

func parseRiskArgs(args []string) (risk.Parameters, error) {
	if len(args) < 2 {
		return risk.Parameters{}, fmt.Errorf("need arg1=allow_short arg2=max_leverage [arg3=fee_bps arg4=slippage_bps]")
	}
	short, err := parseBool(args[0])
	if err != nil {
		return risk.Parameters{}, err
	}
	p := risk.Parameters{AllowShort: short}
	if p.MaxLeverage, err = parseFloatArg(args, 1, "max_leverage"); err != nil {
		return risk.Parameters{}, err
	}
	if argOr(args, 2, "") != "" {
		if p.FeeBps, err = parseFloatArg(args, 2, "fee_bps"); err != nil {
			return risk.Parameters{}, err
		}
	}
	if argOr(args, 3, "") != "" {
		if p.SlippageBps, err = parseFloatArg(args, 3, "slippage_bps"); err != nil {
			return risk.Parameters{}, err
		}
	}
	return p, nil
}
