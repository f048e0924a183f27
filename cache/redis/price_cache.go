package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rustyeddy/papertrader/market"
)

// lookupTimeout bounds the synchronous Price lookups.
const lookupTimeout = time.Second

// PriceCache stores each symbol's latest quote as a hash at
// "papertrader:price:{symbol}" with fields "price" and "ts" (unix nanos).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires quotes that
// stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(symbol string) string {
	return "papertrader:price:" + symbol
}

func encodeQuote(q market.Quote) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.Time.UnixNano(), 10),
	}
}

func decodeQuote(symbol string, vals map[string]string) (market.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return market.Quote{}, market.ErrPriceNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return market.Quote{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	q := market.Quote{Symbol: symbol, Price: price}
	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return market.Quote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
		}
		q.Time = time.Unix(0, ns)
	}
	return q, nil
}

// SetQuote writes q and refreshes its expiry.
func (pc *PriceCache) SetQuote(ctx context.Context, q market.Quote) error {
	key := priceKey(q.Symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeQuote(q))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", q.Symbol, err)
	}
	return nil
}

// Quote returns market.ErrPriceNotFound when nothing is cached.
func (pc *PriceCache) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return market.Quote{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return market.Quote{}, market.ErrPriceNotFound
	}
	return decodeQuote(symbol, vals)
}

// Quotes fetches several symbols in one pipeline. Missing symbols are
// left out of the result.
func (pc *PriceCache) Quotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	out := make(map[string]market.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, priceKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := decodeQuote(s, vals)
		if err != nil {
			continue
		}
		out[s] = q
	}
	return out, nil
}

// Price makes the cache a market.PriceSource.
func (pc *PriceCache) Price(symbol string) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	q, err := pc.Quote(ctx, symbol)
	if err != nil || !(q.Price > 0) {
		return 0, false
	}
	return q.Price, true
}

var _ market.PriceSource = (*PriceCache)(nil)
