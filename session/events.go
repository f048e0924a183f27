package session

import (
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
)

type EventType string

const (
	EventMarket    EventType = "market"
	EventQuotes    EventType = "quotes"
	EventCandles   EventType = "candles"
	EventTrade     EventType = "trade"
	EventSettings  EventType = "settings"
	EventReset     EventType = "reset"
	EventFeedError EventType = "feed_error"
)

// Event is what subscribers receive. Only the fields matching Type are set.
type Event struct {
	Type    EventType        `json:"type"`
	Symbol  string           `json:"symbol,omitempty"`
	Market  *market.Event    `json:"market,omitempty"`
	Quotes  []market.Quote   `json:"quotes,omitempty"`
	Candles []market.Candle  `json:"candles,omitempty"`
	Trade   *portfolio.Trade `json:"trade,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// DefaultSubscriberBuffer is used when Subscribe is given no size.
const DefaultSubscriberBuffer = 64

// Subscribe registers a listener. Slow subscribers lose events rather
// than stall the market; call the returned func to unsubscribe.
func (s *Session) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buf)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once bool
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Session) publish(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
