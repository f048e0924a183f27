package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
	"github.com/rustyeddy/papertrader/session"
)

const maxBody = 1 << 16

// errorResponse carries the stable rejection reason the UI switches on.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps known rejections to 422 and anything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	reason := portfolio.Reason(err)
	if reason == "Internal" {
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: reason})
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: reason, Message: err.Error()})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || err == io.EOF {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: err.Error()})
	return false
}

type healthResponse struct {
	Status    string `json:"status"`
	WSClients int    `json:"ws_clients"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", WSClients: s.hub.Clients()})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type tradesResponse struct {
	Trades []portfolio.Trade `json:"trades"`
}

func (s *Server) trades(w http.ResponseWriter, _ *http.Request) {
	trades := s.sess.Trades()
	if trades == nil {
		trades = []portfolio.Trade{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{Trades: trades})
}

type candlesResponse struct {
	Symbol  string          `json:"symbol"`
	Candles []market.Candle `json:"candles"`
}

func (s *Server) candles(w http.ResponseWriter, _ *http.Request) {
	candles := s.sess.Candles()
	if candles == nil {
		candles = []market.Candle{}
	}
	writeJSON(w, http.StatusOK, candlesResponse{Symbol: s.sess.Preferences().Symbol, Candles: candles})
}

const defaultIndicatorPeriod = 20

type indicatorsResponse struct {
	Symbol string `json:"symbol"`
	indicators.Overlay
}

// GET /api/indicators?period=20
func (s *Server) indicators(w http.ResponseWriter, r *http.Request) {
	period := defaultIndicatorPeriod
	if raw := r.URL.Query().Get("period"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > market.DefaultHistoryCap {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: "period must be between 1 and 400"})
			return
		}
		period = n
	}
	o, err := indicators.Compute(s.sess.Candles(), period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indicatorsResponse{Symbol: s.sess.Preferences().Symbol, Overlay: o})
}

func (s *Server) assets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": market.Assets,
		"days":   market.ChartDays,
	})
}

func (s *Server) quotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Quotes())
}

type orderResponse struct {
	Trade  portfolio.Trade `json:"trade"`
	Status session.Status  `json:"status"`
}

// order handles POST /api/buy and /api/sell with a session.Order body;
// the side comes from the route.
func (s *Server) order(side portfolio.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var o session.Order
		if !decode(w, r, &o) {
			return
		}
		o.Side = side
		t, err := s.sess.Execute(r.Context(), o)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orderResponse{Trade: t, Status: s.sess.Status()})
	}
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) selectSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SelectSymbol(r.Context(), req.Symbol); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type advancedRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAdvanced(w http.ResponseWriter, r *http.Request) {
	var req advancedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetAdvanced(r.Context(), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) setRisk(w http.ResponseWriter, r *http.Request) {
	var p risk.Parameters
	if !decode(w, r, &p) {
		return
	}
	if err := s.sess.SetRiskParameters(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type speedRequest struct {
	Speed string `json:"speed"`
}

func (s *Server) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := market.ParseSpeed(req.Speed); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: err.Error()})
		return
	}
	if err := s.sess.SetSpeed(r.Context(), req.Speed); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type daysRequest struct {
	Days int `json:"days"`
}

func (s *Server) setDays(w http.ResponseWriter, r *http.Request) {
	var req daysRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetDays(r.Context(), req.Days); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type orderModeRequest struct {
	Mode portfolio.OrderMode `json:"mode"`
}

func (s *Server) setOrderMode(w http.ResponseWriter, r *http.Request) {
	var req orderModeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetOrderMode(r.Context(), req.Mode); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}
