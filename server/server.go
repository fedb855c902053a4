// Package server exposes the ledger over HTTP for dashboards and notifiers:
// health, portfolio summary, mark-to-market, Prometheus metrics and a
// websocket stream of closed positions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/query"
	"github.com/shopspring/decimal"
)

type Server struct {
	q        *query.Facade
	mode     string
	closed   *hub[portfolio.Closed]
	upgrader websocket.Upgrader
	log      zerolog.Logger
	started  time.Time
}

func New(q *query.Facade, mode string, log zerolog.Logger) *Server {
	return &Server{
		q:        q,
		mode:     mode,
		closed:   newHub[portfolio.Closed](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log,
		started:  time.Now(),
	}
}

// OnPositionClosed makes the server a portfolio listener; each close is
// pushed to every /ws/closed client.
func (s *Server) OnPositionClosed(c portfolio.Closed) {
	s.closed.Broadcast(c)
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/portfolio", s.handlePortfolio)
	mux.HandleFunc("/mtm", s.handleMTM)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/closed", s.handleClosedStream)
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Mode:   s.mode,
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sum, err := s.q.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleMTM marks the book at ?price=. Without a price every position is
// held at its entry.
func (s *Server) handleMTM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var prices portfolio.PriceSource = portfolio.PriceFunc(entryPrice)
	if v := r.URL.Query().Get("price"); v != "" {
		px, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad price %q", v))
			return
		}
		prices = portfolio.FixedPrice(px)
	}

	m, err := s.q.MarkToMarketWith(r.Context(), prices)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func entryPrice(_ context.Context, p ledger.Position) (decimal.Decimal, error) {
	return p.EntryPrice, nil
}

type outboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s *Server) handleClosedStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.closed.Subscribe(32)
	defer s.closed.Unsubscribe(sub)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case c, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "position_closed", Data: c}); err != nil {
				s.log.Debug().Err(err).Msg("ws client dropped")
				return
			}
		case <-gone:
			return
		}
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
