// The feed server runs a demo market session in-process and publishes its lit
// book over HTTP and websockets: an observability surface for the simulation,
// not an order-entry transport.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketsim/agents"
	"marketsim/engine"
	"marketsim/sim"
)

const (
	defaultListenAddr = ":8080"
	defaultSessionID  = "FEED"
)

type server struct {
	coord      *sim.Coordinator
	bookHub    *hub[*engine.MarketView]
	tradeHub   *hub[engine.TapeSummary]
	upgrader   websocket.Upgrader
	authToken  string
	corsOrigin string
	log        *zap.Logger
}

type outboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func main() {
	listenAddr := getEnv("LISTEN_ADDR", defaultListenAddr)
	sessionID := getEnv("SESSION_ID", defaultSessionID)
	wallMinutes := parseIntEnv("WALL_MINUTES", 60)
	agentCount := int(parseIntEnv("AGENTS", 8))
	seed := parseIntEnv("SEED", time.Now().UnixNano())
	authToken := os.Getenv("AUTH_TOKEN")
	corsOrigin := getEnv("CORS_ORIGIN", "*")

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	exch := engine.NewExchange(sessionID)
	var pool []sim.Agent
	var assignable []agents.Assignable
	for i := 0; i < agentCount; i++ {
		z := agents.NewZIC(fmt.Sprintf("ZIC%02d", i), seed+int64(i))
		pool = append(pool, z)
		assignable = append(assignable, z)
	}
	flow := agents.NewFlow(assignable, 5, seed)

	sess := sim.NewSession(sim.Config{
		SessionID:  sessionID,
		VirtualEnd: float64(wallMinutes) * 60,
		WallLength: time.Duration(wallMinutes) * time.Minute,
		OnTick:     flow.Tick,
	}, exch, pool, log)

	go func() {
		if err := sess.RunConcurrent(); err != nil {
			log.Error("demo session ended", zap.Error(err))
		}
	}()

	srv := newServer(sess.Coordinator(), authToken, corsOrigin, log)
	log.Info("listening", zap.String("addr", listenAddr), zap.String("session", sessionID))
	if err := http.ListenAndServe(listenAddr, srv.routes()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newServer(coord *sim.Coordinator, authToken, corsOrigin string, log *zap.Logger) *server {
	s := &server{
		coord:      coord,
		bookHub:    newHub[*engine.MarketView](),
		tradeHub:   newHub[engine.TapeSummary](),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken:  authToken,
		corsOrigin: corsOrigin,
		log:        log,
	}
	go s.consumeUpdates()
	go s.consumeTrades()
	return s
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/book", s.withCORS(s.withAuth(http.HandlerFunc(s.handleBook)))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/tape", s.withCORS(s.withAuth(http.HandlerFunc(s.handleTape)))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/ws/book", s.withCORS(s.withAuth(http.HandlerFunc(s.handleBookStream))))
	r.Handle("/ws/trades", s.withCORS(s.withAuth(http.HandlerFunc(s.handleTradeStream))))
	return r
}

func (s *server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.View())
}

func (s *server) handleTape(w http.ResponseWriter, r *http.Request) {
	view := s.coord.View()
	writeJSON(w, http.StatusOK, view.Tape)
}

func (s *server) handleBookStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.bookHub.Subscribe(32)
	defer s.bookHub.Unsubscribe(sub)

	for view := range sub.ch {
		msg := outboundMessage{Type: "book", Data: view}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.tradeHub.Subscribe(32)
	defer s.tradeHub.Unsubscribe(sub)

	for trade := range sub.ch {
		msg := outboundMessage{Type: "trade", Data: trade}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *server) consumeUpdates() {
	for view := range s.coord.Updates() {
		s.bookHub.Broadcast(view)
	}
}

func (s *server) consumeTrades() {
	for trade := range s.coord.Trades() {
		s.tradeHub.Broadcast(trade)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
