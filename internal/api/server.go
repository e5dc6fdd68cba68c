package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantflow/backtest-engine/internal/orchestrator"
	"github.com/quantflow/backtest-engine/internal/telemetry"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// run is one orchestrator.Strategy registered with the server, plus the
// goroutine draining its Events() channel into the Hub/logger/metrics.
type run struct {
	id       string
	strategy *orchestrator.Strategy
	cancel   context.CancelFunc
}

// Server exposes strategy lifecycle control over HTTP and RunEvent
// streaming over WebSocket, grounded on the original server's router +
// upgrader shape but adapted to this engine's run registry instead of a
// one-shot backtest-job registry.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	hubDone    chan struct{}

	mu   sync.RWMutex
	runs map[string]*run
}

// NewServer constructs a Server; call Start to begin serving.
func NewServer(logger *zap.Logger, config *types.ServerConfig) *Server {
	s := &Server{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub:     NewHub(logger),
		hubDone: make(chan struct{}),
		runs:    make(map[string]*run),
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router, mainly for tests that want to
// drive the handlers through httptest without a real listening socket.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/strategies", s.handleCreateStrategy).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}", s.handleGetStrategy).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{id}/init", s.handleCommand(cmdInit)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/check", s.handleCommand(cmdCheck)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/play", s.handleCommand(cmdPlay)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/pause", s.handleCommand(cmdPause)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/play_one", s.handleCommand(cmdPlayOne)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/reset", s.handleCommand(cmdReset)).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/stop", s.handleCommand(cmdStop)).Methods(http.MethodPost)

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start wraps the router in CORS and begins serving; it also starts the
// Hub's event loop. Start blocks until the server stops or errors.
func (s *Server) Start() error {
	go s.hub.Run(s.hubDone)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.Host + ":" + strconv.Itoa(s.config.Port),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop shuts every registered strategy down, closes the hub, and shuts
// the HTTP server down gracefully within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	close(s.hubDone)

	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel()
		if err := r.strategy.Stop(ctx); err != nil {
			s.logger.Warn("stop strategy on shutdown", zap.String("run", r.id), zap.Error(err))
		}
		r.strategy.Shutdown()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	count := len(s.runs)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"runs":   count,
	})
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var cfg types.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	strategy, err := orchestrator.NewStrategy(cfg, s.logger)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{id: id, strategy: strategy, cancel: cancel}

	s.mu.Lock()
	s.runs[id] = rn
	s.mu.Unlock()

	go s.drainEvents(ctx, rn)

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            rn.id,
		"state":         string(rn.strategy.FSM.State()),
		"balance":       rn.strategy.AvailableBalance(),
		"strategy_id":   rn.strategy.Config.StrategyId,
		"strategy_name": rn.strategy.Config.StrategyName,
	})
}

type controlCommand string

const (
	cmdInit    controlCommand = "init"
	cmdCheck   controlCommand = "check"
	cmdPlay    controlCommand = "play"
	cmdPause   controlCommand = "pause"
	cmdPlayOne controlCommand = "play_one"
	cmdReset   controlCommand = "reset"
	cmdStop    controlCommand = "stop"
)

func (s *Server) handleCommand(cmd controlCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rn, ok := s.lookup(mux.Vars(r)["id"])
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		var err error
		var result interface{}
		switch cmd {
		case cmdInit:
			err = rn.strategy.Init(ctx)
		case cmdCheck:
			err = rn.strategy.Check(ctx)
		case cmdPlay:
			err = rn.strategy.Play(ctx)
		case cmdPause:
			err = rn.strategy.Pause()
		case cmdPlayOne:
			var cycle types.SignalIndex
			var finished bool
			cycle, finished, err = rn.strategy.PlayOne(ctx)
			result = map[string]interface{}{"cycle": cycle, "finished": finished}
		case cmdReset:
			err = rn.strategy.Reset(ctx)
		case cmdStop:
			err = rn.strategy.Stop(ctx)
		}

		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if result == nil {
			result = map[string]interface{}{"state": string(rn.strategy.FSM.State())}
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// drainEvents forwards rn.strategy.Events() to the Hub, the structured
// logger, and Prometheus metrics until ctx is canceled or the channel
// closes.
func (s *Server) drainEvents(ctx context.Context, rn *run) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rn.strategy.Events():
			if !ok {
				return
			}
			telemetry.LogRunEvent(s.logger, ev)
			telemetry.ObserveRunEvent(ev)
			s.hub.PublishRunEvent(ev)
		}
	}
}

func (s *Server) lookup(id string) (*run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rn, ok := s.runs[id]
	return rn, ok
}
