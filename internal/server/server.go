package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chat-relay/chat-relay/internal/config"
	"github.com/chat-relay/chat-relay/internal/hub"
	"github.com/chat-relay/chat-relay/internal/presence"
	"github.com/chat-relay/chat-relay/internal/store"
)

const writeWait = 10 * time.Second

// RelayServer wires dependencies and hosts the websocket listener plus the
// admin HTTP endpoint.
type RelayServer struct {
	cfg       config.Config
	log       *zap.Logger
	store     store.ChatStore
	hub       *hub.Hub
	metricsRg *prometheus.Registry
	httpSrv   *http.Server
	adminHTTP *http.Server
	upgrader  websocket.Upgrader
	ready     atomic.Bool
}

// NewRelayServer constructs a server with its dependencies.
func NewRelayServer(cfg config.Config, logger *zap.Logger, chats store.ChatStore) *RelayServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	s := &RelayServer{
		cfg:       cfg,
		log:       logger,
		store:     chats,
		metricsRg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication and origin policy sit in front of this core.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.hub = hub.New(logger, chats, presence.NewRegistry(), hub.Options{
		SendBufferSize: cfg.SendBufferSize,
		Metrics:        hub.NewMetrics(reg),
	})
	return s
}

// Handler builds the public websocket routes.
func (s *RelayServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws/{user_id}", s.handleWebsocket).Methods(http.MethodGet)
	return router
}

// Start boots the listeners and blocks until shutdown.
func (s *RelayServer) Start(ctx context.Context) error {
	s.startAdminServer()

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("websocket server listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *RelayServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	session, err := s.hub.Register(r.Context(), userID)
	if err != nil {
		s.log.Warn("handshake rejected", zap.String("user_id", userID), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid user id")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go s.writePump(conn, session)
	s.readLoop(conn, session)
}

// readLoop feeds inbound frames to the hub until the transport drops. The
// disconnect itself is a normal lifecycle transition, not an error.
func (s *RelayServer) readLoop(conn *websocket.Conn, session *hub.Session) {
	defer func() {
		s.hub.Unregister(session)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.HandleFrame(session, data)
	}
}

// writePump drains the session's outbound queue onto the socket. When the
// session is cancelled (close or supersession) it says goodbye and stops;
// the read loop then observes the closed socket and unregisters.
func (s *RelayServer) writePump(conn *websocket.Conn, session *hub.Session) {
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-session.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case data := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("socket write failed",
					zap.String("user_id", session.UserID()), zap.Error(err))
				return
			}
		}
	}
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *RelayServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("websocket server stopped")
}
