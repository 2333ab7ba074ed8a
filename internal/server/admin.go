package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chat-relay/chat-relay/internal/protocol"
	"github.com/chat-relay/chat-relay/internal/store"
)

// The admin endpoint is the external provisioning boundary: chats and
// participant lists are created here, never over the chat protocol itself.

type createChatRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Avatar       string   `json:"avatar"`
	Participants []string `json:"participants"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// AdminHandler builds the operational and provisioning routes.
func (s *RelayServer) AdminHandler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.metricsRg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	router.HandleFunc("/admin/chats", s.handleCreateChat).Methods(http.MethodPost)
	router.HandleFunc("/admin/chats/{chat_id}", s.handleGetChat).Methods(http.MethodGet)
	router.HandleFunc("/admin/chats/{chat_id}/participants/{user_id}", s.handleAddParticipant).Methods(http.MethodPut)
	router.HandleFunc("/admin/chats/{chat_id}/participants/{user_id}", s.handleRemoveParticipant).Methods(http.MethodDelete)
	return router
}

func (s *RelayServer) startAdminServer() {
	if s.cfg.Admin.Address == "" {
		return
	}

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

func (s *RelayServer) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	chat := store.Chat{ID: req.ID, Name: req.Name, Kind: req.Kind, Avatar: req.Avatar}
	for _, p := range req.Participants {
		chat.Participants = append(chat.Participants, store.ChatParticipant{UserID: p})
	}

	if err := s.store.CreateChat(r.Context(), chat); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info("chat provisioned", zap.String("chat_id", req.ID), zap.Int("participants", len(req.Participants)))

	created, err := s.store.Chat(r.Context(), req.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.ChatWire(created))
}

func (s *RelayServer) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.Chat(r.Context(), mux.Vars(r)["chat_id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ChatWire(chat))
}

func (s *RelayServer) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.AddParticipant(r.Context(), vars["chat_id"], vars["user_id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayServer) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.RemoveParticipant(r.Context(), vars["chat_id"], vars["user_id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrInvalidChat):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrChatExists), errors.Is(err, store.ErrLastParticipant):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.log.Error("admin request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
