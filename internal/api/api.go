package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/abroadhq/chat-server/internal/chat"
	"github.com/abroadhq/chat-server/internal/config"
	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/server"
)

type ChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	chat           *chat.Service
	signingKey     []byte
	allowedOrigins []string
	pollInterval   time.Duration
	dedupWindow    time.Duration
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, svc *chat.Service, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		chat:           svc,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		pollInterval:   cfg.PollInterval,
		dedupWindow:    cfg.DedupWindow,
	}

	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/messages/{id}", s.authMiddleware(s.getMessage))
	mux.Handle("PUT /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.closeRoom))
	mux.Handle("GET /api/subscriptions", s.authMiddleware(s.getSubscriptions))
	mux.Handle("POST /api/participants", s.authMiddleware(s.addParticipant))
	mux.Handle("DELETE /api/participants", s.authMiddleware(s.removeParticipant))
	mux.Handle("POST /api/read", s.authMiddleware(s.markRead))
	mux.Handle("GET /api/unread", s.authMiddleware(s.getUnreadCount))
	mux.Handle("GET /api/client-config", s.authMiddleware(s.getClientConfig))
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
