package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/idgen"
	"github.com/npezzotti/go-messenger/internal/server"
)

type MessengerApp struct {
	log            *log.Logger
	db             database.MessengerRepository
	srv            *http.Server
	cs             *server.ChatServer
	resolver       auth.SessionResolver
	ids            idgen.IDGenerator
	signingKey     []byte
	allowedOrigins []string
}

func NewMessengerApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.MessengerRepository, resolver auth.SessionResolver, ids idgen.IDGenerator, cfg *config.Config) *MessengerApp {
	s := &MessengerApp{
		log:            logger,
		db:             db,
		cs:             cs,
		resolver:       resolver,
		ids:            ids,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.startConversation))
	mux.Handle("DELETE /api/conversations/{id}/membership", s.authMiddleware(s.leaveConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	if logger != nil {
		h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	}
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *MessengerApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *MessengerApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
