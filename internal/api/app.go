package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/tutor-chat/internal/chat"
	"github.com/npezzotti/tutor-chat/internal/config"
	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/npezzotti/tutor-chat/internal/server"
	"github.com/sirupsen/logrus"
)

type ChatApp struct {
	log            *logrus.Logger
	db             database.ChatRepository
	svc            *chat.Service
	cs             *server.ChatServer
	srv            *http.Server
	accessLog      io.WriteCloser
	allowedOrigins []string
	anyOrigin      bool
	systemSenderId int64
}

func NewChatApp(mux *http.ServeMux, logger *logrus.Logger, cs *server.ChatServer, svc *chat.Service, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		svc:            svc,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
		anyOrigin:      cfg.AllowsAnyOrigin(),
		systemSenderId: cfg.SystemSenderId,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /create-room", s.createRoom)
	mux.HandleFunc("GET /messages/{room_id}", s.noStore(s.getMessages))
	mux.HandleFunc("GET /students-chats", s.noStore(s.getStudentsChats))
	mux.HandleFunc("POST /mark-as-read", s.markAsRead)
	mux.HandleFunc("POST /send-message", s.sendMessage)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)

	s.accessLog = logger.WriterLevel(logrus.InfoLevel)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("starting server")
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	defer s.accessLog.Close()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
