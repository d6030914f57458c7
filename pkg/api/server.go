// Copyright 2024-2026 Aiku AI

// Package api exposes the Mattermost session as a JSON REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/session"
)

// Session is the part of *session.Session the handlers use.
type Session interface {
	Ready() bool
	Status() session.Status
	Client() (*model.Client4, error)
	UserID() string
	TeamID() string
	LoginWithToken(ctx context.Context, serverURL, token string) error
	LoginWithPassword(ctx context.Context, serverURL, loginID, password string) error
	Logout(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

var _ Session = (*session.Session)(nil)

// Server is the HTTP front of the session.
type Server struct {
	cfg     *config.APIConfig
	mmCfg   *config.MattermostConfig
	sess    Session
	log     zerolog.Logger
	metrics *Metrics

	mux     *http.ServeMux
	handler http.Handler
	srv     *http.Server
}

// New builds the server and its routes. It does not start listening.
func New(cfg *config.Config, sess Session, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     &cfg.API,
		mmCfg:   &cfg.Mattermost,
		sess:    sess,
		log:     log.With().Str("component", "api").Logger(),
		metrics: newMetrics(sess.Ready),
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.handler = exhttp.ApplyMiddleware(s.mux,
		requestLogger(s.log),
		recoverer,
		s.requireAPIKey,
		s.limitBody,
	)
	s.srv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Bool("api_key", s.cfg.Key != "").Msg("Starting HTTP API")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP API: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handle registers an ungated route.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.instrument(pattern, h))
}

// handleReady registers a route that needs a ready session.
func (s *Server) handleReady(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.instrument(pattern, s.requireReady(h)))
}

func (s *Server) routes() {
	s.handle("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.handle("GET /api/session/status", s.handleSessionStatus)
	s.handle("POST /api/session/login", s.handleSessionLogin)
	s.handle("POST /api/session/logout", s.handleSessionLogout)
	s.handle("POST /api/session/reconnect", s.handleSessionReconnect)
	s.handleReady("GET /api/session/me", s.handleSessionMe)

	s.handleReady("GET /api/chats", s.handleListChats)
	s.handleReady("POST /api/chats/direct", s.handleCreateDirectChat)
	s.handleReady("GET /api/chats/{chat_id}", s.handleGetChat)
	s.handleReady("GET /api/chats/{chat_id}/messages", s.handleListMessages)
	s.handleReady("POST /api/chats/{chat_id}/seen", s.handleMarkSeen)
	s.handleReady("POST /api/chats/{chat_id}/typing", s.handleTyping)

	s.handleReady("POST /api/messages", s.handleSendMessage)
	s.handleReady("POST /api/messages/media", s.handleSendMedia)
	s.handleReady("GET /api/messages/{message_id}", s.handleGetMessage)
	s.handleReady("PUT /api/messages/{message_id}", s.handleEditMessage)
	s.handleReady("DELETE /api/messages/{message_id}", s.handleDeleteMessage)
	s.handleReady("POST /api/messages/{message_id}/reactions", s.handleAddReaction)
	s.handleReady("DELETE /api/messages/{message_id}/reactions/{emoji}", s.handleRemoveReaction)

	s.handleReady("GET /api/contacts", s.handleListContacts)
	s.handleReady("GET /api/contacts/{contact_id}", s.handleGetContact)
	s.handleReady("GET /api/contacts/{contact_id}/picture", s.handleContactPicture)

	s.handleReady("POST /api/groups", s.handleCreateGroup)
	s.handleReady("GET /api/groups/{group_id}", s.handleGetGroup)
	s.handleReady("PUT /api/groups/{group_id}", s.handleUpdateGroup)
	s.handleReady("POST /api/groups/{group_id}/participants", s.handleAddParticipants)
	s.handleReady("DELETE /api/groups/{group_id}/participants/{user_id}", s.handleRemoveParticipant)

	s.handleReady("GET /api/files/{file_id}", s.handleGetFile)
	s.handleReady("GET /api/files/{file_id}/info", s.handleGetFileInfo)
}

// client returns the handle for a gated handler, writing a 503 when the
// session dropped between the gate and the call.
func (s *Server) client(w http.ResponseWriter, r *http.Request) (*model.Client4, bool) {
	client, err := s.sess.Client()
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return nil, false
	}
	return client, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ready":  s.sess.Ready(),
	})
}
