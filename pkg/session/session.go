// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session owns the single authenticated Mattermost client handle,
// its websocket and the readiness flag derived from their lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/mattermost-rest/pkg/config"
)

// State is the lifecycle state of the session.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateReady          State = "ready"
	StateAuthFailure    State = "auth_failure"
	StateLoggedOut      State = "logged_out"
)

var (
	// ErrNotReady is returned by Client while the websocket is not live.
	ErrNotReady = errors.New("session is not ready")
	// ErrNotLoggedIn is returned by operations that need a client handle.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrAlreadyLoggedIn is returned by the login methods while a client
	// handle exists. Log out first to switch accounts.
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// Status is a snapshot of the session for the status endpoint.
type Status struct {
	State     State              `json:"state"`
	Ready     bool               `json:"ready"`
	LoggedIn  bool               `json:"logged_in"`
	UserID    string             `json:"user_id,omitempty"`
	Username  string             `json:"username,omitempty"`
	ServerURL string             `json:"server_url,omitempty"`
	TeamID    string             `json:"team_id,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	ChangedAt jsontime.UnixMilli `json:"changed_at"`
}

type stateInfo struct {
	state     State
	lastError string
	changedAt time.Time
}

// Session is the long-lived client handle. All methods are safe for
// concurrent use.
type Session struct {
	cfg *config.MattermostConfig
	log zerolog.Logger

	// loginMu serializes login attempts.
	loginMu sync.Mutex

	mu        sync.RWMutex
	client    *model.Client4
	wsClient  *model.WebSocketClient
	stopChan  chan struct{}
	me        *model.User
	teamID    string
	serverURL string

	state atomic.Pointer[stateInfo]

	listenerMu sync.RWMutex
	listeners  []Listener
}

// New creates a disconnected session.
func New(cfg *config.MattermostConfig, log zerolog.Logger) *Session {
	s := &Session{
		cfg: cfg,
		log: log.With().Str("component", "session").Logger(),
	}
	s.state.Store(&stateInfo{state: StateDisconnected, changedAt: time.Now()})
	return s
}

func (s *Session) setState(state State, err error) {
	info := &stateInfo{state: state, changedAt: time.Now()}
	if err != nil {
		info.lastError = err.Error()
	}
	prev := s.state.Swap(info)
	if prev.state != state {
		s.log.Debug().Str("from", string(prev.state)).Str("to", string(state)).Msg("Session state changed")
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.Load().state
}

// Ready reports whether the websocket is live and requests may be served.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	info := s.state.Load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:     info.state,
		Ready:     info.state == StateReady,
		LoggedIn:  s.client != nil && s.client.AuthToken != "",
		ServerURL: s.serverURL,
		TeamID:    s.teamID,
		LastError: info.lastError,
		ChangedAt: jsontime.UM(info.changedAt),
	}
	if s.me != nil {
		st.UserID = s.me.Id
		st.Username = s.me.Username
	}
	return st
}

// Client returns the REST handle, or ErrNotReady when the session is not
// ready.
func (s *Session) Client() (*model.Client4, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNotReady
	}
	return s.client, nil
}

// UserID returns the authenticated user's ID.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.me == nil {
		return ""
	}
	return s.me.Id
}

// TeamID returns the first team of the authenticated user.
func (s *Session) TeamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teamID
}

// LoginWithToken authenticates with a personal access or session token and
// connects the websocket.
func (s *Session) LoginWithToken(ctx context.Context, serverURL, token string) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.hasClient() {
		return ErrAlreadyLoggedIn
	}
	serverURL = strings.TrimRight(serverURL, "/")
	s.setState(StateAuthenticating, nil)
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	return s.finishLogin(ctx, serverURL, client)
}

// LoginWithPassword logs in with a username or email and a password, then
// continues with the session token like LoginWithToken.
func (s *Session) LoginWithPassword(ctx context.Context, serverURL, loginID, password string) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.hasClient() {
		return ErrAlreadyLoggedIn
	}
	serverURL = strings.TrimRight(serverURL, "/")
	s.setState(StateAuthenticating, nil)
	client := model.NewAPIv4Client(serverURL)
	if _, _, err := client.Login(ctx, loginID, password); err != nil {
		err = fmt.Errorf("login failed: %w", err)
		s.authFailed(err)
		return err
	}
	return s.finishLogin(ctx, serverURL, client)
}

// LoginFromConfig logs in with the credentials of the config file, preferring
// the token.
func (s *Session) LoginFromConfig(ctx context.Context) error {
	switch {
	case !s.cfg.HasCredentials():
		return ErrNotLoggedIn
	case s.cfg.Token != "":
		return s.LoginWithToken(ctx, s.cfg.ServerURL, s.cfg.Token)
	default:
		return s.LoginWithPassword(ctx, s.cfg.ServerURL, s.cfg.LoginID, s.cfg.Password)
	}
}

func (s *Session) hasClient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

func (s *Session) authFailed(err error) {
	s.log.Error().Err(err).Msg("Authentication failed")
	s.setState(StateAuthFailure, err)
	s.emit(EventAuthFailure, &LifecycleEvent{State: StateAuthFailure, Error: err.Error()})
}

func (s *Session) finishLogin(ctx context.Context, serverURL string, client *model.Client4) error {
	me, _, err := client.GetMe(ctx, "")
	if err != nil {
		err = fmt.Errorf("authentication failed: %w", err)
		s.authFailed(err)
		return err
	}
	teamID, err := fetchFirstTeamID(ctx, client, me.Id)
	if err != nil {
		s.authFailed(err)
		return err
	}

	s.mu.Lock()
	s.teardownLocked()
	s.client = client
	s.me = me
	s.teamID = teamID
	s.serverURL = serverURL
	s.mu.Unlock()

	s.log.Info().
		Str("user_id", me.Id).
		Str("username", me.Username).
		Str("server_url", serverURL).
		Msg("Authenticated")
	s.setState(StateAuthenticated, nil)
	s.emit(EventAuthenticated, &LifecycleEvent{State: StateAuthenticated, UserID: me.Id})

	return s.Connect(ctx)
}

// fetchFirstTeamID returns the first team's ID, or an empty string if the
// user has no teams.
func fetchFirstTeamID(ctx context.Context, client *model.Client4, userID string) (string, error) {
	teams, _, err := client.GetTeamsForUser(ctx, userID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get teams: %w", err)
	}
	if len(teams) > 0 {
		return teams[0].Id, nil
	}
	return "", nil
}

// Connect opens the websocket and starts the event loop. Any existing
// websocket is closed first. The dial happens outside s.mu.
func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.teardownLocked()
	wsURL := httpToWS(s.serverURL)
	userID := s.me.Id
	s.mu.Unlock()

	ws, err := model.NewWebSocketClient4(wsURL, client.AuthToken)
	if err != nil {
		err = fmt.Errorf("failed to create websocket client: %w", err)
		s.log.Error().Err(err).Msg("WebSocket connection failed")
		s.setState(StateDisconnected, err)
		return err
	}

	s.mu.Lock()
	if s.client != client {
		// Logged out while dialing.
		s.mu.Unlock()
		ws.Close()
		return ErrNotLoggedIn
	}
	// A concurrent Connect may have won the race; the latest dial replaces it.
	s.teardownLocked()
	ws.Listen()
	stop := make(chan struct{})
	s.wsClient = ws
	s.stopChan = stop
	s.mu.Unlock()

	go s.listenWebSocket(ws, stop)

	s.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	s.setState(StateReady, nil)
	s.emit(EventReady, &LifecycleEvent{State: StateReady, UserID: userID})
	return nil
}

// Reconnect tears down the websocket and connects again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.RLock()
	loggedIn := s.client != nil
	s.mu.RUnlock()
	if !loggedIn {
		return ErrNotLoggedIn
	}
	s.log.Info().Msg("Reconnecting WebSocket")
	return s.Connect(ctx)
}

// Disconnect stops the event loop and closes the websocket. The client
// handle is kept so Reconnect can be used afterwards.
func (s *Session) Disconnect() {
	s.mu.Lock()
	hadSocket := s.teardownLocked()
	s.mu.Unlock()
	if !hadSocket {
		return
	}
	s.setState(StateDisconnected, nil)
	s.emit(EventDisconnected, &LifecycleEvent{State: StateDisconnected})
}

// Logout invalidates the session token on the server and drops the handle.
// A failed server-side logout is logged and the local state is still cleared.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.teardownLocked()
	s.client = nil
	s.me = nil
	s.teamID = ""
	s.mu.Unlock()

	if _, err := client.Logout(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Server-side logout failed")
	}
	s.log.Info().Msg("Logged out")
	s.setState(StateLoggedOut, nil)
	s.emit(EventLoggedOut, &LifecycleEvent{State: StateLoggedOut})
	return nil
}

// teardownLocked stops the event loop before closing the socket so the loop
// sees the stop signal rather than a disconnect. Callers hold s.mu.
func (s *Session) teardownLocked() bool {
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
	if s.wsClient == nil {
		return false
	}
	s.wsClient.Close()
	s.wsClient = nil
	return true
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (s *Session) listenWebSocket(ws *model.WebSocketClient, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				select {
				case <-stop:
					return
				default:
				}
				s.handleWebSocketDisconnect(ws)
				return
			}
			if evt == nil {
				continue
			}
			s.handleEvent(evt)
		}
	}
}

func (s *Session) handleWebSocketDisconnect(ws *model.WebSocketClient) {
	s.mu.Lock()
	if s.wsClient != ws {
		// Replaced by a newer connection in the meantime.
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	err := errors.New("websocket closed")
	if ws.ListenError != nil {
		err = ws.ListenError
	}
	s.log.Warn().Err(err).Msg("WebSocket event channel closed, reconnecting")
	s.setState(StateDisconnected, err)
	s.emit(EventDisconnected, &LifecycleEvent{State: StateDisconnected, Error: err.Error()})

	if err := s.Connect(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
	}
}
