// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"
	"testing"

	"github.com/aiku/mattermost-rest/pkg/session"
)

func TestSessionStatusOffline(t *testing.T) {
	t.Parallel()
	env := newOfflineEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/session/status", nil)
	expectStatus(t, rec, http.StatusOK)
	st := decode[session.Status](t, rec)
	if st.State != session.StateDisconnected || st.Ready || st.LoggedIn {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestSessionLoginWithToken(t *testing.T) {
	t.Parallel()
	fake := newFake(t)
	env := newOfflineEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"server_url": fake.URL,
		"token":      "good-token",
	})
	expectStatus(t, rec, http.StatusOK)
	st := decode[session.Status](t, rec)
	if !st.Ready || st.UserID != "me1" || st.TeamID != "team1" {
		t.Errorf("unexpected status %+v", st)
	}
	if !env.sess.Ready() {
		t.Error("session should be ready")
	}
}

func TestSessionLoginWithPassword(t *testing.T) {
	t.Parallel()
	fake := newFake(t)
	env := newOfflineEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"server_url": fake.URL,
		"login_id":   "alice",
		"password":   "hunter2",
	})
	expectStatus(t, rec, http.StatusOK)
	if !fake.CalledWith(http.MethodPost, "/api/v4/users/login") {
		t.Error("expected password login call")
	}
}

func TestSessionLoginValidation(t *testing.T) {
	t.Parallel()
	env := newOfflineEnv(t, "")
	tests := []struct {
		name string
		body string
	}{
		{"no credentials", `{"server_url":"http://mm.example.com"}`},
		{"login without password", `{"server_url":"http://mm.example.com","login_id":"alice"}`},
		{"bad url", `{"server_url":"not a url","token":"x"}`},
		{"malformed json", `{"token":`},
		{"no server url anywhere", `{"token":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, http.MethodPost, "/api/session/login", tt.body), http.StatusBadRequest, CodeBadRequest)
		})
	}
}

func TestSessionLoginRejected(t *testing.T) {
	t.Parallel()
	fake := newFake(t)
	env := newOfflineEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"server_url": fake.URL,
		"token":      "bad-token",
	})
	resp := expectError(t, rec, http.StatusInternalServerError, CodeUpstreamError)
	if resp.UpstreamStatus != http.StatusUnauthorized {
		t.Errorf("upstream_status: got %d", resp.UpstreamStatus)
	}
	if env.sess.State() != session.StateAuthFailure {
		t.Errorf("state: got %q", env.sess.State())
	}
}

func TestSessionLoginWhileLoggedIn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"server_url": env.fake.URL,
		"token":      "bad-token",
	})
	expectError(t, rec, http.StatusConflict, CodeAlreadyLoggedIn)
	st := env.sess.Status()
	if !st.Ready || st.UserID != "me1" || st.LastError != "" {
		t.Errorf("rejected login changed the session: %+v", st)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/chats", nil), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/api/session/logout", nil), http.StatusOK)
	rec = env.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"server_url": env.fake.URL,
		"token":      "good-token",
	})
	expectStatus(t, rec, http.StatusOK)
}

func TestSessionLogoutWithoutLogin(t *testing.T) {
	t.Parallel()
	env := newOfflineEnv(t, "")
	expectError(t, env.do(t, http.MethodPost, "/api/session/logout", nil), http.StatusConflict, CodeNotLoggedIn)
	expectError(t, env.do(t, http.MethodPost, "/api/session/reconnect", nil), http.StatusConflict, CodeNotLoggedIn)
}

func TestSessionLogout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/logout", nil)
	expectStatus(t, rec, http.StatusOK)
	st := decode[session.Status](t, rec)
	if st.State != session.StateLoggedOut || st.LoggedIn {
		t.Errorf("unexpected status %+v", st)
	}
	if !env.fake.CalledWith(http.MethodPost, "/api/v4/users/logout") {
		t.Error("expected logout call")
	}
	expectError(t, env.do(t, http.MethodGet, "/api/chats", nil), http.StatusServiceUnavailable, CodeNotReady)
}

func TestSessionReconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/session/reconnect", nil)
	expectStatus(t, rec, http.StatusOK)
	if st := decode[session.Status](t, rec); !st.Ready {
		t.Errorf("expected ready after reconnect, got %+v", st)
	}
}

func TestSessionMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/session/me", nil)
	expectStatus(t, rec, http.StatusOK)
	me := decode[Contact](t, rec)
	if me.ID != "me1" || me.DisplayName != "Al" || !me.IsMe {
		t.Errorf("unexpected contact %+v", me)
	}
}
