// Copyright 2024-2026 Aiku AI

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/mmtest"
	"github.com/aiku/mattermost-rest/pkg/session"
)

const testAPIKey = "secret-key"

func newFake(t *testing.T) *mmtest.Server {
	t.Helper()
	fake := mmtest.NewServer()
	t.Cleanup(fake.Close)
	fake.AddUser(&model.User{Id: "me1", Username: "alice", Nickname: "Al"}, "good-token")
	fake.AddUser(&model.User{Id: "other1", Username: "bob"}, "")
	fake.AddUser(&model.User{Id: "other2", Username: "carol", IsBot: true}, "")
	fake.Teams["me1"] = []*model.Team{{Id: "team1", Name: "main"}}
	fake.Passwords["alice"] = "hunter2"
	return fake
}

func newTestConfig(t *testing.T, apiKey string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Mattermost: config.MattermostConfig{
			DisplaynameTemplate: "{{if .Nickname}}{{.Nickname}}{{else}}{{.Username}}{{end}}",
		},
		API: config.APIConfig{Key: apiKey},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

type testEnv struct {
	fake *mmtest.Server
	sess *session.Session
	srv  *Server
}

// newTestEnv returns a server whose session is logged into a fresh fake.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := newFake(t)
	env := newOfflineEnv(t, "")
	env.fake = fake
	if err := env.sess.LoginWithToken(context.Background(), fake.URL, "good-token"); err != nil {
		t.Fatalf("LoginWithToken: %v", err)
	}
	return env
}

// newOfflineEnv returns a server whose session never logged in.
func newOfflineEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	cfg := newTestConfig(t, apiKey)
	sess := session.New(&cfg.Mattermost, zerolog.Nop())
	t.Cleanup(sess.Disconnect)
	return &testEnv{sess: sess, srv: New(cfg, sess, zerolog.Nop())}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T from %q: %v", out, rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status: got %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	expectStatus(t, rec, status)
	resp := decode[ErrorResponse](t, rec)
	if resp.Code != code {
		t.Errorf("code: got %q, want %q (error %q)", resp.Code, code, resp.Error)
	}
	return resp
}
