// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
)

func TestListChats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	pub := &model.Channel{Id: "pub1", Name: "town-square", DisplayName: "Town Square", Type: model.ChannelTypeOpen, TeamId: "team1", LastPostAt: 100}
	priv := &model.Channel{Id: "priv1", Name: "secret", Type: model.ChannelTypePrivate, TeamId: "team1", LastPostAt: 300}
	dm := &model.Channel{Id: "dm1", Name: "me1__other1", Type: model.ChannelTypeDirect, LastPostAt: 200}
	env.fake.ChannelsForTeamUser["team1:me1"] = []*model.Channel{pub, priv}
	env.fake.ChannelsForUser["me1"] = []*model.Channel{pub, dm}

	rec := env.do(t, http.MethodGet, "/api/chats", nil)
	expectStatus(t, rec, http.StatusOK)
	chats := decode[[]Chat](t, rec)
	ids := lo.Map(chats, func(c Chat, _ int) string { return c.ID })
	if want := []string{"priv1", "dm1", "pub1"}; !slices.Equal(ids, want) {
		t.Fatalf("order: got %v, want %v", ids, want)
	}
	if chats[1].Type != "direct" || chats[1].PeerID != "other1" || chats[1].IsGroup {
		t.Errorf("unexpected direct chat %+v", chats[1])
	}
	if chats[2].Type != "public" || !chats[2].IsGroup || chats[2].LastMessageAt.UnixMilli() != 100 {
		t.Errorf("unexpected public chat %+v", chats[2])
	}

	rec = env.do(t, http.MethodGet, "/api/chats?type=direct", nil)
	expectStatus(t, rec, http.StatusOK)
	if direct := decode[[]Chat](t, rec); len(direct) != 1 || direct[0].ID != "dm1" {
		t.Errorf("type filter: got %+v", direct)
	}
}

func TestGetChat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.fake.Channels["ch1"] = &model.Channel{Id: "ch1", DisplayName: "General", Type: model.ChannelTypeOpen, Header: "hello"}

	rec := env.do(t, http.MethodGet, "/api/chats/ch1", nil)
	expectStatus(t, rec, http.StatusOK)
	if chat := decode[Chat](t, rec); chat.DisplayName != "General" || chat.Header != "hello" {
		t.Errorf("unexpected chat %+v", chat)
	}

	resp := expectError(t, env.do(t, http.MethodGet, "/api/chats/missing", nil), http.StatusInternalServerError, CodeUpstreamError)
	if resp.UpstreamStatus != http.StatusNotFound {
		t.Errorf("upstream_status: got %d", resp.UpstreamStatus)
	}
}

func TestCreateDirectChat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chats/direct", map[string]string{"user_id": "other1"})
	expectStatus(t, rec, http.StatusOK)
	chat := decode[Chat](t, rec)
	if chat.ID != "dm-me1-other1" || chat.PeerID != "other1" || chat.Type != "direct" {
		t.Errorf("unexpected chat %+v", chat)
	}

	resp := expectError(t, env.do(t, http.MethodPost, "/api/chats/direct", "{}"), http.StatusBadRequest, CodeBadRequest)
	if resp.Error != "user_id is required" {
		t.Errorf("error: got %q", resp.Error)
	}
}

func TestListMessages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	list := model.NewPostList()
	list.AddPost(&model.Post{Id: "p1", ChannelId: "ch1", UserId: "other1", Message: "hello", CreateAt: 1000})
	list.AddPost(&model.Post{Id: "p2", ChannelId: "ch1", UserId: "me1", Message: "**hi**", CreateAt: 2000, EditAt: 2500})
	list.AddOrder("p2")
	list.AddOrder("p1")
	env.fake.Posts["ch1"] = list

	rec := env.do(t, http.MethodGet, "/api/chats/ch1/messages", nil)
	expectStatus(t, rec, http.StatusOK)
	msgs := decode[[]Message](t, rec)
	if len(msgs) != 2 || msgs[0].ID != "p2" || msgs[1].ID != "p1" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !msgs[0].FromMe || msgs[1].FromMe {
		t.Error("from_me should only be set for own posts")
	}
	if msgs[0].FormattedBody != "<strong>hi</strong>" || msgs[0].EditedAt == nil {
		t.Errorf("unexpected rendering %+v", msgs[0])
	}
	if msgs[1].FormattedBody != "" || msgs[1].EditedAt != nil {
		t.Errorf("plain post should have no formatted body, got %+v", msgs[1])
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/chats/ch1/messages?before=p2&limit=10", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/chats/ch1/messages?after=p1", nil), http.StatusOK)
}

func TestListMessagesValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for _, query := range []string{"limit=0", "limit=201", "limit=abc", "before=a&after=b"} {
		t.Run(query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/chats/ch1/messages?"+query, nil)
			expectError(t, rec, http.StatusBadRequest, CodeBadRequest)
		})
	}
}

func TestMarkSeenAndTyping(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chats/ch1/seen", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec); got["chat_id"] != "ch1" || got["seen"] != true {
		t.Errorf("unexpected body %v", got)
	}
	if !env.fake.CalledWith(http.MethodPost, "/api/v4/channels/members/me1/view") {
		t.Error("expected view call")
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/chats/ch1/typing", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/chats/ch1/typing", map[string]string{"parent_id": "root1"}), http.StatusOK)
	if !env.fake.CalledWith(http.MethodPost, "/api/v4/users/me1/typing") {
		t.Error("expected typing call")
	}
}

func TestTypingBodyIsOptional(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chats/ch1/typing", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/chats/ch1/typing", `{"parent_id":`)
	expectError(t, rec, http.StatusBadRequest, CodeBadRequest)
}
