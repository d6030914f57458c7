// Copyright 2024-2026 Aiku AI

package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func lastPost(t *testing.T, env *testEnv) *model.Post {
	t.Helper()
	var post model.Post
	if err := json.Unmarshal([]byte(env.fake.LastBody("/api/v4/posts")), &post); err != nil {
		t.Fatalf("decode created post: %v", err)
	}
	return &post
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages", map[string]string{
		"chat_id":  "ch1",
		"content":  "plain",
		"html":     "<b>hi</b>",
		"reply_to": "root1",
	})
	expectStatus(t, rec, http.StatusCreated)
	msg := decode[Message](t, rec)
	if msg.ID != "created-post-id" || msg.Body != "**hi**" || !msg.FromMe || msg.ReplyTo != "root1" {
		t.Errorf("unexpected message %+v", msg)
	}

	post := lastPost(t, env)
	if post.ChannelId != "ch1" || post.Message != "**hi**" || post.RootId != "root1" {
		t.Errorf("unexpected post sent %+v", post)
	}
	if post.PendingPostId == "" {
		t.Error("pending_post_id should be set")
	}
}

func TestSendMessagePlain(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/messages", map[string]string{
		"chat_id": "ch1",
		"content": "just *text*",
	}), http.StatusCreated)
	if post := lastPost(t, env); post.Message != "just *text*" {
		t.Errorf("message: got %q", post.Message)
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no chat", `{"content":"x"}`, "chat_id is required"},
		{"no content", `{"chat_id":"ch1"}`, "content or html is required"},
		{"empty html", `{"chat_id":"ch1","html":"<p></p>"}`, "message is empty"},
		{"blank content", `{"chat_id":"ch1","content":"  \n "}`, "message is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := expectError(t, env.do(t, http.MethodPost, "/api/messages", tt.body), http.StatusBadRequest, CodeBadRequest)
			if !strings.Contains(resp.Error, tt.want) {
				t.Errorf("error: got %q, want it to contain %q", resp.Error, tt.want)
			}
		})
	}
	if env.fake.CalledWith(http.MethodPost, "/api/v4/posts") {
		t.Error("invalid requests must not reach Mattermost")
	}
}

func TestSendMedia(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages/media", map[string]string{
		"chat_id":  "ch1",
		"filename": "../../pic",
		"data":     base64.StdEncoding.EncodeToString(pngHeader),
		"caption":  "look",
	})
	expectStatus(t, rec, http.StatusCreated)
	msg := decode[Message](t, rec)
	if !msg.HasMedia || len(msg.FileIDs) != 1 || msg.FileIDs[0] != "uploaded-file-id" || msg.Body != "look" {
		t.Errorf("unexpected message %+v", msg)
	}
	if upload := env.fake.LastBody("/api/v4/files"); !strings.Contains(upload, `filename="pic.png"`) {
		t.Errorf("upload should carry the sanitized filename, got %q", upload)
	}
	if post := lastPost(t, env); len(post.FileIds) != 1 || post.FileIds[0] != "uploaded-file-id" {
		t.Errorf("post file ids: got %v", post.FileIds)
	}
}

func TestSendMediaValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for name, body := range map[string]string{
		"bad base64":   `{"chat_id":"ch1","filename":"a.txt","data":"!!!"}`,
		"no filename":  `{"chat_id":"ch1","data":"aGk="}`,
		"no data":      `{"chat_id":"ch1","filename":"a.txt"}`,
		"long name":    `{"chat_id":"ch1","filename":"` + strings.Repeat("a", 256) + `","data":"aGk="}`,
		"invalid json": `[]`,
	} {
		t.Run(name, func(t *testing.T) {
			expectError(t, env.do(t, http.MethodPost, "/api/messages/media", body), http.StatusBadRequest, CodeBadRequest)
		})
	}
	if env.fake.CalledPath("/api/v4/files") {
		t.Error("invalid uploads must not reach Mattermost")
	}
}

func TestGetEditDeleteMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.fake.PostsByID["p1"] = &model.Post{
		Id: "p1", ChannelId: "ch1", UserId: "me1", Message: "old", CreateAt: 1000,
		Metadata: &model.PostMetadata{Reactions: []*model.Reaction{{UserId: "other1", EmojiName: "+1", CreateAt: 1500}}},
	}

	rec := env.do(t, http.MethodGet, "/api/messages/p1", nil)
	expectStatus(t, rec, http.StatusOK)
	msg := decode[Message](t, rec)
	if msg.Body != "old" || len(msg.Reactions) != 1 || msg.Reactions[0].Emoji != "\U0001f44d" {
		t.Errorf("unexpected message %+v", msg)
	}

	rec = env.do(t, http.MethodPut, "/api/messages/p1", map[string]string{"html": "<em>new</em>"})
	expectStatus(t, rec, http.StatusOK)
	msg = decode[Message](t, rec)
	if msg.Body != "_new_" || msg.EditedAt == nil {
		t.Errorf("unexpected edited message %+v", msg)
	}
	if !strings.Contains(env.fake.LastBody("/api/v4/posts/p1/patch"), `"message":"_new_"`) {
		t.Error("expected patch with converted markdown")
	}
	expectError(t, env.do(t, http.MethodPut, "/api/messages/p1", "{}"), http.StatusBadRequest, CodeBadRequest)

	rec = env.do(t, http.MethodDelete, "/api/messages/p1", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec); got["id"] != "p1" || got["deleted"] != true {
		t.Errorf("unexpected body %v", got)
	}
	if !env.fake.CalledWith(http.MethodDelete, "/api/v4/posts/p1") {
		t.Error("expected delete call")
	}
}

func TestEditMessageRejectsEmptyResult(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.fake.PostsByID["p1"] = &model.Post{Id: "p1", ChannelId: "ch1", UserId: "me1", Message: "old", CreateAt: 1000}

	for _, body := range []string{`{"html":"<p></p>"}`, `{"html":"<br>","content":"x"}`} {
		resp := expectError(t, env.do(t, http.MethodPut, "/api/messages/p1", body), http.StatusBadRequest, CodeBadRequest)
		if !strings.Contains(resp.Error, "message is empty") {
			t.Errorf("unexpected error %q for %s", resp.Error, body)
		}
	}
	if env.fake.CalledPath("/api/v4/posts/p1/patch") {
		t.Error("empty edits must not reach Mattermost")
	}
}

func TestReactions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages/p1/reactions", map[string]string{"emoji": "\U0001f44d"})
	expectStatus(t, rec, http.StatusCreated)
	reaction := decode[Reaction](t, rec)
	if reaction.EmojiName != "+1" || reaction.UserID != "me1" || reaction.Emoji != "\U0001f44d" {
		t.Errorf("unexpected reaction %+v", reaction)
	}
	expectError(t, env.do(t, http.MethodPost, "/api/messages/p1/reactions", "{}"), http.StatusBadRequest, CodeBadRequest)

	rec = env.do(t, http.MethodDelete, "/api/messages/p1/reactions/thumbsup", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec); got["emoji_name"] != "+1" || got["removed"] != true {
		t.Errorf("unexpected body %v", got)
	}
	if !env.fake.CalledWith(http.MethodDelete, "/api/v4/users/me1/posts/p1/reactions/+1") {
		t.Error("expected delete reaction call")
	}
}
