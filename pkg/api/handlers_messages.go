// Copyright 2024-2026 Aiku AI

package api

import (
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.mau.fi/util/exhttp"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mattermost-rest/pkg/format/emoji"
	"github.com/aiku/mattermost-rest/pkg/format/markdownfmt"
)

type sendMessageRequest struct {
	ChatID  string `json:"chat_id" validate:"required"`
	Content string `json:"content" validate:"required_without=HTML"`
	HTML    string `json:"html" validate:"required_without=Content"`
	ReplyTo string `json:"reply_to"`
}

type sendMediaRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	Filename string `json:"filename" validate:"required,max=255"`
	Data     string `json:"data" validate:"required,base64"`
	Caption  string `json:"caption"`
	ReplyTo  string `json:"reply_to"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required_without=HTML"`
	HTML    string `json:"html" validate:"required_without=Content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

const errEmptyMessage = "message is empty after formatting"

// messageText picks the markdown to post. HTML wins over plain content.
func messageText(content, html string) string {
	return markdownfmt.Convert(&event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          content,
		Format:        lo.Ternary(html != "", event.FormatHTML, ""),
		FormattedBody: html,
	})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request, client *model.Client4, post *model.Post) {
	post.PendingPostId = uuid.NewString()
	created, _, err := client.CreatePost(r.Context(), post)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusCreated, toMessage(created, s.sess.UserID()))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text := messageText(req.Content, req.HTML)
	if strings.TrimSpace(text) == "" {
		badRequest(w, errEmptyMessage)
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	s.createPost(w, r, client, &model.Post{
		ChannelId: req.ChatID,
		Message:   text,
		RootId:    req.ReplyTo,
	})
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		badRequest(w, "data must be valid base64")
		return
	}
	if len(data) == 0 {
		badRequest(w, "data must not be empty")
		return
	}
	filename := filepath.Base(req.Filename)
	if filepath.Ext(filename) == "" {
		filename += mimetype.Detect(data).Extension()
	}

	client, ok := s.client(w, r)
	if !ok {
		return
	}
	resp, _, err := client.UploadFile(r.Context(), data, req.ChatID, filename)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if len(resp.FileInfos) == 0 {
		writeError(w, http.StatusInternalServerError, CodeUpstreamError, "no file info returned from upload")
		return
	}
	s.createPost(w, r, client, &model.Post{
		ChannelId: req.ChatID,
		Message:   req.Caption,
		RootId:    req.ReplyTo,
		FileIds:   model.StringArray{resp.FileInfos[0].Id},
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	post, _, err := client.GetPost(r.Context(), r.PathValue("message_id"), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toMessage(post, s.sess.UserID()))
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text := messageText(req.Content, req.HTML)
	if strings.TrimSpace(text) == "" {
		badRequest(w, errEmptyMessage)
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	post, _, err := client.PatchPost(r.Context(), r.PathValue("message_id"), &model.PostPatch{Message: &text})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toMessage(post, s.sess.UserID()))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	messageID := r.PathValue("message_id")
	if _, err := client.DeletePost(r.Context(), messageID); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"id": messageID, "deleted": true})
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	saved, _, err := client.SaveReaction(r.Context(), &model.Reaction{
		UserId:    s.sess.UserID(),
		PostId:    r.PathValue("message_id"),
		EmojiName: emoji.ToName(req.Emoji),
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusCreated, toReaction(saved))
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	messageID := r.PathValue("message_id")
	name := emoji.ToName(r.PathValue("emoji"))
	_, err := client.DeleteReaction(r.Context(), &model.Reaction{
		UserId:    s.sess.UserID(),
		PostId:    messageID,
		EmojiName: name,
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"message_id": messageID, "emoji_name": name, "removed": true})
}
