// Copyright 2024-2026 Aiku AI

package api

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mattermost-rest/pkg/config"
)

type directChatRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type typingRequest struct {
	ParentID string `json:"parent_id"`
}

// handleListChats merges the team channels with every channel of the user,
// including direct and group messages across teams.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID, teamID := s.sess.UserID(), s.sess.TeamID()

	channels := make(map[string]*model.Channel)
	if teamID != "" {
		teamChannels, _, err := client.GetChannelsForTeamForUser(ctx, teamID, userID, false, "")
		if err != nil {
			s.writeUpstreamError(w, r, err)
			return
		}
		for _, ch := range teamChannels {
			channels[ch.Id] = ch
		}
	}
	allChannels, _, err := client.GetChannelsForUserWithLastDeleteAt(ctx, userID, 0)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	for _, ch := range allChannels {
		channels[ch.Id] = ch
	}

	chats := lo.MapToSlice(channels, func(_ string, ch *model.Channel) *Chat {
		return toChat(ch, userID)
	})
	if typ := r.URL.Query().Get("type"); typ != "" {
		chats = lo.Filter(chats, func(c *Chat, _ int) bool { return c.Type == typ })
	}
	slices.SortFunc(chats, func(a, b *Chat) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	exhttp.WriteJSONResponse(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ch, _, err := client.GetChannel(r.Context(), r.PathValue("chat_id"), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toChat(ch, s.sess.UserID()))
}

func (s *Server) handleCreateDirectChat(w http.ResponseWriter, r *http.Request) {
	var req directChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	userID := s.sess.UserID()
	ch, _, err := client.CreateDirectChannel(r.Context(), userID, req.UserID)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toChat(ch, userID))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := s.cfg.MessagesDefaultLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > config.MaxMessagesLimit {
			badRequest(w, "limit must be an integer between 1 and "+strconv.Itoa(config.MaxMessagesLimit))
			return
		}
		limit = n
	}
	before, after := query.Get("before"), query.Get("after")
	if before != "" && after != "" {
		badRequest(w, "before and after are mutually exclusive")
		return
	}

	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	chatID := r.PathValue("chat_id")
	var (
		list *model.PostList
		err  error
	)
	switch {
	case before != "":
		list, _, err = client.GetPostsBefore(ctx, chatID, before, 0, limit, "", false, false)
	case after != "":
		list, _, err = client.GetPostsAfter(ctx, chatID, after, 0, limit, "", false, false)
	default:
		list, _, err = client.GetPostsForChannel(ctx, chatID, 0, limit, "", false, false)
	}
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toMessages(list, s.sess.UserID()))
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("chat_id")
	_, _, err := client.ViewChannel(r.Context(), s.sess.UserID(), &model.ChannelView{ChannelId: chatID})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"chat_id": chatID, "seen": true})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("chat_id")
	_, err := client.PublishUserTyping(r.Context(), s.sess.UserID(), model.TypingRequest{
		ChannelId: chatID,
		ParentId:  req.ParentID,
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"chat_id": chatID, "typing": true})
}
