// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.mau.fi/util/exhttp"
)

type createGroupRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=2,max=7,unique,dive,required"`
	Name    string   `json:"name" validate:"max=64"`
}

type updateGroupRequest struct {
	Name    *string `json:"name" validate:"required_without_all=Topic Purpose,omitempty,min=1,max=64"`
	Topic   *string `json:"topic" validate:"omitempty,max=1024"`
	Purpose *string `json:"purpose" validate:"omitempty,max=250"`
}

type participantsRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required"`
}

// ParticipantResult reports the outcome of adding one user to a group.
type ParticipantResult struct {
	UserID string `json:"user_id"`
	Added  bool   `json:"added"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) writeGroup(w http.ResponseWriter, r *http.Request, client *model.Client4, ch *model.Channel, status int) {
	members, _, err := client.GetChannelMembers(r.Context(), ch.Id, 0, 200, "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, status, &Group{
		Chat:         *toChat(ch, s.sess.UserID()),
		Participants: toParticipants(members),
	})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userIDs := lo.Uniq(append([]string{s.sess.UserID()}, req.UserIDs...))
	if len(userIDs) < 3 {
		badRequest(w, "user_ids must name at least two other users")
		return
	}
	ch, _, err := client.CreateGroupChannel(ctx, userIDs)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if req.Name != "" {
		ch, _, err = client.PatchChannel(ctx, ch.Id, &model.ChannelPatch{DisplayName: &req.Name})
		if err != nil {
			s.writeUpstreamError(w, r, err)
			return
		}
	}
	s.writeGroup(w, r, client, ch, http.StatusCreated)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ch, _, err := client.GetChannel(r.Context(), r.PathValue("group_id"), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	s.writeGroup(w, r, client, ch, http.StatusOK)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ch, _, err := client.PatchChannel(r.Context(), r.PathValue("group_id"), &model.ChannelPatch{
		DisplayName: req.Name,
		Header:      req.Topic,
		Purpose:     req.Purpose,
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toChat(ch, s.sess.UserID()))
}

// handleAddParticipants adds users one by one. The response lists every
// outcome; it is an error only when no user could be added.
func (s *Server) handleAddParticipants(w http.ResponseWriter, r *http.Request) {
	var req participantsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	groupID := r.PathValue("group_id")
	var firstErr error
	results := lo.Map(lo.Uniq(req.UserIDs), func(userID string, _ int) ParticipantResult {
		_, _, err := client.AddChannelMember(r.Context(), groupID, userID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ParticipantResult{UserID: userID, Error: err.Error()}
		}
		return ParticipantResult{UserID: userID, Added: true}
	})
	if !lo.SomeBy(results, func(res ParticipantResult) bool { return res.Added }) {
		s.writeUpstreamError(w, r, firstErr)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"group_id": groupID, "participants": results})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	groupID, userID := r.PathValue("group_id"), r.PathValue("user_id")
	if _, err := client.RemoveUserFromChannel(r.Context(), groupID, userID); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"group_id": groupID, "user_id": userID, "removed": true})
}
