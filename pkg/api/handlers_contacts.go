// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.mau.fi/util/exhttp"
)

const (
	defaultContactsPerPage = 60
	maxContactsPerPage     = 200
)

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, perPage := 0, defaultContactsPerPage
	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "page must be a non-negative integer")
			return
		}
		page = n
	}
	if raw := query.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxContactsPerPage {
			badRequest(w, "per_page must be an integer between 1 and "+strconv.Itoa(maxContactsPerPage))
			return
		}
		perPage = n
	}

	client, ok := s.client(w, r)
	if !ok {
		return
	}
	users, _, err := client.GetUsers(r.Context(), page, perPage, "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	userID := s.sess.UserID()
	exhttp.WriteJSONResponse(w, http.StatusOK, lo.Map(users, func(u *model.User, _ int) *Contact {
		return toContact(u, s.mmCfg, userID)
	}))
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	user, _, err := client.GetUser(r.Context(), r.PathValue("contact_id"), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toContact(user, s.mmCfg, s.sess.UserID()))
}

func (s *Server) handleContactPicture(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	data, _, err := client.GetProfileImage(r.Context(), r.PathValue("contact_id"), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
