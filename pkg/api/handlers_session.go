// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"

	"go.mau.fi/util/exhttp"
)

type loginRequest struct {
	ServerURL string `json:"server_url" validate:"omitempty,http_url"`
	Token     string `json:"token" validate:"required_without=LoginID"`
	LoginID   string `json:"login_id" validate:"required_without=Token"`
	Password  string `json:"password" validate:"required_with=LoginID"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	serverURL := req.ServerURL
	if serverURL == "" {
		serverURL = s.mmCfg.ServerURL
	}
	if serverURL == "" {
		badRequest(w, "server_url is required")
		return
	}

	var err error
	if req.Token != "" {
		err = s.sess.LoginWithToken(r.Context(), serverURL, req.Token)
	} else {
		err = s.sess.LoginWithPassword(r.Context(), serverURL, req.LoginID, req.Password)
	}
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Logout(r.Context()); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleSessionReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Reconnect(r.Context()); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleSessionMe(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	me, _, err := client.GetMe(r.Context(), "")
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toContact(me, s.mmCfg, me.Id))
}
