// Copyright 2024-2026 Aiku AI

package api

import (
	"errors"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mattermost-rest/pkg/session"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotReady        = "NOT_READY"
	CodeNotLoggedIn     = "NOT_LOGGED_IN"
	CodeAlreadyLoggedIn = "ALREADY_LOGGED_IN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error          string        `json:"error"`
	Code           string        `json:"code"`
	State          session.State `json:"state,omitempty"`
	UpstreamStatus int           `json:"upstream_status,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	exhttp.WriteJSONResponse(w, status, &ErrorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, CodeBadRequest, msg)
}

func writeNotReady(w http.ResponseWriter, state session.State) {
	exhttp.WriteJSONResponse(w, http.StatusServiceUnavailable, &ErrorResponse{
		Error: session.ErrNotReady.Error(),
		Code:  CodeNotReady,
		State: state,
	})
}

// writeUpstreamError maps an error returned by the wrapped client. Session
// sentinel errors keep their own status, everything else is a 500 that echoes
// the Mattermost message and status code.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotReady):
		writeNotReady(w, s.sess.Status().State)
		return
	case errors.Is(err, session.ErrNotLoggedIn):
		writeError(w, http.StatusConflict, CodeNotLoggedIn, err.Error())
		return
	case errors.Is(err, session.ErrAlreadyLoggedIn):
		writeError(w, http.StatusConflict, CodeAlreadyLoggedIn, err.Error())
		return
	}

	resp := &ErrorResponse{Error: err.Error(), Code: CodeUpstreamError}
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		if appErr.DetailedError != "" {
			resp.Error += ": " + appErr.DetailedError
		}
		resp.UpstreamStatus = appErr.StatusCode
	}
	if sw, ok := w.(*statusWriter); ok {
		sw.upstreamError = true
	}
	hlog.FromRequest(r).Error().Err(err).Int("upstream_status", resp.UpstreamStatus).Msg("Mattermost API call failed")
	exhttp.WriteJSONResponse(w, http.StatusInternalServerError, resp)
}
