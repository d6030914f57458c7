// Copyright 2024-2026 Aiku AI

package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/util/exhttp"
)

func (s *Server) handleGetFileInfo(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	info, _, err := client.GetFileInfo(r.Context(), r.PathValue("file_id"))
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, toFileInfo(info))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	client, ok := s.client(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	fileID := r.PathValue("file_id")
	info, _, err := client.GetFileInfo(ctx, fileID)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	data, _, err := client.GetFile(ctx, fileID)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	contentType := info.MimeType
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if info.Name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
