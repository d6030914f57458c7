// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mmtest provides an in-process fake of the Mattermost REST and
// WebSocket API for tests. It records every call and serves canned
// model.* responses from exported maps, which tests fill before use.
package mmtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/model"
)

// Call records which API endpoint was hit.
type Call struct {
	Method string
	Path   string
	Body   string
}

// Server is a fake Mattermost server.
type Server struct {
	*httptest.Server

	callMu sync.Mutex
	calls  []Call

	// dataMu guards the maps below while requests are in flight.
	dataMu sync.Mutex

	// Users maps user ID to user.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs.
	TokenToUser map[string]string
	// Passwords maps login IDs (usernames) to passwords.
	Passwords map[string]string
	// Channels maps channel ID to channel.
	Channels map[string]*model.Channel
	// ChannelMembers maps channel ID to its member list.
	ChannelMembers map[string]model.ChannelMembers
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// ChannelsForTeamUser maps "teamID:userID" to channel list.
	ChannelsForTeamUser map[string][]*model.Channel
	// ChannelsForUser maps user ID to all channels including DMs.
	ChannelsForUser map[string][]*model.Channel
	// Posts maps channel ID to the post list returned by the posts endpoints.
	Posts map[string]*model.PostList
	// PostsByID maps post ID to post for GetPost.
	PostsByID map[string]*model.Post
	// Files maps file ID to file info.
	Files map[string]*model.FileInfo
	// FileData maps file ID to file content.
	FileData map[string][]byte
	// ProfileImages maps user ID to image bytes.
	ProfileImages map[string][]byte
	// FailEndpoints makes any path containing a key return 500.
	FailEndpoints map[string]bool

	wsMu     sync.Mutex
	wsConns  []*wsConn
	upgrader websocket.Upgrader
}

type wsConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewServer starts a fake server. Close it with Close.
func NewServer() *Server {
	f := &Server{
		Users:               make(map[string]*model.User),
		TokenToUser:         make(map[string]string),
		Passwords:           make(map[string]string),
		Channels:            make(map[string]*model.Channel),
		ChannelMembers:      make(map[string]model.ChannelMembers),
		Teams:               make(map[string][]*model.Team),
		ChannelsForTeamUser: make(map[string][]*model.Channel),
		ChannelsForUser:     make(map[string][]*model.Channel),
		Posts:               make(map[string]*model.PostList),
		PostsByID:           make(map[string]*model.Post),
		Files:               make(map[string]*model.FileInfo),
		FileData:            make(map[string][]byte),
		ProfileImages:       make(map[string][]byte),
		FailEndpoints:       make(map[string]bool),
	}
	f.Server = httptest.NewServer(f.routes())
	return f
}

// AddUser registers a user reachable with token.
func (f *Server) AddUser(user *model.User, token string) {
	f.Users[user.Id] = user
	if token != "" {
		f.TokenToUser[token] = user.Id
	}
}

// Calls returns a copy of the recorded calls.
func (f *Server) Calls() []Call {
	f.callMu.Lock()
	defer f.callMu.Unlock()
	return slices.Clone(f.calls)
}

// CalledPath reports whether any recorded call path contains path.
func (f *Server) CalledPath(path string) bool {
	return f.CalledWith("", path)
}

// CalledWith reports whether a call with method (any when empty) hit a
// path containing path.
func (f *Server) CalledWith(method, path string) bool {
	for _, c := range f.Calls() {
		if (method == "" || c.Method == method) && strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// LastBody returns the body of the most recent call whose path contains path.
func (f *Server) LastBody(path string) string {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if strings.Contains(calls[i].Path, path) {
			return calls[i].Body
		}
	}
	return ""
}

func (f *Server) record(method, path, body string) {
	f.callMu.Lock()
	defer f.callMu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Path: path, Body: body})
}

func (f *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/websocket", f.handleWebSocket)

	mux.HandleFunc("POST /api/v4/users/login", f.handleLogin)
	mux.HandleFunc("POST /api/v4/users/logout", f.handleOK)
	mux.HandleFunc("GET /api/v4/users/me", f.handleMe)
	mux.HandleFunc("GET /api/v4/users", f.handleListUsers)
	mux.HandleFunc("GET /api/v4/users/{user_id}", f.handleGetUser)
	mux.HandleFunc("GET /api/v4/users/{user_id}/image", f.handleProfileImage)
	mux.HandleFunc("GET /api/v4/users/{user_id}/teams", f.handleTeams)
	mux.HandleFunc("GET /api/v4/users/{user_id}/channels", f.handleUserChannels)
	mux.HandleFunc("GET /api/v4/users/{user_id}/teams/{team_id}/channels", f.handleTeamChannels)
	mux.HandleFunc("POST /api/v4/users/{user_id}/typing", f.handleOK)
	mux.HandleFunc("DELETE /api/v4/users/{user_id}/posts/{post_id}/reactions/{emoji_name}", f.handleOK)

	mux.HandleFunc("POST /api/v4/channels/direct", f.handleCreateDirect)
	mux.HandleFunc("POST /api/v4/channels/group", f.handleCreateGroup)
	mux.HandleFunc("POST /api/v4/channels/members/{user_id}/view", f.handleView)
	mux.HandleFunc("GET /api/v4/channels/{channel_id}", f.handleGetChannel)
	mux.HandleFunc("PUT /api/v4/channels/{channel_id}/patch", f.handlePatchChannel)
	mux.HandleFunc("GET /api/v4/channels/{channel_id}/members", f.handleGetMembers)
	mux.HandleFunc("POST /api/v4/channels/{channel_id}/members", f.handleAddMember)
	mux.HandleFunc("DELETE /api/v4/channels/{channel_id}/members/{user_id}", f.handleRemoveMember)
	mux.HandleFunc("GET /api/v4/channels/{channel_id}/posts", f.handleChannelPosts)

	mux.HandleFunc("POST /api/v4/posts", f.handleCreatePost)
	mux.HandleFunc("GET /api/v4/posts/{post_id}", f.handleGetPost)
	mux.HandleFunc("PUT /api/v4/posts/{post_id}/patch", f.handlePatchPost)
	mux.HandleFunc("DELETE /api/v4/posts/{post_id}", f.handleOK)
	mux.HandleFunc("POST /api/v4/reactions", f.handleSaveReaction)

	mux.HandleFunc("POST /api/v4/files", f.handleUpload)
	mux.HandleFunc("GET /api/v4/files/{file_id}", f.handleGetFile)
	mux.HandleFunc("GET /api/v4/files/{file_id}/info", f.handleFileInfo)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if !websocket.IsWebSocketUpgrade(r) {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		f.record(r.Method, r.URL.Path, string(body))

		for prefix := range f.FailEndpoints {
			if strings.Contains(r.URL.Path, prefix) {
				writeError(w, http.StatusInternalServerError, "fake error")
				return
			}
		}

		f.dataMu.Lock()
		defer f.dataMu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "fake.error",
		"message":     msg,
		"status_code": status,
	})
}

func (f *Server) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		// model.Client4 sends "BEARER" in upper case.
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *Server) handleOK(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "OK"})
}

func (f *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoginID  string `json:"login_id"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if pw, ok := f.Passwords[req.LoginID]; !ok || pw != req.Password {
		writeError(w, http.StatusUnauthorized, "Enter a valid email or username and/or password.")
		return
	}
	for _, u := range f.Users {
		if u.Username == req.LoginID || u.Email == req.LoginID {
			token := "session-" + u.Id
			f.TokenToUser[token] = u.Id
			w.Header().Set(model.HeaderToken, token)
			writeJSON(w, u)
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "user not found")
}

func (f *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid := f.resolveToken(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Invalid or expired session, please login again.")
		return
	}
	if u, ok := f.Users[uid]; ok {
		writeJSON(w, u)
		return
	}
	writeError(w, http.StatusNotFound, "user not found")
}

func (f *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(f.Users))
	for id := range f.Users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 60
	}
	users := []*model.User{}
	for i := page * perPage; i < len(ids) && i < (page+1)*perPage; i++ {
		users = append(users, f.Users[ids[i]])
	}
	writeJSON(w, users)
}

func (f *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if u, ok := f.Users[r.PathValue("user_id")]; ok {
		writeJSON(w, u)
		return
	}
	writeError(w, http.StatusNotFound, "Unable to find the user.")
}

func (f *Server) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	img, ok := f.ProfileImages[r.PathValue("user_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	_, _ = w.Write(img)
}

func (f *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	if teams, ok := f.Teams[r.PathValue("user_id")]; ok {
		writeJSON(w, teams)
		return
	}
	writeJSON(w, []*model.Team{})
}

func (f *Server) handleUserChannels(w http.ResponseWriter, r *http.Request) {
	if chs, ok := f.ChannelsForUser[r.PathValue("user_id")]; ok {
		writeJSON(w, chs)
		return
	}
	writeJSON(w, []*model.Channel{})
}

func (f *Server) handleTeamChannels(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("team_id") + ":" + r.PathValue("user_id")
	if chs, ok := f.ChannelsForTeamUser[key]; ok {
		writeJSON(w, chs)
		return
	}
	writeJSON(w, []*model.Channel{})
}

func (f *Server) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	if len(ids) != 2 {
		writeError(w, http.StatusBadRequest, "two user ids required")
		return
	}
	ch := &model.Channel{
		Id:   "dm-" + ids[0] + "-" + ids[1],
		Name: ids[0] + "__" + ids[1],
		Type: model.ChannelTypeDirect,
	}
	f.Channels[ch.Id] = ch
	writeJSON(w, ch)
}

func (f *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	if len(ids) < 3 {
		writeError(w, http.StatusBadRequest, "group channels need at least three users")
		return
	}
	ch := &model.Channel{
		Id:          "gm-" + strconv.Itoa(len(f.Channels)+1),
		Name:        strings.Join(ids, "_"),
		DisplayName: strings.Join(ids, ", "),
		Type:        model.ChannelTypeGroup,
	}
	members := make(model.ChannelMembers, 0, len(ids))
	for _, id := range ids {
		members = append(members, model.ChannelMember{ChannelId: ch.Id, UserId: id})
	}
	f.Channels[ch.Id] = ch
	f.ChannelMembers[ch.Id] = members
	writeJSON(w, ch)
}

func (f *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "OK", "last_viewed_at_times": map[string]int64{}})
}

func (f *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	if ch, ok := f.Channels[r.PathValue("channel_id")]; ok {
		writeJSON(w, ch)
		return
	}
	writeError(w, http.StatusNotFound, "Unable to find the existing channel.")
}

func (f *Server) handlePatchChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := f.Channels[r.PathValue("channel_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Unable to find the existing channel.")
		return
	}
	var patch model.ChannelPatch
	_ = json.NewDecoder(r.Body).Decode(&patch)
	ch.Patch(&patch)
	writeJSON(w, ch)
}

func (f *Server) handleGetMembers(w http.ResponseWriter, r *http.Request) {
	if members, ok := f.ChannelMembers[r.PathValue("channel_id")]; ok {
		writeJSON(w, members)
		return
	}
	writeJSON(w, model.ChannelMembers{})
}

func (f *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	chID := r.PathValue("channel_id")
	var req struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if _, ok := f.Users[req.UserID]; !ok {
		writeError(w, http.StatusNotFound, "Unable to find the user.")
		return
	}
	member := model.ChannelMember{ChannelId: chID, UserId: req.UserID}
	f.ChannelMembers[chID] = append(f.ChannelMembers[chID], member)
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, member)
}

func (f *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	chID, uid := r.PathValue("channel_id"), r.PathValue("user_id")
	f.ChannelMembers[chID] = slices.DeleteFunc(f.ChannelMembers[chID], func(m model.ChannelMember) bool {
		return m.UserId == uid
	})
	writeJSON(w, map[string]string{"status": "OK"})
}

func (f *Server) handleChannelPosts(w http.ResponseWriter, r *http.Request) {
	if pl, ok := f.Posts[r.PathValue("channel_id")]; ok {
		writeJSON(w, pl)
		return
	}
	writeJSON(w, model.NewPostList())
}

func (f *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var post model.Post
	_ = json.NewDecoder(r.Body).Decode(&post)
	post.Id = "created-post-id"
	post.CreateAt = time.Now().UnixMilli()
	if post.UserId == "" {
		post.UserId = f.resolveToken(r)
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, &post)
}

func (f *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	if p, ok := f.PostsByID[r.PathValue("post_id")]; ok {
		writeJSON(w, p)
		return
	}
	writeError(w, http.StatusNotFound, "Unable to find the existing post.")
}

func (f *Server) handlePatchPost(w http.ResponseWriter, r *http.Request) {
	var patch model.PostPatch
	_ = json.NewDecoder(r.Body).Decode(&patch)
	post := &model.Post{Id: r.PathValue("post_id"), EditAt: time.Now().UnixMilli()}
	if existing, ok := f.PostsByID[post.Id]; ok {
		post = existing.Clone()
		post.EditAt = time.Now().UnixMilli()
	}
	if patch.Message != nil {
		post.Message = *patch.Message
	}
	writeJSON(w, post)
}

func (f *Server) handleSaveReaction(w http.ResponseWriter, r *http.Request) {
	var reaction model.Reaction
	_ = json.NewDecoder(r.Body).Decode(&reaction)
	reaction.CreateAt = time.Now().UnixMilli()
	writeJSON(w, &reaction)
}

func (f *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = "upload"
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, &model.FileUploadResponse{
		FileInfos: []*model.FileInfo{{Id: "uploaded-file-id", Name: name}},
	})
}

func (f *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, ok := f.FileData[r.PathValue("file_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	_, _ = w.Write(data)
}

func (f *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	if fi, ok := f.Files[r.PathValue("file_id")]; ok {
		writeJSON(w, fi)
		return
	}
	writeError(w, http.StatusNotFound, "file not found")
}

func (f *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authentication happens in the first frame, which is ignored here.
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := &wsConn{conn: conn}
	f.wsMu.Lock()
	f.wsConns = append(f.wsConns, wc)
	f.wsMu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// WebSocketCount returns the number of websocket connections accepted so far.
func (f *Server) WebSocketCount() int {
	f.wsMu.Lock()
	defer f.wsMu.Unlock()
	return len(f.wsConns)
}

// Broadcast sends evt to every open websocket.
func (f *Server) Broadcast(evt *model.WebSocketEvent) error {
	data, err := evt.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	f.wsMu.Lock()
	conns := slices.Clone(f.wsConns)
	f.wsMu.Unlock()
	for _, wc := range conns {
		wc.writeMu.Lock()
		_ = wc.conn.WriteMessage(websocket.TextMessage, data)
		wc.writeMu.Unlock()
	}
	return nil
}

// DropWebSockets closes every open websocket from the server side.
func (f *Server) DropWebSockets() {
	f.wsMu.Lock()
	conns := f.wsConns
	f.wsMu.Unlock()
	for _, wc := range conns {
		_ = wc.conn.Close()
	}
}

// Close drops websockets and stops the server.
func (f *Server) Close() {
	f.DropWebSockets()
	f.Server.CloseClientConnections()
	f.Server.Close()
}
