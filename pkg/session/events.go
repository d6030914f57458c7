// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-rest/pkg/format/emoji"
	"github.com/aiku/mattermost-rest/pkg/format/htmlfmt"
)

// EventType names an event fanned out to listeners.
type EventType string

const (
	EventAuthenticated  EventType = "authenticated"
	EventAuthFailure    EventType = "auth_failure"
	EventReady          EventType = "ready"
	EventDisconnected   EventType = "disconnected"
	EventLoggedOut      EventType = "logged_out"
	EventMessage        EventType = "message"
	EventMessageEdit    EventType = "message_edit"
	EventMessageDelete  EventType = "message_delete"
	EventReactionAdd    EventType = "reaction_add"
	EventReactionRemove EventType = "reaction_remove"
	EventTyping         EventType = "typing"
	EventChatViewed     EventType = "chat_viewed"
)

// Event is a lifecycle or platform event.
type Event struct {
	Type      EventType
	Data      any
	Timestamp time.Time
}

// Listener receives events synchronously from the event loop, so it must
// not block.
type Listener func(evt *Event)

// LifecycleEvent is the payload of the session lifecycle events.
type LifecycleEvent struct {
	State  State  `json:"state"`
	UserID string `json:"user_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MessageEvent is the payload of message, message_edit and message_delete.
type MessageEvent struct {
	ChatID     string            `json:"chat_id"`
	ChatType   string            `json:"chat_type,omitempty"`
	SenderName string            `json:"sender_name,omitempty"`
	Content    *htmlfmt.Rendered `json:"content,omitempty"`
	Post       *model.Post       `json:"post"`
}

// ReactionEvent is the payload of reaction_add and reaction_remove.
type ReactionEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	EmojiName string `json:"emoji_name"`
	Emoji     string `json:"emoji"`
}

// TypingEvent is the payload of typing.
type TypingEvent struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// ChatViewedEvent is the payload of chat_viewed.
type ChatViewedEvent struct {
	ChatID string `json:"chat_id"`
}

// Subscribe registers a listener for all events.
func (s *Session) Subscribe(l Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

func (s *Session) emit(typ EventType, data any) {
	evt := &Event{Type: typ, Data: data, Timestamp: time.Now()}
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, l := range s.listeners {
		l(evt)
	}
}

func (s *Session) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		s.handlePost(evt, EventMessage)
	case model.WebsocketEventPostEdited:
		s.handlePost(evt, EventMessageEdit)
	case model.WebsocketEventPostDeleted:
		s.handlePost(evt, EventMessageDelete)
	case model.WebsocketEventReactionAdded:
		s.handleReaction(evt, EventReactionAdd)
	case model.WebsocketEventReactionRemoved:
		s.handleReaction(evt, EventReactionRemove)
	case model.WebsocketEventTyping:
		s.handleTyping(evt)
	case model.WebsocketEventChannelViewed:
		s.handleChannelViewed(evt)
	default:
		s.log.Trace().Str("event_type", string(evt.EventType())).Msg("Ignoring websocket event")
	}
}

// parsePostEvent decodes the post of a posted, edited or deleted event and
// applies echo prevention. It returns (nil, nil) for posts that are skipped.
func (s *Session) parsePostEvent(evt *model.WebSocketEvent, typ EventType) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("%s event missing post data", evt.EventType())
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Skip own posts.
	if post.UserId == s.UserID() {
		return nil, nil
	}
	// Skip system messages. Deletes carry the type of the original post.
	if typ != EventMessageDelete && post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	if s.ignoredSender(evt) {
		s.log.Debug().
			Str("post_id", post.Id).
			Str("user_id", post.UserId).
			Msg("Skipping post from ignored username")
		return nil, nil
	}
	return &post, nil
}

func (s *Session) ignoredSender(evt *model.WebSocketEvent) bool {
	if s.cfg == nil || s.cfg.IgnorePrefix == "" {
		return false
	}
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	return senderName != "" && strings.HasPrefix(senderName, s.cfg.IgnorePrefix)
}

func (s *Session) handlePost(evt *model.WebSocketEvent, typ EventType) {
	post, err := s.parsePostEvent(evt, typ)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", string(evt.EventType())).Msg("Failed to parse post event")
		return
	}
	if post == nil {
		return
	}
	chatID := post.ChannelId
	if chatID == "" {
		chatID = evt.GetBroadcast().ChannelId
	}
	data := &MessageEvent{
		ChatID: chatID,
		Post:   post,
	}
	data.ChatType, _ = evt.GetData()["channel_type"].(string)
	data.SenderName, _ = evt.GetData()["sender_name"].(string)
	data.SenderName = strings.TrimPrefix(data.SenderName, "@")
	if typ != EventMessageDelete {
		data.Content = htmlfmt.Render(post.Message)
	}
	s.log.Debug().
		Str("event_type", string(typ)).
		Str("post_id", post.Id).
		Str("chat_id", chatID).
		Msg("Dispatching post event")
	s.emit(typ, data)
}

func (s *Session) handleReaction(evt *model.WebSocketEvent, typ EventType) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return
	}
	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		s.log.Warn().Err(err).Msg("Failed to unmarshal reaction")
		return
	}
	if reaction.UserId == s.UserID() {
		return
	}
	if s.ignoredSender(evt) {
		return
	}
	chatID := reaction.ChannelId
	if chatID == "" {
		chatID = evt.GetBroadcast().ChannelId
	}
	s.emit(typ, &ReactionEvent{
		ChatID:    chatID,
		MessageID: reaction.PostId,
		UserID:    reaction.UserId,
		EmojiName: reaction.EmojiName,
		Emoji:     emoji.ToUnicode(reaction.EmojiName),
	})
}

func (s *Session) handleTyping(evt *model.WebSocketEvent) {
	uid, ok := evt.GetData()["user_id"].(string)
	if !ok || uid == s.UserID() {
		return
	}
	parentID, _ := evt.GetData()["parent_id"].(string)
	s.emit(EventTyping, &TypingEvent{
		ChatID:   evt.GetBroadcast().ChannelId,
		UserID:   uid,
		ParentID: parentID,
	})
}

func (s *Session) handleChannelViewed(evt *model.WebSocketEvent) {
	chID, ok := evt.GetData()["channel_id"].(string)
	if !ok {
		return
	}
	s.emit(EventChatViewed, &ChatViewedEvent{ChatID: chID})
}
