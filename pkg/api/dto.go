// Copyright 2024-2026 Aiku AI

package api

import (
	"slices"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/format/emoji"
	"github.com/aiku/mattermost-rest/pkg/format/htmlfmt"
)

// Chat is a Mattermost channel of any type.
type Chat struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	DisplayName   string             `json:"display_name"`
	Type          string             `json:"type"`
	IsGroup       bool               `json:"is_group"`
	TeamID        string             `json:"team_id,omitempty"`
	PeerID        string             `json:"peer_id,omitempty"`
	Header        string             `json:"header,omitempty"`
	Purpose       string             `json:"purpose,omitempty"`
	LastMessageAt jsontime.UnixMilli `json:"last_message_at"`
	MessageCount  int64              `json:"message_count"`
}

// Participant is a member of a group chat.
type Participant struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// Group is a chat together with its members.
type Group struct {
	Chat
	Participants []Participant `json:"participants"`
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	Emoji     string             `json:"emoji"`
	EmojiName string             `json:"emoji_name"`
	UserID    string             `json:"user_id"`
	Timestamp jsontime.UnixMilli `json:"timestamp"`
}

// Message is a Mattermost post.
type Message struct {
	ID            string              `json:"id"`
	ChatID        string              `json:"chat_id"`
	SenderID      string              `json:"sender_id"`
	Body          string              `json:"body"`
	Format        event.Format        `json:"format,omitempty"`
	FormattedBody string              `json:"formatted_body,omitempty"`
	Timestamp     jsontime.UnixMilli  `json:"timestamp"`
	EditedAt      *jsontime.UnixMilli `json:"edited_at,omitempty"`
	ReplyTo       string              `json:"reply_to,omitempty"`
	FileIDs       []string            `json:"file_ids,omitempty"`
	HasMedia      bool                `json:"has_media"`
	FromMe        bool                `json:"from_me"`
	Type          string              `json:"type,omitempty"`
	Reactions     []Reaction          `json:"reactions,omitempty"`
}

// Contact is a Mattermost user.
type Contact struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
	Email       string `json:"email,omitempty"`
	Position    string `json:"position,omitempty"`
	IsBot       bool   `json:"is_bot"`
	IsMe        bool   `json:"is_me"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Extension string             `json:"extension,omitempty"`
	MimeType  string             `json:"mime_type"`
	Size      int64              `json:"size"`
	Width     int                `json:"width,omitempty"`
	Height    int                `json:"height,omitempty"`
	CreatedAt jsontime.UnixMilli `json:"created_at"`
}

func chatType(t model.ChannelType) string {
	switch t {
	case model.ChannelTypeDirect:
		return "direct"
	case model.ChannelTypeGroup:
		return "group"
	case model.ChannelTypePrivate:
		return "private"
	default:
		return "public"
	}
}

func toChat(ch *model.Channel, myUserID string) *Chat {
	c := &Chat{
		ID:            ch.Id,
		Name:          ch.Name,
		DisplayName:   ch.DisplayName,
		Type:          chatType(ch.Type),
		IsGroup:       ch.Type != model.ChannelTypeDirect,
		TeamID:        ch.TeamId,
		Header:        ch.Header,
		Purpose:       ch.Purpose,
		LastMessageAt: jsontime.UMInt(ch.LastPostAt),
		MessageCount:  ch.TotalMsgCount,
	}
	if ch.Type == model.ChannelTypeDirect {
		c.PeerID = ch.GetOtherUserIdForDM(myUserID)
		if c.DisplayName == "" {
			c.DisplayName = c.PeerID
		}
	}
	return c
}

func toParticipants(members model.ChannelMembers) []Participant {
	return lo.Map(members, func(m model.ChannelMember, _ int) Participant {
		return Participant{
			ID:      m.UserId,
			IsAdmin: m.SchemeAdmin || slices.Contains(strings.Fields(m.Roles), model.ChannelAdminRoleId),
		}
	})
}

func toMessage(p *model.Post, myUserID string) *Message {
	rendered := htmlfmt.Render(p.Message)
	msg := &Message{
		ID:            p.Id,
		ChatID:        p.ChannelId,
		SenderID:      p.UserId,
		Body:          p.Message,
		Format:        rendered.Format,
		FormattedBody: rendered.FormattedBody,
		Timestamp:     jsontime.UMInt(p.CreateAt),
		ReplyTo:       p.RootId,
		FileIDs:       p.FileIds,
		HasMedia:      len(p.FileIds) > 0,
		FromMe:        myUserID != "" && p.UserId == myUserID,
	}
	if p.Type != model.PostTypeDefault {
		msg.Type = p.Type
	}
	if p.EditAt > 0 {
		edited := jsontime.UMInt(p.EditAt)
		msg.EditedAt = &edited
	}
	if p.Metadata != nil {
		msg.Reactions = lo.Map(p.Metadata.Reactions, func(r *model.Reaction, _ int) Reaction {
			return toReaction(r)
		})
	}
	return msg
}

func toReaction(r *model.Reaction) Reaction {
	return Reaction{
		Emoji:     emoji.ToUnicode(r.EmojiName),
		EmojiName: r.EmojiName,
		UserID:    r.UserId,
		Timestamp: jsontime.UMInt(r.CreateAt),
	}
}

// toMessages returns the posts of a list in its order, newest first.
func toMessages(list *model.PostList, myUserID string) []*Message {
	out := make([]*Message, 0, len(list.Order))
	for _, id := range list.Order {
		if p, ok := list.Posts[id]; ok {
			out = append(out, toMessage(p, myUserID))
		}
	}
	return out
}

func toContact(u *model.User, cfg *config.MattermostConfig, myUserID string) *Contact {
	return &Contact{
		ID:       u.Id,
		Username: u.Username,
		DisplayName: cfg.FormatDisplayname(config.DisplaynameParams{
			Username:  u.Username,
			Nickname:  u.Nickname,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Nickname:  u.Nickname,
		Email:     u.Email,
		Position:  u.Position,
		IsBot:     u.IsBot,
		IsMe:      u.Id == myUserID,
	}
}

func toFileInfo(fi *model.FileInfo) *FileInfo {
	return &FileInfo{
		ID:        fi.Id,
		Name:      fi.Name,
		Extension: fi.Extension,
		MimeType:  fi.MimeType,
		Size:      fi.Size,
		Width:     fi.Width,
		Height:    fi.Height,
		CreatedAt: jsontime.UMInt(fi.CreateAt),
	}
}
