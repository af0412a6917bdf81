// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/charbridge/charbridge/lib/ref"
)

// LoginRequest is the body of POST /_matrix/client/v3/login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is the response from login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is the response from GET /_matrix/client/v3/account/whoami.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// SyncResponse is the (trimmed) response from GET /_matrix/client/v3/sync.
// Only the joined-room timelines and invites are declared; everything
// else the server sends is ignored.
type SyncResponse struct {
	NextBatch string    `json:"next_batch"`
	Rooms     SyncRooms `json:"rooms"`
}

// SyncRooms holds the room sections of a sync response.
type SyncRooms struct {
	Join   map[string]SyncJoinedRoom  `json:"join"`
	Invite map[string]SyncInvitedRoom `json:"invite"`
}

// SyncJoinedRoom holds the timeline of a joined room in a sync response.
type SyncJoinedRoom struct {
	Timeline SyncTimeline `json:"timeline"`
}

// SyncTimeline is the timeline section of a joined room.
type SyncTimeline struct {
	Events    []Event `json:"events"`
	Limited   bool    `json:"limited"`
	PrevBatch string  `json:"prev_batch"`
}

// SyncInvitedRoom holds the stripped state of an invited room.
type SyncInvitedRoom struct {
	InviteState SyncInviteState `json:"invite_state"`
}

// SyncInviteState holds stripped state events of an invite.
type SyncInviteState struct {
	Events []Event `json:"events"`
}

// Event is a Matrix room event. Content is kept raw because event
// types carry different payloads; use the typed accessors to decode.
type Event struct {
	Type           string          `json:"type"`
	EventID        ref.EventID     `json:"event_id"`
	Sender         ref.UserID      `json:"sender"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	URL           string      `json:"url,omitempty"`
	Info          *FileInfo   `json:"info,omitempty"`
	RelatesTo     *RelatesTo  `json:"m.relates_to,omitempty"`
	NewContent    *NewContent `json:"m.new_content,omitempty"`
}

// NewContent is the replacement content carried by an edit event.
type NewContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// RelatesTo describes an event relation (edits, replies).
type RelatesTo struct {
	RelType   string      `json:"rel_type,omitempty"`
	EventID   ref.EventID `json:"event_id,omitzero"`
	InReplyTo *InReplyTo  `json:"m.in_reply_to,omitempty"`
}

// InReplyTo points at the event a reply responds to.
type InReplyTo struct {
	EventID ref.EventID `json:"event_id"`
}

// FileInfo carries metadata for file messages.
type FileInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// IsEdit reports whether the content is an m.replace edit.
func (m *MessageContent) IsEdit() bool {
	return m.RelatesTo != nil && m.RelatesTo.RelType == "m.replace"
}

// ReplyTarget returns the event ID this message replies to, or the
// zero EventID if it is not a reply.
func (m *MessageContent) ReplyTarget() ref.EventID {
	if m.RelatesTo != nil && m.RelatesTo.InReplyTo != nil {
		return m.RelatesTo.InReplyTo.EventID
	}
	return ref.EventID{}
}

// Message decodes the event content as an m.room.message payload.
// Returns false if the event is not a message or the content does not
// decode.
func (e *Event) Message() (*MessageContent, bool) {
	if e.Type != "m.room.message" || len(e.Content) == 0 {
		return nil, false
	}
	var content MessageContent
	if err := json.Unmarshal(e.Content, &content); err != nil {
		return nil, false
	}
	return &content, true
}

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// JoinedMembersResponse is the response from
// GET /_matrix/client/v3/rooms/{roomId}/joined_members.
type JoinedMembersResponse struct {
	Joined map[string]JoinedMember `json:"joined"`
}

// JoinedMember is one entry in a joined_members response.
type JoinedMember struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UploadResponse is the response from media upload.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// EventResponse is the response from sending an event.
type EventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// NewNotice builds an m.notice message content from markdown text.
// The plain body carries the raw text; formatted_body carries the
// rendered HTML when the text contains any markup worth rendering.
func NewNotice(text string) MessageContent {
	content := MessageContent{
		MsgType: "m.notice",
		Body:    text,
	}

	var rendered bytes.Buffer
	if err := markdown.Convert([]byte(text), &rendered); err != nil {
		return content
	}

	html := strings.TrimSpace(rendered.String())
	// Skip the formatted body when rendering produced nothing beyond
	// a single paragraph wrapper around the original text; clients
	// fall back to the plain body and we save the bytes.
	plain := "<p>" + htmlEscape(text) + "</p>"
	if html != "" && html != plain {
		content.Format = "org.matrix.custom.html"
		content.FormattedBody = html
	}
	return content
}

// NewText builds an m.text message content with the literal body and
// no formatted variant.
func NewText(text string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    text,
	}
}

// NewFileMessage builds an m.file message content pointing at an
// uploaded mxc:// URI.
func NewFileMessage(filename, contentURI, mimeType string, size int64) MessageContent {
	return MessageContent{
		MsgType: "m.file",
		Body:    filename,
		URL:     contentURI,
		Info: &FileInfo{
			MimeType: mimeType,
			Size:     size,
		},
	}
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func htmlEscape(s string) string {
	return htmlEscaper.Replace(s)
}
