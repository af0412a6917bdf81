// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"time"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/messaging"
)

// Messenger is the subset of the Matrix session the bridge calls.
// Satisfied by *messaging.DirectSession; tests substitute fakes.
type Messenger interface {
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	SetRoomProfile(ctx context.Context, roomID ref.RoomID, displayName, avatarURL string) error
	UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error)
	JoinedMembers(ctx context.Context, roomID ref.RoomID) (map[string]messaging.JoinedMember, error)
	GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*messaging.Event, error)
	SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error
	Typing(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error
	JoinRoom(ctx context.Context, roomID ref.RoomID) error
	Sync(ctx context.Context, since string, timeout time.Duration) (*messaging.SyncResponse, error)
}

// Backend is the subset of the AI client the bridge calls. Satisfied
// by *characterai.Client.
type Backend interface {
	OpenSession(ctx context.Context, characterID string) (characterai.ChatID, string, error)
	SendTurn(ctx context.Context, chatID characterai.ChatID, text string) (string, error)
	CharacterInfo(ctx context.Context, characterID string) (characterai.CharacterIdentity, error)
	History(ctx context.Context, chatID characterai.ChatID) ([]characterai.TranscriptEntry, error)
	FetchAvatar(ctx context.Context, avatarRef string) ([]byte, string, error)
}

var (
	_ Messenger = (*messaging.DirectSession)(nil)
	_ Backend   = (*characterai.Client)(nil)
)
