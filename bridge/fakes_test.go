// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/messaging"
)

// fakeMessenger records every outbound Matrix call.
type fakeMessenger struct {
	mu sync.Mutex

	sent     []messaging.MessageContent
	profiles []profileCall
	uploads  []uploadCall

	members    map[string]messaging.JoinedMember
	events     map[ref.EventID]*messaging.Event
	syncQueue  []syncResult
	syncCalls  int
	profileErr error
	uploadErr  error
	sendErr    error
}

type profileCall struct {
	roomID      ref.RoomID
	displayName string
	avatarURL   string
}

type uploadCall struct {
	filename    string
	contentType string
	data        []byte
}

type syncResult struct {
	response *messaging.SyncResponse
	err      error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		members: make(map[string]messaging.JoinedMember),
		events:  make(map[ref.EventID]*messaging.Event),
	}
}

func (f *fakeMessenger) SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return ref.EventID{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", len(f.sent))), nil
}

func (f *fakeMessenger) SetRoomProfile(ctx context.Context, roomID ref.RoomID, displayName, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return f.profileErr
	}
	f.profiles = append(f.profiles, profileCall{roomID, displayName, avatarURL})
	return nil
}

func (f *fakeMessenger) UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, uploadCall{filename, contentType, data})
	return fmt.Sprintf("mxc://test/upload%d", len(f.uploads)), nil
}

func (f *fakeMessenger) JoinedMembers(ctx context.Context, roomID ref.RoomID) (map[string]messaging.JoinedMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members, nil
}

func (f *fakeMessenger) GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*messaging.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, StatusCode: 404}
	}
	return event, nil
}

func (f *fakeMessenger) SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	return nil
}

func (f *fakeMessenger) Typing(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	return nil
}

func (f *fakeMessenger) JoinRoom(ctx context.Context, roomID ref.RoomID) error {
	return nil
}

func (f *fakeMessenger) Sync(ctx context.Context, since string, timeout time.Duration) (*messaging.SyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncCalls >= len(f.syncQueue) {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	result := f.syncQueue[f.syncCalls]
	f.syncCalls++
	return result.response, result.err
}

func (f *fakeMessenger) sentMessages() []messaging.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messaging.MessageContent(nil), f.sent...)
}

// fakeBackend scripts the AI side.
type fakeBackend struct {
	mu sync.Mutex

	opens    []string
	turns    []string
	reply    string
	greeting string

	characters map[string]characterai.CharacterIdentity
	history    []characterai.TranscriptEntry
	avatars    map[string][]byte

	openErr error
	turnErr error
	infoErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		reply:      "scripted reply",
		characters: make(map[string]characterai.CharacterIdentity),
		avatars:    make(map[string][]byte),
	}
}

func (f *fakeBackend) OpenSession(ctx context.Context, characterID string) (characterai.ChatID, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", "", f.openErr
	}
	f.opens = append(f.opens, characterID)
	return characterai.ChatID(fmt.Sprintf("chat-%s-%d", characterID, len(f.opens))), f.greeting, nil
}

func (f *fakeBackend) SendTurn(ctx context.Context, chatID characterai.ChatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.turnErr != nil {
		return "", f.turnErr
	}
	f.turns = append(f.turns, text)
	return f.reply, nil
}

func (f *fakeBackend) CharacterInfo(ctx context.Context, characterID string) (characterai.CharacterIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return characterai.CharacterIdentity{}, f.infoErr
	}
	return f.characters[characterID], nil
}

func (f *fakeBackend) History(ctx context.Context, chatID characterai.ChatID) ([]characterai.TranscriptEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeBackend) FetchAvatar(ctx context.Context, avatarRef string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.avatars[avatarRef]
	if !ok {
		return nil, "", &characterai.BackendError{StatusCode: 404, Message: "no such avatar"}
	}
	return data, "image/png", nil
}
