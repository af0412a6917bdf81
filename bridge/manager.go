// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/charbridge/charbridge/lib/clock"
	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/messaging"
)

// ErrMissingCharacter means no character ID could be resolved for a
// room: no explicit ID, no room default, no global default.
var ErrMissingCharacter = errors.New("bridge: no character configured for room")

// SessionManager owns the per-room session state machine. Each room is
// either NoSession (no store row, or a row without a live chat) or
// Active(characterID). Transitions are serialized per room: the room
// worker already delivers messages one at a time, and an internal
// per-room mutex additionally protects against admin commands racing a
// message in flight.
//
// The store row is written only after the backend chat has been opened
// successfully, so a cancelled or failed open leaves the previous
// state intact.
type SessionManager struct {
	store     *Store
	backend   Backend
	messenger Messenger
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[ref.RoomID]*sync.Mutex
}

// NewSessionManager creates a session manager.
func NewSessionManager(store *Store, backend Backend, messenger Messenger, clk clock.Clock, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:     store,
		backend:   backend,
		messenger: messenger,
		clock:     clk,
		logger:    logger,
		locks:     make(map[ref.RoomID]*sync.Mutex),
	}
}

func (m *SessionManager) roomLock(roomID ref.RoomID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[roomID] = lock
	}
	return lock
}

// EnsureSession returns the room's live session, opening one if none
// exists. desiredCharacterID may be empty, meaning "whatever the room
// already talks to, or the configured default". If the desired
// character differs from the active one, the active session is
// exported per the room's export flags and replaced.
//
// The returned greeting is non-empty only when a new session was
// opened and the character sent an opening line.
func (m *SessionManager) EnsureSession(ctx context.Context, roomID ref.RoomID, desiredCharacterID string, cfg config.RoomConfig) (*RoomSession, string, error) {
	lock := m.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.store.Get(ctx, roomID)
	if err != nil {
		return nil, "", err
	}

	characterID, err := resolveCharacter(desiredCharacterID, current, cfg)
	if err != nil {
		return nil, "", err
	}

	if current != nil && current.ChatID != "" && current.CharacterID == characterID {
		return current, "", nil
	}

	return m.openSession(ctx, roomID, characterID, current, cfg)
}

// ResetSession discards the room's active session (exporting its
// transcript first) and opens a fresh one. newCharacterID may be empty
// to re-open the same character.
func (m *SessionManager) ResetSession(ctx context.Context, roomID ref.RoomID, newCharacterID string, cfg config.RoomConfig) (*RoomSession, string, error) {
	lock := m.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.store.Get(ctx, roomID)
	if err != nil {
		return nil, "", err
	}

	characterID, err := resolveCharacter(newCharacterID, current, cfg)
	if err != nil {
		return nil, "", err
	}

	return m.openSession(ctx, roomID, characterID, current, cfg)
}

// resolveCharacter picks the character for a transition: the explicit
// request wins, then the room's active character, then the configured
// default.
func resolveCharacter(desired string, current *RoomSession, cfg config.RoomConfig) (string, error) {
	switch {
	case desired != "":
		return desired, nil
	case current != nil && current.CharacterID != "":
		return current.CharacterID, nil
	case cfg.DefaultCharacterID != "":
		return cfg.DefaultCharacterID, nil
	default:
		return "", ErrMissingCharacter
	}
}

// openSession exports the outgoing session (if any), opens a new
// backend chat for characterID, syncs identity, and persists the new
// row. Caller holds the room lock.
func (m *SessionManager) openSession(ctx context.Context, roomID ref.RoomID, characterID string, outgoing *RoomSession, cfg config.RoomConfig) (*RoomSession, string, error) {
	if outgoing != nil && outgoing.ChatID != "" {
		m.exportSession(ctx, roomID, outgoing, cfg)
	}

	chatID, greeting, err := m.backend.OpenSession(ctx, characterID)
	if err != nil {
		return nil, "", fmt.Errorf("bridge: opening session for character %s in %s: %w", characterID, roomID, err)
	}

	session := RoomSession{
		CharacterID: characterID,
		ChatID:      chatID,
	}
	// Carry the avatar upload cache across character changes so an
	// unchanged image is never re-uploaded.
	if outgoing != nil {
		session.CachedName = outgoing.CachedName
		session.CachedAvatarRef = outgoing.CachedAvatarRef
		session.AvatarHash = outgoing.AvatarHash
		session.AvatarMXC = outgoing.AvatarMXC
	}

	identity, err := m.backend.CharacterInfo(ctx, characterID)
	if err != nil {
		m.logger.Warn("character metadata fetch failed",
			"room_id", roomID,
			"character_id", characterID,
			"error", err,
		)
	} else {
		session = SyncIdentity(ctx, m.messenger, m.backend, roomID, identity, cfg, session, m.logger)
	}

	if err := m.store.Upsert(ctx, roomID, session); err != nil {
		return nil, "", err
	}

	m.logger.Info("session opened",
		"room_id", roomID,
		"character_id", characterID,
		"chat_id", chatID,
	)
	return &session, greeting, nil
}

// exportSession exports the outgoing session's transcript into the
// room per the export flags. Export failures are logged and reported
// but never block the reset: losing a transcript is recoverable,
// losing conversational continuity is not.
func (m *SessionManager) exportSession(ctx context.Context, roomID ref.RoomID, outgoing *RoomSession, cfg config.RoomConfig) {
	formats := ExportFormats{Txt: cfg.ExportTxt, JSON: cfg.ExportJSON}
	if !formats.Txt && !formats.JSON {
		return
	}

	entries, err := m.backend.History(ctx, outgoing.ChatID)
	if err != nil {
		m.reportExportFailure(ctx, roomID, outgoing.CharacterID, err)
		return
	}

	characterName := outgoing.CachedName
	if characterName == "" {
		characterName = outgoing.CharacterID
	}
	artifacts, err := ExportTranscript(entries, formats, characterName, m.clock.Now())
	if err != nil {
		m.reportExportFailure(ctx, roomID, outgoing.CharacterID, err)
		return
	}

	for _, artifact := range artifacts {
		contentURI, err := m.messenger.UploadMedia(ctx, artifact.Filename, artifact.ContentType, bytes.NewReader(artifact.Data))
		if err != nil {
			m.reportExportFailure(ctx, roomID, outgoing.CharacterID, err)
			return
		}
		content := messaging.NewFileMessage(artifact.Filename, contentURI, artifact.ContentType, int64(len(artifact.Data)))
		if _, err := m.messenger.SendMessage(ctx, roomID, content); err != nil {
			m.reportExportFailure(ctx, roomID, outgoing.CharacterID, err)
			return
		}
	}
}

func (m *SessionManager) reportExportFailure(ctx context.Context, roomID ref.RoomID, characterID string, err error) {
	m.logger.Error("transcript export failed",
		"room_id", roomID,
		"character_id", characterID,
		"error", err,
	)
	notice := messaging.NewNotice("Failed to export the previous session's transcript: " + err.Error())
	if _, sendErr := m.messenger.SendMessage(ctx, roomID, notice); sendErr != nil {
		m.logger.Error("export failure notice undeliverable",
			"room_id", roomID,
			"error", sendErr,
		)
	}
}
