// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/lib/sqlitepool"
)

// RoomSession is the durable per-room state: which character the room
// talks to, the live backend chat handle, and the cached identity used
// to skip redundant profile updates.
type RoomSession struct {
	CharacterID string
	ChatID      characterai.ChatID

	// CachedName and CachedAvatarRef mirror the last character
	// identity successfully synced into the room.
	CachedName      string
	CachedAvatarRef string

	// AvatarHash is the content hash of the last uploaded avatar
	// image; AvatarMXC is its Matrix media URI. Together they let the
	// identity sync skip a re-upload when the image bytes are
	// unchanged even though the backend moved the avatar URL.
	AvatarHash string
	AvatarMXC  string
}

const roomsSchema = `
CREATE TABLE IF NOT EXISTS rooms (
    room_id         TEXT PRIMARY KEY,
    character_id    TEXT NOT NULL,
    chat_id         TEXT NOT NULL DEFAULT '',
    char_name       TEXT NOT NULL DEFAULT '',
    char_avatar_ref TEXT NOT NULL DEFAULT '',
    avatar_hash     TEXT NOT NULL DEFAULT '',
    avatar_mxc      TEXT NOT NULL DEFAULT ''
) STRICT;
`

// Store persists RoomSession rows in SQLite. Safe for concurrent use;
// per-room write serialization is the Session Manager's job, the store
// only guarantees that individual operations are atomic.
type Store struct {
	pool *sqlitepool.Pool
}

// OpenStore opens (and if needed creates) the session database at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, roomsSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: opening session store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Get returns the session row for a room, or (nil, nil) when the room
// has no session yet.
func (s *Store) Get(ctx context.Context, roomID ref.RoomID) (*RoomSession, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: store get: %w", err)
	}
	defer s.pool.Put(conn)

	var session *RoomSession
	err = sqlitex.Execute(conn,
		`SELECT character_id, chat_id, char_name, char_avatar_ref, avatar_hash, avatar_mxc
		 FROM rooms WHERE room_id = :room_id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":room_id": roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session = &RoomSession{
					CharacterID:     stmt.ColumnText(0),
					ChatID:          characterai.ChatID(stmt.ColumnText(1)),
					CachedName:      stmt.ColumnText(2),
					CachedAvatarRef: stmt.ColumnText(3),
					AvatarHash:      stmt.ColumnText(4),
					AvatarMXC:       stmt.ColumnText(5),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("bridge: store get %s: %w", roomID, err)
	}
	return session, nil
}

// Upsert writes the session row for a room, replacing any existing row.
func (s *Store) Upsert(ctx context.Context, roomID ref.RoomID, session RoomSession) error {
	if session.CharacterID == "" {
		return fmt.Errorf("bridge: store upsert %s: character ID is required", roomID)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("bridge: store upsert: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO rooms (room_id, character_id, chat_id, char_name, char_avatar_ref, avatar_hash, avatar_mxc)
		 VALUES (:room_id, :character_id, :chat_id, :char_name, :char_avatar_ref, :avatar_hash, :avatar_mxc)
		 ON CONFLICT (room_id) DO UPDATE SET
		     character_id    = excluded.character_id,
		     chat_id         = excluded.chat_id,
		     char_name       = excluded.char_name,
		     char_avatar_ref = excluded.char_avatar_ref,
		     avatar_hash     = excluded.avatar_hash,
		     avatar_mxc      = excluded.avatar_mxc`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":room_id":         roomID.String(),
				":character_id":    session.CharacterID,
				":chat_id":         string(session.ChatID),
				":char_name":       session.CachedName,
				":char_avatar_ref": session.CachedAvatarRef,
				":avatar_hash":     session.AvatarHash,
				":avatar_mxc":      session.AvatarMXC,
			},
		})
	if err != nil {
		return fmt.Errorf("bridge: store upsert %s: %w", roomID, err)
	}
	return nil
}

// Delete removes the session row for a room. Deleting a room with no
// row is a no-op.
func (s *Store) Delete(ctx context.Context, roomID ref.RoomID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("bridge: store delete: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM rooms WHERE room_id = :room_id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":room_id": roomID.String()},
		})
	if err != nil {
		return fmt.Errorf("bridge: store delete %s: %w", roomID, err)
	}
	return nil
}
