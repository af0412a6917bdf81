// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/ref"
)

// SyncIdentity updates the bot's room-scoped profile (display name,
// avatar) to match the active character and returns the updated cache.
// The name and avatar sub-steps are independent: a failure in one is
// logged and skipped without blocking the other, and only successful
// sub-steps advance the cache, so the next sync retries exactly the
// part that failed.
//
// The avatar path hashes the fetched image and skips the Matrix media
// upload when the bytes match the previously uploaded image, which
// happens whenever the backend rotates avatar URLs without changing
// the picture.
func SyncIdentity(ctx context.Context, messenger Messenger, backend Backend, roomID ref.RoomID, identity characterai.CharacterIdentity, cfg config.RoomConfig, cached RoomSession, logger *slog.Logger) RoomSession {
	updated := cached

	if cfg.UseCharName && identity.Name != "" && identity.Name != updated.CachedName {
		err := messenger.SetRoomProfile(ctx, roomID, identity.Name, updated.AvatarMXC)
		if err != nil {
			logger.Warn("room display name sync failed",
				"room_id", roomID,
				"character_name", identity.Name,
				"error", err,
			)
		} else {
			updated.CachedName = identity.Name
		}
	}

	if cfg.UseCharAvatar && identity.AvatarRef != "" && identity.AvatarRef != updated.CachedAvatarRef {
		if err := syncAvatar(ctx, messenger, backend, roomID, identity.AvatarRef, &updated); err != nil {
			logger.Warn("room avatar sync failed",
				"room_id", roomID,
				"avatar_ref", identity.AvatarRef,
				"error", err,
			)
		}
	}

	return updated
}

// syncAvatar fetches, deduplicates, uploads and applies the avatar.
// On success it advances the avatar fields of cache.
func syncAvatar(ctx context.Context, messenger Messenger, backend Backend, roomID ref.RoomID, avatarRef string, cache *RoomSession) error {
	data, contentType, err := backend.FetchAvatar(ctx, avatarRef)
	if err != nil {
		return err
	}

	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	contentURI := cache.AvatarMXC
	if hash != cache.AvatarHash || contentURI == "" {
		contentURI, err = messenger.UploadMedia(ctx, "avatar", contentType, bytes.NewReader(data))
		if err != nil {
			return err
		}
	}

	if err := messenger.SetRoomProfile(ctx, roomID, cache.CachedName, contentURI); err != nil {
		return err
	}

	cache.AvatarMXC = contentURI
	cache.AvatarHash = hash
	cache.CachedAvatarRef = avatarRef
	return nil
}
