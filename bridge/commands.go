// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"slices"
	"strings"

	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/messaging"
)

// command is a parsed "!cai" admin command.
type command struct {
	verb string
	arg  string
}

// parseCommand recognizes "!cai <verb> [arg]" messages. Other
// "!"-prefixed messages belong to other bots and are ignored entirely.
func parseCommand(body string) (command, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != "!cai" {
		return command{}, false
	}
	cmd := command{verb: "help"}
	if len(fields) > 1 {
		cmd.verb = fields[1]
	}
	if len(fields) > 2 {
		cmd.arg = fields[2]
	}
	return cmd, true
}

const commandUsage = "Usage: `!cai new [character_id]` starts a fresh session, " +
	"`!cai sync` re-applies the character's name and avatar."

// handleCommand executes an admin command on the room's worker. The
// allowed-users list gates commands the same way it gates triggers.
func (b *Bridge) handleCommand(ctx context.Context, message IncomingMessage, cmd command) {
	cfg := b.cfg.Resolve(message.RoomID)
	if len(cfg.AllowedUsers) > 0 && !slices.Contains(cfg.AllowedUsers, message.Sender.String()) {
		return
	}

	switch cmd.verb {
	case "new":
		b.commandNew(ctx, message, cmd.arg, cfg)
	case "sync":
		b.commandSync(ctx, message, cfg)
	default:
		b.notify(ctx, message, commandUsage)
	}
}

func (b *Bridge) commandNew(ctx context.Context, message IncomingMessage, characterID string, cfg config.RoomConfig) {
	session, greeting, err := b.manager.ResetSession(ctx, message.RoomID, characterID, cfg)
	if err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}

	b.logger.Info("session reset by command",
		"room_id", message.RoomID,
		"character_id", session.CharacterID,
		"sender", message.Sender,
	)
	text := "Started a new session with character `" + session.CharacterID + "`."
	if greeting != "" {
		text += "\n\n" + greeting
	}
	b.notify(ctx, message, text)
}

func (b *Bridge) commandSync(ctx context.Context, message IncomingMessage, cfg config.RoomConfig) {
	session, err := b.store.Get(ctx, message.RoomID)
	if err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}
	if session == nil {
		b.notify(ctx, message, "No active session in this room.")
		return
	}

	identity, err := b.backend.CharacterInfo(ctx, session.CharacterID)
	if err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}

	// Clear the cached identity so both sub-steps run even when the
	// backend metadata is unchanged.
	forced := *session
	forced.CachedName = ""
	forced.CachedAvatarRef = ""
	updated := SyncIdentity(ctx, b.messenger, b.backend, message.RoomID, identity, cfg, forced, b.logger)

	if err := b.store.Upsert(ctx, message.RoomID, updated); err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}
	b.notify(ctx, message, "Character name and avatar re-applied.")
}

func (b *Bridge) notify(ctx context.Context, message IncomingMessage, text string) {
	if _, err := b.messenger.SendMessage(ctx, message.RoomID, messaging.NewNotice(text)); err != nil {
		b.logger.Error("command response undeliverable", "room_id", message.RoomID, "error", err)
	}
}
