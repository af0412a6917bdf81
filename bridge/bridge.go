// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/clock"
	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/messaging"
)

const (
	syncTimeout    = 30 * time.Second
	typingTimeout  = 60 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Minute
)

// Options configures a Bridge.
type Options struct {
	Messenger Messenger
	Backend   Backend
	Store     *Store
	Config    *config.Config
	BotUserID ref.UserID
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Bridge runs the sync loop and the per-message pipeline.
type Bridge struct {
	messenger Messenger
	backend   Backend
	store     *Store
	cfg       *config.Config
	manager   *SessionManager
	botUserID ref.UserID
	botName   string
	clock     clock.Clock
	logger    *slog.Logger

	memberMu sync.Mutex
	members  map[ref.RoomID]map[string]messaging.JoinedMember
}

// New creates a Bridge. All Options fields except Logger and Clock are
// required.
func New(opts Options) (*Bridge, error) {
	if opts.Messenger == nil || opts.Backend == nil || opts.Store == nil || opts.Config == nil {
		return nil, fmt.Errorf("bridge: Messenger, Backend, Store and Config are required")
	}
	if opts.BotUserID.IsZero() {
		return nil, fmt.Errorf("bridge: BotUserID is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		messenger: opts.Messenger,
		backend:   opts.Backend,
		store:     opts.Store,
		cfg:       opts.Config,
		manager:   NewSessionManager(opts.Store, opts.Backend, opts.Messenger, clk, logger),
		botUserID: opts.BotUserID,
		botName:   opts.BotUserID.Localpart(),
		clock:     clk,
		logger:    logger,
		members:   make(map[ref.RoomID]map[string]messaging.JoinedMember),
	}, nil
}

// Run syncs against the homeserver until ctx is cancelled. Sync
// failures retry with exponential backoff. The first sync establishes
// the batch position only; its backlog is not replayed.
func (b *Bridge) Run(ctx context.Context) error {
	router := newRoomRouter(ctx, 0, b.logger)
	defer router.wait()

	since := ""
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		response, err := b.messenger.Sync(ctx, since, syncTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("sync failed, backing off",
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.clock.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		initial := since == ""
		since = response.NextBatch
		if initial {
			b.logger.Info("initial sync complete", "next_batch", since)
			continue
		}

		b.acceptInvites(ctx, response.Rooms.Invite)

		for roomKey, room := range response.Rooms.Join {
			roomID, err := ref.ParseRoomID(roomKey)
			if err != nil {
				b.logger.Warn("sync returned invalid room ID", "room_id", roomKey, "error", err)
				continue
			}
			for _, event := range room.Timeline.Events {
				b.handleEvent(router, roomID, event)
			}
		}
	}
}

// acceptInvites joins every room the bot was invited to.
func (b *Bridge) acceptInvites(ctx context.Context, invites map[string]messaging.SyncInvitedRoom) {
	for roomKey := range invites {
		roomID, err := ref.ParseRoomID(roomKey)
		if err != nil {
			continue
		}
		if err := b.messenger.JoinRoom(ctx, roomID); err != nil {
			b.logger.Warn("failed to join invited room", "room_id", roomID, "error", err)
			continue
		}
		b.logger.Info("joined room on invite", "room_id", roomID)
	}
}

// handleEvent filters one timeline event and dispatches message
// handling to the room's worker.
func (b *Bridge) handleEvent(router *roomRouter, roomID ref.RoomID, event messaging.Event) {
	if event.Type == "m.room.member" {
		// Membership changed; next message refetches the member list.
		b.memberMu.Lock()
		delete(b.members, roomID)
		b.memberMu.Unlock()
		return
	}
	if event.Sender == b.botUserID {
		return
	}
	content, ok := event.Message()
	if !ok || content.IsEdit() || content.MsgType != "m.text" {
		return
	}

	message := IncomingMessage{
		RoomID:  roomID,
		EventID: event.EventID,
		Sender:  event.Sender,
		Text:    content.Body,
		ReplyTo: content.ReplyTarget(),
	}

	if strings.HasPrefix(content.Body, "!") {
		if cmd, ok := parseCommand(content.Body); ok {
			router.dispatch(roomID, func(ctx context.Context) {
				b.handleCommand(ctx, message, cmd)
			})
		}
		return
	}

	router.dispatch(roomID, func(ctx context.Context) {
		b.handleMessage(ctx, message)
	})
}

// handleMessage runs the full pipeline for one triggering candidate.
// Executes on the room's worker goroutine.
func (b *Bridge) handleMessage(ctx context.Context, message IncomingMessage) {
	cfg := b.cfg.Resolve(message.RoomID)

	if err := b.messenger.SendReceipt(ctx, message.RoomID, message.EventID); err != nil {
		b.logger.Debug("read receipt failed", "room_id", message.RoomID, "error", err)
	}

	members := b.roomMembers(ctx, message.RoomID)
	message.RoomIsDirect = len(members) == 2
	message.SenderName = senderName(members, message.Sender)

	decision := EvaluateTrigger(message, cfg, b.botName, b.isAnsweringBot(ctx, message))
	if !decision.Triggered {
		return
	}

	if err := b.messenger.Typing(ctx, message.RoomID, true, typingTimeout); err != nil {
		b.logger.Debug("typing indicator failed", "room_id", message.RoomID, "error", err)
	}
	defer func() {
		if err := b.messenger.Typing(ctx, message.RoomID, false, 0); err != nil {
			b.logger.Debug("typing indicator failed", "room_id", message.RoomID, "error", err)
		}
	}()

	session, greeting, err := b.manager.EnsureSession(ctx, message.RoomID, "", cfg)
	if err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}
	if greeting != "" {
		if _, err := b.messenger.SendMessage(ctx, message.RoomID, messaging.NewNotice(greeting)); err != nil {
			b.logger.Warn("greeting relay failed", "room_id", message.RoomID, "error", err)
		}
	}

	prompt := FormatForAI(decision.Text, message.SenderName, !message.RoomIsDirect, cfg)
	reply, err := b.backend.SendTurn(ctx, session.ChatID, prompt)
	if err != nil {
		b.reportError(ctx, message.RoomID, err)
		return
	}

	body := reply
	if cfg.ShowPrompt.Resolve(!message.RoomIsDirect) {
		body = quotePrompt(decision.Text) + "\n\n" + reply
	}
	content := messaging.NewNotice(body)
	if cfg.ReplyToMessage {
		content.RelatesTo = &messaging.RelatesTo{
			InReplyTo: &messaging.InReplyTo{EventID: message.EventID},
		}
	}
	if _, err := b.messenger.SendMessage(ctx, message.RoomID, content); err != nil {
		b.logger.Error("reply relay failed", "room_id", message.RoomID, "error", err)
	}
}

// isAnsweringBot reports whether the message replies to one of the
// bot's own events.
func (b *Bridge) isAnsweringBot(ctx context.Context, message IncomingMessage) bool {
	if message.ReplyTo.IsZero() {
		return false
	}
	target, err := b.messenger.GetEvent(ctx, message.RoomID, message.ReplyTo)
	if err != nil {
		b.logger.Debug("reply target fetch failed",
			"room_id", message.RoomID,
			"event_id", message.ReplyTo,
			"error", err,
		)
		return false
	}
	return target.Sender == b.botUserID
}

// roomMembers returns the room's joined members, cached until the next
// membership change.
func (b *Bridge) roomMembers(ctx context.Context, roomID ref.RoomID) map[string]messaging.JoinedMember {
	b.memberMu.Lock()
	cached, ok := b.members[roomID]
	b.memberMu.Unlock()
	if ok {
		return cached
	}

	members, err := b.messenger.JoinedMembers(ctx, roomID)
	if err != nil {
		b.logger.Warn("joined members fetch failed", "room_id", roomID, "error", err)
		return nil
	}
	b.memberMu.Lock()
	b.members[roomID] = members
	b.memberMu.Unlock()
	return members
}

func senderName(members map[string]messaging.JoinedMember, sender ref.UserID) string {
	if member, ok := members[sender.String()]; ok && member.DisplayName != "" {
		return member.DisplayName
	}
	return sender.Localpart()
}

// reportError surfaces a handling failure into the room as a notice.
func (b *Bridge) reportError(ctx context.Context, roomID ref.RoomID, err error) {
	var text string
	var backendErr *characterai.BackendError
	switch {
	case errors.Is(err, ErrMissingCharacter):
		text = "No character is configured for this room. Use `!cai new <character_id>` to pick one."
	case errors.As(err, &backendErr):
		text = "The AI backend is unavailable right now, please try again."
	default:
		text = "Something went wrong handling that message."
	}
	b.logger.Error("message handling failed", "room_id", roomID, "error", err)
	if _, sendErr := b.messenger.SendMessage(ctx, roomID, messaging.NewNotice(text)); sendErr != nil {
		b.logger.Error("error notice undeliverable", "room_id", roomID, "error", sendErr)
	}
}

// quotePrompt renders the prompt as a markdown quote block.
func quotePrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
