// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/messaging"
)

var (
	bridgeRoom = ref.MustParseRoomID("!room:example.org")
	botUser    = ref.MustParseUserID("@aida:example.org")
	aliceUser  = ref.MustParseUserID("@alice:example.org")
)

func newTestBridge(t *testing.T, defaults config.Layer) (*Bridge, *fakeMessenger, *fakeBackend) {
	t.Helper()
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	messenger := newFakeMessenger()
	backend := newFakeBackend()

	bridge, err := New(Options{
		Messenger: messenger,
		Backend:   backend,
		Store:     store,
		Config:    &config.Config{Defaults: defaults},
		BotUserID: botUser,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bridge, messenger, backend
}

func directMembers() map[string]messaging.JoinedMember {
	return map[string]messaging.JoinedMember{
		botUser.String():   {DisplayName: "Aida"},
		aliceUser.String(): {DisplayName: "Alice"},
	}
}

func groupMembers() map[string]messaging.JoinedMember {
	members := directMembers()
	members["@bob:example.org"] = messaging.JoinedMember{DisplayName: "Bob"}
	return members
}

func inbound(text string) IncomingMessage {
	return IncomingMessage{
		RoomID:  bridgeRoom,
		EventID: ref.MustParseEventID("$msg1"),
		Sender:  aliceUser,
		Text:    text,
	}
}

func lastNotice(t *testing.T, messenger *fakeMessenger) messaging.MessageContent {
	t.Helper()
	sent := messenger.sentMessages()
	if len(sent) == 0 {
		t.Fatal("no messages sent")
	}
	return sent[len(sent)-1]
}

func TestHandleMessageRelaysReply(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = directMembers()
	backend.reply = "It will rain."

	bridge.handleMessage(context.Background(), inbound("what's the weather?"))

	if len(backend.turns) != 1 || backend.turns[0] != "what's the weather?" {
		t.Errorf("turns = %v", backend.turns)
	}
	notice := lastNotice(t, messenger)
	if notice.MsgType != "m.notice" || notice.Body != "It will rain." {
		t.Errorf("notice = %+v", notice)
	}
}

func TestHandleMessageNotTriggeredIsSilent(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		Trigger:            strPtr("{name}"),
	})
	messenger.members = groupMembers()

	bridge.handleMessage(context.Background(), inbound("talking about something else"))

	if len(backend.turns) != 0 {
		t.Errorf("turns = %v, want none", backend.turns)
	}
	if len(messenger.sentMessages()) != 0 {
		t.Errorf("sent = %v, want none", messenger.sentMessages())
	}
}

func TestHandleMessageGroupModePrefixesSender(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = groupMembers()

	bridge.handleMessage(context.Background(), inbound("hello"))

	if len(backend.turns) != 1 || backend.turns[0] != "Alice: hello" {
		t.Errorf("turns = %v, want [Alice: hello]", backend.turns)
	}
}

func TestHandleMessageDirectChatNoGroupPrefix(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = directMembers()

	bridge.handleMessage(context.Background(), inbound("hello"))

	if len(backend.turns) != 1 || backend.turns[0] != "hello" {
		t.Errorf("turns = %v, want [hello]", backend.turns)
	}
}

func TestHandleMessageStripsTriggerBeforeForwarding(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		Trigger:            strPtr("{name}"),
		StripTriggerPrefix: boolPtr(true),
		GroupMode:          config.False,
	})
	messenger.members = groupMembers()

	bridge.handleMessage(context.Background(), inbound("Aida, what's the weather?"))

	if len(backend.turns) != 1 || backend.turns[0] != "what's the weather?" {
		t.Errorf("turns = %v, want [what's the weather?]", backend.turns)
	}
}

func TestHandleMessageShowPromptQuotesInput(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		ShowPrompt:         config.True,
		GroupMode:          config.False,
	})
	messenger.members = directMembers()
	backend.reply = "Sunny."

	bridge.handleMessage(context.Background(), inbound("weather?"))

	notice := lastNotice(t, messenger)
	if notice.Body != "> weather?\n\nSunny." {
		t.Errorf("Body = %q", notice.Body)
	}
}

func TestHandleMessageRichReply(t *testing.T) {
	bridge, messenger, _ := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		ReplyToMessage:     boolPtr(true),
	})
	messenger.members = directMembers()

	bridge.handleMessage(context.Background(), inbound("hello"))

	notice := lastNotice(t, messenger)
	if notice.RelatesTo == nil || notice.RelatesTo.InReplyTo == nil {
		t.Fatalf("RelatesTo = %+v, want in_reply_to", notice.RelatesTo)
	}
	if notice.RelatesTo.InReplyTo.EventID.String() != "$msg1" {
		t.Errorf("in_reply_to = %q", notice.RelatesTo.InReplyTo.EventID)
	}
}

func TestHandleMessageGreetingRelayedBeforeReply(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = directMembers()
	backend.greeting = "Hi, I'm Aida."
	backend.reply = "Sunny."

	bridge.handleMessage(context.Background(), inbound("weather?"))

	sent := messenger.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sent))
	}
	if sent[0].Body != "Hi, I'm Aida." || sent[1].Body != "Sunny." {
		t.Errorf("sent = [%q, %q]", sent[0].Body, sent[1].Body)
	}
}

func TestHandleMessageMissingCharacterSurfaced(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{})
	messenger.members = directMembers()

	bridge.handleMessage(context.Background(), inbound("hello"))

	if len(backend.turns) != 0 {
		t.Errorf("turns = %v, want none", backend.turns)
	}
	notice := lastNotice(t, messenger)
	if !strings.Contains(notice.Body, "!cai new") {
		t.Errorf("Body = %q, want pointer to !cai new", notice.Body)
	}
}

func TestHandleMessageBackendFailureSurfaced(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = directMembers()
	backend.turnErr = &characterai.BackendError{StatusCode: 503, Message: "overloaded"}

	bridge.handleMessage(context.Background(), inbound("hello"))

	notice := lastNotice(t, messenger)
	if !strings.Contains(notice.Body, "unavailable") {
		t.Errorf("Body = %q", notice.Body)
	}
}

func TestHandleMessageReplyToBotTriggers(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		Trigger:            strPtr("{name}"),
		ReplyIsTrigger:     boolPtr(true),
		GroupMode:          config.False,
	})
	messenger.members = groupMembers()
	botEvent := ref.MustParseEventID("$botmsg")
	messenger.events[botEvent] = &messaging.Event{
		Type:    "m.room.message",
		EventID: botEvent,
		Sender:  botUser,
	}

	message := inbound("and tomorrow?")
	message.ReplyTo = botEvent
	bridge.handleMessage(context.Background(), message)

	if len(backend.turns) != 1 || backend.turns[0] != "and tomorrow?" {
		t.Errorf("turns = %v", backend.turns)
	}
}

func newTestRouter(t *testing.T) *roomRouter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newRoomRouter(ctx, 0, discardLogger())
}

func messageEvent(sender ref.UserID, content messaging.MessageContent) messaging.Event {
	raw, _ := json.Marshal(content)
	return messaging.Event{
		Type:    "m.room.message",
		EventID: ref.MustParseEventID("$evt1"),
		Sender:  sender,
		Content: raw,
	}
}

func TestHandleEventFilters(t *testing.T) {
	tests := []struct {
		name     string
		event    messaging.Event
		dispatch bool
	}{
		{
			name:     "plain text from user",
			event:    messageEvent(aliceUser, messaging.NewText("hello")),
			dispatch: true,
		},
		{
			name:     "own message ignored",
			event:    messageEvent(botUser, messaging.NewText("hello")),
			dispatch: false,
		},
		{
			name: "edits ignored",
			event: messageEvent(aliceUser, messaging.MessageContent{
				MsgType:   "m.text",
				Body:      "* fixed",
				RelatesTo: &messaging.RelatesTo{RelType: "m.replace", EventID: ref.MustParseEventID("$orig")},
			}),
			dispatch: false,
		},
		{
			name:     "notices ignored",
			event:    messageEvent(aliceUser, messaging.NewNotice("a bot said this")),
			dispatch: false,
		},
		{
			name:     "foreign command ignored",
			event:    messageEvent(aliceUser, messaging.NewText("!otherbot do thing")),
			dispatch: false,
		},
		{
			name:     "own command dispatched",
			event:    messageEvent(aliceUser, messaging.NewText("!cai new char-2")),
			dispatch: true,
		},
		{
			name: "member event ignored",
			event: messaging.Event{
				Type:    "m.room.member",
				EventID: ref.MustParseEventID("$member1"),
				Sender:  aliceUser,
				Content: json.RawMessage(`{"membership":"join"}`),
			},
			dispatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, _, _ := newTestBridge(t, config.Layer{})
			router := newTestRouter(t)

			bridge.handleEvent(router, bridgeRoom, tt.event)

			router.mu.Lock()
			workers := len(router.queues)
			router.mu.Unlock()
			if (workers > 0) != tt.dispatch {
				t.Errorf("dispatched = %v, want %v", workers > 0, tt.dispatch)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body     string
		wantOK   bool
		wantVerb string
		wantArg  string
	}{
		{"!cai new char-2", true, "new", "char-2"},
		{"!cai new", true, "new", ""},
		{"!cai sync", true, "sync", ""},
		{"!cai", true, "help", ""},
		{"!cai bogus", true, "bogus", ""},
		{"!weather today", false, "", ""},
		{"plain text", false, "", ""},
	}
	for _, tt := range tests {
		cmd, ok := parseCommand(tt.body)
		if ok != tt.wantOK {
			t.Errorf("parseCommand(%q) ok = %v, want %v", tt.body, ok, tt.wantOK)
			continue
		}
		if ok && (cmd.verb != tt.wantVerb || cmd.arg != tt.wantArg) {
			t.Errorf("parseCommand(%q) = %+v", tt.body, cmd)
		}
	}
}

func TestCommandNewResetsSession(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
	})
	messenger.members = directMembers()

	bridge.handleCommand(context.Background(), inbound("!cai new char-2"), command{verb: "new", arg: "char-2"})

	if len(backend.opens) != 1 || backend.opens[0] != "char-2" {
		t.Errorf("opens = %v", backend.opens)
	}
	notice := lastNotice(t, messenger)
	if !strings.Contains(notice.Body, "char-2") {
		t.Errorf("Body = %q", notice.Body)
	}
}

func TestCommandGatedByAllowedUsers(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		AllowedUsers:       []string{"@someoneelse:example.org"},
	})
	messenger.members = directMembers()

	bridge.handleCommand(context.Background(), inbound("!cai new"), command{verb: "new"})

	if len(backend.opens) != 0 {
		t.Errorf("opens = %v, want none", backend.opens)
	}
	if len(messenger.sentMessages()) != 0 {
		t.Errorf("sent = %v, want silence", messenger.sentMessages())
	}
}

func TestCommandSyncForcesIdentity(t *testing.T) {
	bridge, messenger, backend := newTestBridge(t, config.Layer{
		DefaultCharacterID: strPtr("char-1"),
		UseCharName:        boolPtr(true),
	})
	messenger.members = directMembers()
	backend.characters["char-1"] = characterai.CharacterIdentity{Name: "Aida"}

	// Open a session; the identity sync runs once on open.
	bridge.handleMessage(context.Background(), inbound("hello"))
	profilesBefore := len(messenger.profiles)

	// The cached name already matches, but !cai sync forces reapply.
	bridge.handleCommand(context.Background(), inbound("!cai sync"), command{verb: "sync"})

	if len(messenger.profiles) != profilesBefore+1 {
		t.Errorf("profiles = %d, want %d", len(messenger.profiles), profilesBefore+1)
	}
}

func TestCommandUnknownShowsUsage(t *testing.T) {
	bridge, messenger, _ := newTestBridge(t, config.Layer{})
	messenger.members = directMembers()

	bridge.handleCommand(context.Background(), inbound("!cai bogus"), command{verb: "bogus"})

	notice := lastNotice(t, messenger)
	if !strings.Contains(notice.Body, "Usage") {
		t.Errorf("Body = %q", notice.Body)
	}
}
