// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"slices"
	"strings"

	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/ref"
)

// IncomingMessage is one inbound room message, reduced to the fields
// trigger evaluation and forwarding need.
type IncomingMessage struct {
	RoomID       ref.RoomID
	EventID      ref.EventID
	Sender       ref.UserID
	SenderName   string
	Text         string
	ReplyTo      ref.EventID
	RoomIsDirect bool
}

// Decision is the outcome of trigger evaluation. When Triggered is
// true, Text is the prompt text to forward (stripped of the trigger
// prefix when configured).
type Decision struct {
	Triggered bool
	Text      string
}

// noTrigger is the negative decision.
var noTrigger = Decision{}

// triggerSeparators are trimmed from the prompt after the trigger
// prefix is removed, so "Aida, hi" with trigger "Aida" forwards "hi".
const triggerSeparators = " \t,:;"

// EvaluateTrigger decides whether a message warrants a reply and what
// text to forward. botName is the bot's own identifier, substituted
// for the "{name}" placeholder in the trigger string. answeringBot
// reports whether the message is a reply to one of the bot's own
// messages. Pure; the caller has already filtered out the bot's own
// messages, edits, non-text events and command-prefixed messages.
func EvaluateTrigger(message IncomingMessage, cfg config.RoomConfig, botName string, answeringBot bool) Decision {
	if len(cfg.AllowedUsers) > 0 && !slices.Contains(cfg.AllowedUsers, message.Sender.String()) {
		return noTrigger
	}
	if cfg.AlwaysReplyInDM && message.RoomIsDirect {
		return Decision{Triggered: true, Text: message.Text}
	}
	if cfg.ReplyIsTrigger && answeringBot {
		// No prefix to strip on the reply path, so the text passes
		// through unchanged regardless of StripTriggerPrefix.
		return Decision{Triggered: true, Text: message.Text}
	}

	trigger := strings.ReplaceAll(cfg.Trigger, "{name}", botName)
	if trigger == "" {
		return Decision{Triggered: true, Text: message.Text}
	}

	lowerText := strings.ToLower(message.Text)
	lowerTrigger := strings.ToLower(trigger)
	if !strings.Contains(lowerText, lowerTrigger) {
		return noTrigger
	}

	text := message.Text
	if cfg.StripTriggerPrefix && strings.HasPrefix(lowerText, lowerTrigger) {
		text = strings.TrimLeft(text[len(trigger):], triggerSeparators)
	}
	return Decision{Triggered: true, Text: text}
}
