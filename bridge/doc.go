// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the message-routing and session-lifecycle engine.
//
// It connects a Matrix room to a conversational AI backend: each room
// holds at most one live backend chat session, and every inbound room
// message runs through a fixed pipeline of trigger evaluation,
// group-mode formatting, session ensure (opening or resetting the
// backend chat as needed, exporting the outgoing transcript on reset),
// the AI turn, and reply relay back into the room.
//
// All state transitions for one room are serialized on a per-room
// worker goroutine; different rooms proceed concurrently. Durable
// per-room state (active character, chat handle, cached identity)
// lives in [Store], backed by SQLite.
package bridge
