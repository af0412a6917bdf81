// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix identifiers.
//
// Raw identifier strings from the homeserver (user IDs, room IDs, event
// IDs) are parsed into these types at the API boundary, so the rest of
// the bridge never passes around unvalidated strings. All types are
// immutable values; the zero value is never valid and IsZero reports it.
//
// The types implement encoding.TextMarshaler and TextUnmarshaler, so
// JSON (de)serialization of Matrix API payloads validates identifiers
// automatically.
package ref
