// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// the bridge consumes.
//
// [Client] is an unauthenticated Matrix client holding the homeserver
// URL and HTTP transport. [DirectSession] wraps a Client with an access
// token for authenticated operations: sending messages and files,
// uploading media, room-scoped profile updates (the per-room display
// name and avatar the bridge mirrors from the active character),
// typing notifications, read receipts, event fetches, membership
// queries, and incremental /sync with long-polling.
//
// The access token is stored in an mmap-backed secret.Buffer (locked
// against swap, excluded from core dumps); callers must Close the
// session to release it.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, ...) and HTTP status
// code. [IsMatrixError] tests for a specific code. Request URLs are
// built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters.
package messaging
