// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with standard
// pragmas for the bridge's durable state.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work.
//
// Every connection is initialized with journal_mode=WAL (concurrent
// readers, single writer), synchronous=NORMAL (transactions survive
// process crashes), busy_timeout=5000, and temp_store=MEMORY.
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Callers write SQL,
// use sqlitex.Execute for cached statements, and manage transactions
// themselves. There is no query-builder abstraction layer.
package sqlitepool
