// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty path succeeded, want error")
	}
}

func TestTakePut(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (x INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func TestOnConnect(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, "CREATE TABLE IF NOT EXISTS rooms (room_id TEXT PRIMARY KEY);", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	// The OnConnect schema must be visible on the connection.
	if err := sqlitex.ExecuteTransient(conn,
		"INSERT INTO rooms (room_id) VALUES ('!a:example.org')", nil); err != nil {
		t.Fatalf("insert into OnConnect-created table: %v", err)
	}
}
