// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. All helpers call t.Fatalf
// on failure rather than returning errors, since test setup failures
// are not recoverable.
//
// This package has no dependencies on the rest of the module.
package testutil
