// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time behind a small interface so
// retry and backoff logic can be tested deterministically.
//
// Production code injects [Real]; tests inject [Fake], which only
// advances when the test calls Advance. FakeClock.BlockUntil lets a
// test wait for a goroutine to reach its blocking After/Sleep call
// before advancing, avoiding races without real sleeps.
package clock
