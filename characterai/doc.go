// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package characterai is an HTTP client for the conversational AI
// backend. It covers the small API surface the bridge needs: opening
// chat sessions for a character, sending conversation turns, reading
// character metadata and chat history, and fetching avatar images.
//
// All methods take a context and return wrapped errors; HTTP error
// responses from the backend surface as [*BackendError] so callers
// can distinguish backend failures from transport failures.
package characterai
