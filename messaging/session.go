// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charbridge/charbridge/lib/ref"
	"github.com/charbridge/charbridge/lib/secret"
)

// DirectSession is an authenticated Matrix session backed by a direct
// access token. The access token lives in mmap-backed memory for its
// lifetime; Close zeroes and unmaps it.
//
// DirectSession is safe for concurrent use.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	transactionCounter atomic.Uint64
}

// UserID returns the fully-qualified Matrix user ID of the session.
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// Close releases the session's access token memory. The session must
// not be used after Close.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// nextTransactionID returns a transaction ID unique within this
// session. Matrix requires these to deduplicate retried sends.
func (s *DirectSession) nextTransactionID() string {
	n := s.transactionCounter.Add(1)
	return "charbridge-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

// WhoAmI validates the access token against the homeserver and returns
// the user ID it belongs to.
func (s *DirectSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// SendMessage sends an m.room.message event to a room and returns the
// event ID assigned by the server.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/send/m.room.message/" + url.PathEscape(s.nextTransactionID())
	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to send message to %s: %w", roomID, err)
	}
	var response EventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent sends a state event to a room and returns the event ID.
func (s *DirectSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(eventType) + "/" + url.PathEscape(stateKey)
	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to send state event %s to %s: %w", eventType, roomID, err)
	}
	var response EventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse state event response: %w", err)
	}
	return response.EventID, nil
}

// GetStateEvent fetches the content of a state event from a room,
// decoding it into out.
func (s *DirectSession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, out any) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(eventType) + "/" + url.PathEscape(stateKey)
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return fmt.Errorf("messaging: failed to get state event %s from %s: %w", eventType, roomID, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("messaging: failed to parse state event content: %w", err)
	}
	return nil
}

// SetRoomProfile sets the session user's per-room display name and
// avatar by re-sending its own m.room.member state event. Either field
// may be empty to leave it unset. This changes the profile in the one
// room only; the global profile is untouched.
func (s *DirectSession) SetRoomProfile(ctx context.Context, roomID ref.RoomID, displayName, avatarURL string) error {
	content := MemberContent{
		Membership:  "join",
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	}
	if _, err := s.SendStateEvent(ctx, roomID, "m.room.member", s.userID.String(), content); err != nil {
		return fmt.Errorf("messaging: failed to set room profile in %s: %w", roomID, err)
	}
	return nil
}

// GetEvent fetches a single event from a room by event ID.
func (s *DirectSession) GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*Event, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/event/" + url.PathEscape(eventID.String())
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to get event %s from %s: %w", eventID, roomID, err)
	}
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse event: %w", err)
	}
	return &event, nil
}

// JoinedMembers returns the currently joined members of a room.
func (s *DirectSession) JoinedMembers(ctx context.Context, roomID ref.RoomID) (map[string]JoinedMember, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/joined_members"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to get joined members of %s: %w", roomID, err)
	}
	var response JoinedMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined members response: %w", err)
	}
	return response.Joined, nil
}

// JoinRoom joins a room by ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/join"
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}); err != nil {
		return fmt.Errorf("messaging: failed to join room %s: %w", roomID, err)
	}
	return nil
}

// SendReceipt marks an event as read.
func (s *DirectSession) SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/receipt/m.read/" + url.PathEscape(eventID.String())
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}); err != nil {
		return fmt.Errorf("messaging: failed to send read receipt in %s: %w", roomID, err)
	}
	return nil
}

// Typing sets or clears the typing indicator in a room. timeout is
// how long the indicator stays active when typing is true.
func (s *DirectSession) Typing(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/typing/" + url.PathEscape(s.userID.String())
	request := map[string]any{"typing": typing}
	if typing {
		request["timeout"] = timeout.Milliseconds()
	}
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: failed to set typing in %s: %w", roomID, err)
	}
	return nil
}

// UploadMedia uploads content to the homeserver's media repository and
// returns the mxc:// content URI.
func (s *DirectSession) UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	path := "/_matrix/media/v3/upload"
	if filename != "" {
		path += "?filename=" + url.QueryEscape(filename)
	}
	body, err := s.client.doRequestRaw(ctx, http.MethodPost, path, s.accessToken, contentType, content)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}
	var response UploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	if response.ContentURI == "" {
		return "", fmt.Errorf("messaging: upload response missing content_uri")
	}
	return response.ContentURI, nil
}

// Sync performs one long-poll sync against the homeserver. since is
// the next_batch token from the previous sync, or empty for an initial
// sync. timeout is the server-side long-poll duration; the request
// context should allow somewhat longer.
func (s *DirectSession) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error) {
	query := url.Values{}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	if since != "" {
		query.Set("since", since)
	}
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}
