// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package characterai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charbridge/charbridge/lib/netutil"
	"github.com/charbridge/charbridge/lib/secret"
)

// BackendError is an error response from the AI backend.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// ChatID identifies one chat session on the backend. Opaque,
// server-assigned.
type ChatID string

// CharacterIdentity is the presentable metadata of a character.
// AvatarRef is a backend-relative or absolute URL for the character's
// avatar image; it is opaque to the bridge beyond equality checks and
// being passed back to FetchAvatar.
type CharacterIdentity struct {
	Name      string
	AvatarRef string
}

// TranscriptEntry is one turn of a chat's history.
type TranscriptEntry struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the backend API base URL.
	BaseURL string
	// Token authenticates all requests. The client keeps a reference
	// for its lifetime; the caller retains ownership of the buffer.
	Token *secret.Buffer
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client talks to the conversational AI backend. Safe for concurrent
// use.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("characterai: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("characterai: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.Token == nil {
		return nil, fmt.Errorf("characterai: Token is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type openChatRequest struct {
	CharacterID string `json:"character_id"`
}

type openChatResponse struct {
	ChatID   string `json:"chat_id"`
	Greeting string `json:"greeting,omitempty"`
}

// OpenSession opens a new chat with a character. Returns the new chat
// ID and the character's greeting text (possibly empty).
func (c *Client) OpenSession(ctx context.Context, characterID string) (ChatID, string, error) {
	if characterID == "" {
		return "", "", fmt.Errorf("characterai: character ID is required")
	}
	var response openChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/chats", openChatRequest{CharacterID: characterID}, &response)
	if err != nil {
		return "", "", fmt.Errorf("characterai: failed to open chat with character %s: %w", characterID, err)
	}
	if response.ChatID == "" {
		return "", "", fmt.Errorf("characterai: backend returned empty chat_id for character %s", characterID)
	}
	c.logger.Debug("opened backend chat", "character_id", characterID, "chat_id", response.ChatID)
	return ChatID(response.ChatID), response.Greeting, nil
}

type sendTurnRequest struct {
	Text string `json:"text"`
}

type sendTurnResponse struct {
	Text string `json:"text"`
}

// SendTurn sends one user turn to a chat and returns the character's
// reply text. Blocks until the backend finishes generating.
func (c *Client) SendTurn(ctx context.Context, chatID ChatID, text string) (string, error) {
	path := "/v1/chats/" + url.PathEscape(string(chatID)) + "/turns"
	var response sendTurnResponse
	if err := c.doJSON(ctx, http.MethodPost, path, sendTurnRequest{Text: text}, &response); err != nil {
		return "", fmt.Errorf("characterai: turn failed in chat %s: %w", chatID, err)
	}
	return response.Text, nil
}

type characterResponse struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CharacterInfo fetches a character's display metadata.
func (c *Client) CharacterInfo(ctx context.Context, characterID string) (CharacterIdentity, error) {
	path := "/v1/characters/" + url.PathEscape(characterID)
	var response characterResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &response); err != nil {
		return CharacterIdentity{}, fmt.Errorf("characterai: failed to fetch character %s: %w", characterID, err)
	}
	return CharacterIdentity{Name: response.Name, AvatarRef: response.AvatarURL}, nil
}

type historyResponse struct {
	Turns []historyTurn `json:"turns"`
}

type historyTurn struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// History fetches the full ordered turn history of a chat.
func (c *Client) History(ctx context.Context, chatID ChatID) ([]TranscriptEntry, error) {
	path := "/v1/chats/" + url.PathEscape(string(chatID)) + "/history"
	var response historyResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("characterai: failed to fetch history of chat %s: %w", chatID, err)
	}
	entries := make([]TranscriptEntry, 0, len(response.Turns))
	for _, turn := range response.Turns {
		entries = append(entries, TranscriptEntry{
			Speaker:   turn.Author,
			Text:      turn.Text,
			Timestamp: turn.CreatedAt,
		})
	}
	return entries, nil
}

// FetchAvatar downloads a character's avatar image. avatarRef may be
// absolute or relative to the backend base URL. Returns the image
// bytes and the Content-Type reported by the server.
func (c *Client) FetchAvatar(ctx context.Context, avatarRef string) ([]byte, string, error) {
	if avatarRef == "" {
		return nil, "", fmt.Errorf("characterai: avatar ref is empty")
	}
	requestURL := avatarRef
	if strings.HasPrefix(avatarRef, "/") {
		requestURL = c.baseURL + avatarRef
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("characterai: failed to create avatar request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("characterai: avatar fetch failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", &BackendError{
			StatusCode: response.StatusCode,
			Message:    netutil.ErrorBody(response.Body),
		}
	}

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("characterai: failed to read avatar body: %w", err)
	}

	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// doJSON performs a JSON request against the backend API and decodes
// the 2xx response into out. Non-2xx responses return *BackendError.
func (c *Client) doJSON(ctx context.Context, method, path string, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.token.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		backendErr := &BackendError{StatusCode: response.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(responseBody, &parsed) == nil {
			backendErr.Message = parsed.Error
		}
		if backendErr.Message == "" {
			backendErr.Message = strings.TrimSpace(string(responseBody))
		}
		return backendErr
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}
