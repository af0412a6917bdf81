// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the bridge.
//
// Configuration is a single YAML file with two layers: a "defaults"
// section holding global bridge behavior and an optional "rooms"
// section with per-room overrides. [Config.Resolve] merges the layers
// into an immutable [RoomConfig] snapshot — message handling reads the
// snapshot, never the layers, so a half-applied override can never be
// observed mid-message.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/charbridge/charbridge/lib/ref"
)

// DefaultGroupModeTemplate is the group-mode prefix template applied
// when none is configured.
const DefaultGroupModeTemplate = "{username}: {text}"

// Config is the top-level bridge configuration.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the bridge bot's fully-qualified Matrix user ID.
	UserID ref.UserID `yaml:"user_id"`

	// AccessTokenFile is the path to a file holding the Matrix access
	// token, or "-" to read it from stdin.
	AccessTokenFile string `yaml:"access_token_file"`

	// Backend configures the character AI backend.
	Backend BackendConfig `yaml:"backend"`

	// DatabasePath is the SQLite file holding per-room session state.
	DatabasePath string `yaml:"database"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Empty means "info".
	LogLevel string `yaml:"log_level"`

	// Defaults is the global behavior layer.
	Defaults Layer `yaml:"defaults"`

	// Rooms holds per-room overrides, keyed by room ID.
	Rooms map[string]Layer `yaml:"rooms"`
}

// BackendConfig points the bridge at the character AI API.
type BackendConfig struct {
	// BaseURL is the API base URL.
	BaseURL string `yaml:"base_url"`

	// TokenFile is the path to a file holding the API token, or "-"
	// to read it from stdin.
	TokenFile string `yaml:"token_file"`
}

// Layer is one configuration layer: either the global defaults or a
// per-room override. Every field is optional; pointer and TriState
// fields distinguish "not configured here" from an explicit value so
// that a room override can set a flag to false without being mistaken
// for "inherit".
type Layer struct {
	// Trigger is the substring that summons the bot. "{name}" expands
	// to the bot's localpart. Empty string (explicitly configured)
	// means "reply to everything".
	Trigger *string `yaml:"trigger"`

	// StripTriggerPrefix removes the trigger from the start of the
	// message before forwarding it to the AI.
	StripTriggerPrefix *bool `yaml:"strip_trigger_prefix"`

	// ReplyIsTrigger treats a reply to one of the bot's messages as a
	// trigger.
	ReplyIsTrigger *bool `yaml:"reply_is_trigger"`

	// AlwaysReplyInDM triggers on every message in a direct chat.
	AlwaysReplyInDM *bool `yaml:"always_reply_in_dm"`

	// ReplyToMessage sends the AI's answer as a Matrix rich reply to
	// the triggering message.
	ReplyToMessage *bool `yaml:"reply_to_message"`

	// ShowPrompt prefixes the answer with a quoted copy of the prompt.
	// Auto: only in group rooms.
	ShowPrompt TriState `yaml:"show_prompt_in_reply"`

	// UseCharName mirrors the character's name into the bot's
	// room-scoped display name.
	UseCharName *bool `yaml:"use_char_name"`

	// UseCharAvatar mirrors the character's avatar into the bot's
	// room-scoped avatar.
	UseCharAvatar *bool `yaml:"use_char_avatar"`

	// GroupMode prefixes forwarded text with the sender's name.
	// Auto: only in group rooms.
	GroupMode TriState `yaml:"group_mode"`

	// GroupModeTemplate is the prefix template; "{username}" and
	// "{text}" are substituted.
	GroupModeTemplate *string `yaml:"group_mode_template"`

	// ExportTxt enables plain-text transcript export on session reset.
	ExportTxt *bool `yaml:"export_txt"`

	// ExportJSON enables JSON transcript export on session reset.
	ExportJSON *bool `yaml:"export_json"`

	// AllowedUsers restricts who can summon the bot. Empty or absent
	// means everyone.
	AllowedUsers []string `yaml:"allowed_users"`

	// DefaultCharacterID is the character opened when a session is
	// created without an explicit character.
	DefaultCharacterID *string `yaml:"default_character_id"`
}

// RoomConfig is the fully-resolved, immutable per-room configuration
// snapshot. Message handling operates on a RoomConfig value and never
// sees the underlying layers.
type RoomConfig struct {
	Trigger            string
	StripTriggerPrefix bool
	ReplyIsTrigger     bool
	AlwaysReplyInDM    bool
	ReplyToMessage     bool
	ShowPrompt         TriState
	UseCharName        bool
	UseCharAvatar      bool
	GroupMode          TriState
	GroupModeTemplate  string
	ExportTxt          bool
	ExportJSON         bool
	AllowedUsers       []string
	DefaultCharacterID string
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the required connection fields are present and
// that every room key in the overrides section is a valid room ID.
func (c *Config) Validate() error {
	if c.HomeserverURL == "" {
		return fmt.Errorf("homeserver_url is required")
	}
	if c.UserID.IsZero() {
		return fmt.Errorf("user_id is required")
	}
	if c.AccessTokenFile == "" {
		return fmt.Errorf("access_token_file is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.TokenFile == "" {
		return fmt.Errorf("backend.token_file is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database is required")
	}

	for roomKey := range c.Rooms {
		if _, err := ref.ParseRoomID(roomKey); err != nil {
			return fmt.Errorf("rooms: %w", err)
		}
	}
	return nil
}

// Resolve merges the defaults layer with the room's override layer (if
// any) into a RoomConfig snapshot. Override values win field by field;
// unset override fields inherit from the defaults; fields unset in both
// layers take the built-in zero behavior (empty trigger, group mode
// auto, default group-mode template).
func (c *Config) Resolve(roomID ref.RoomID) RoomConfig {
	resolved := RoomConfig{
		GroupModeTemplate: DefaultGroupModeTemplate,
		ShowPrompt:        Auto,
		GroupMode:         Auto,
	}

	layers := []Layer{c.Defaults}
	if override, ok := c.Rooms[roomID.String()]; ok {
		layers = append(layers, override)
	}

	for _, layer := range layers {
		if layer.Trigger != nil {
			resolved.Trigger = *layer.Trigger
		}
		if layer.StripTriggerPrefix != nil {
			resolved.StripTriggerPrefix = *layer.StripTriggerPrefix
		}
		if layer.ReplyIsTrigger != nil {
			resolved.ReplyIsTrigger = *layer.ReplyIsTrigger
		}
		if layer.AlwaysReplyInDM != nil {
			resolved.AlwaysReplyInDM = *layer.AlwaysReplyInDM
		}
		if layer.ReplyToMessage != nil {
			resolved.ReplyToMessage = *layer.ReplyToMessage
		}
		if layer.ShowPrompt != Unset {
			resolved.ShowPrompt = layer.ShowPrompt
		}
		if layer.UseCharName != nil {
			resolved.UseCharName = *layer.UseCharName
		}
		if layer.UseCharAvatar != nil {
			resolved.UseCharAvatar = *layer.UseCharAvatar
		}
		if layer.GroupMode != Unset {
			resolved.GroupMode = layer.GroupMode
		}
		if layer.GroupModeTemplate != nil {
			resolved.GroupModeTemplate = *layer.GroupModeTemplate
		}
		if layer.ExportTxt != nil {
			resolved.ExportTxt = *layer.ExportTxt
		}
		if layer.ExportJSON != nil {
			resolved.ExportJSON = *layer.ExportJSON
		}
		if layer.AllowedUsers != nil {
			resolved.AllowedUsers = append([]string(nil), layer.AllowedUsers...)
		}
		if layer.DefaultCharacterID != nil {
			resolved.DefaultCharacterID = *layer.DefaultCharacterID
		}
	}

	return resolved
}
