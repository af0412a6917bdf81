// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"strings"

	"github.com/charbridge/charbridge/lib/config"
)

// FormatForAI applies the group-mode transform to the text being
// forwarded to the backend. When group mode is off (explicitly, or via
// auto-detection in a direct chat) the text passes through unchanged.
// Otherwise the configured template is rendered with the fixed
// placeholders {username} and {text}; a template that omits either
// placeholder simply renders without it.
func FormatForAI(text, senderName string, roomIsGroup bool, cfg config.RoomConfig) string {
	if !cfg.GroupMode.Resolve(roomIsGroup) {
		return text
	}
	template := cfg.GroupModeTemplate
	if template == "" {
		template = config.DefaultGroupModeTemplate
	}
	rendered := strings.ReplaceAll(template, "{username}", senderName)
	return strings.ReplaceAll(rendered, "{text}", text)
}
