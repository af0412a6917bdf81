// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TriState is an explicit three-valued flag for settings whose
// "unconfigured" meaning is auto-detection rather than false.
// Group mode and show-prompt both default to "match the room type":
// on in group rooms, off in direct chats.
//
// The zero value is Unset, which merges as "inherit from the defaults
// layer". In a fully-resolved RoomConfig the value is never Unset.
type TriState int8

const (
	// Unset means the layer does not configure the flag.
	Unset TriState = iota
	// Auto means the behavior is derived from the room type.
	Auto
	// True forces the behavior on.
	True
	// False forces the behavior off.
	False
)

// String returns the YAML spelling of the value.
func (t TriState) String() string {
	switch t {
	case Unset:
		return "unset"
	case Auto:
		return "auto"
	case True:
		return "true"
	case False:
		return "false"
	default:
		return fmt.Sprintf("TriState(%d)", int8(t))
	}
}

// Resolve collapses the tri-state to a concrete bool using the
// room type: Auto (and Unset) yield roomIsGroup.
func (t TriState) Resolve(roomIsGroup bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return roomIsGroup
	}
}

// UnmarshalYAML accepts true, false, "auto", and null. Null maps to
// Auto so that an explicitly-written "group_mode:" line in the defaults
// section reads naturally; an absent key stays Unset.
func (t *TriState) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*t = Auto
		return nil
	}

	switch node.Value {
	case "true", "True":
		*t = True
	case "false", "False":
		*t = False
	case "auto":
		*t = Auto
	default:
		return fmt.Errorf("invalid tri-state value %q (want true, false, auto, or null)", node.Value)
	}
	return nil
}

// MarshalYAML emits the YAML spelling.
func (t TriState) MarshalYAML() (any, error) {
	switch t {
	case True:
		return true, nil
	case False:
		return false, nil
	default:
		return "auto", nil
	}
}
