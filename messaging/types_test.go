// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/charbridge/charbridge/lib/ref"
)

func TestNewNoticePlain(t *testing.T) {
	content := NewNotice("just plain text")
	if content.MsgType != "m.notice" {
		t.Errorf("MsgType = %q, want m.notice", content.MsgType)
	}
	if content.Body != "just plain text" {
		t.Errorf("Body = %q", content.Body)
	}
	if content.FormattedBody != "" {
		t.Errorf("FormattedBody = %q, want empty for plain text", content.FormattedBody)
	}
}

func TestNewNoticeMarkdown(t *testing.T) {
	content := NewNotice("some **bold** text")
	if content.Format != "org.matrix.custom.html" {
		t.Errorf("Format = %q", content.Format)
	}
	if !strings.Contains(content.FormattedBody, "<strong>bold</strong>") {
		t.Errorf("FormattedBody = %q, want rendered bold", content.FormattedBody)
	}
	if content.Body != "some **bold** text" {
		t.Errorf("Body = %q, want raw markdown preserved", content.Body)
	}
}

func TestMessageContentIsEdit(t *testing.T) {
	raw := `{"msgtype":"m.text","body":"* fixed","m.relates_to":{"rel_type":"m.replace","event_id":"$orig"},"m.new_content":{"msgtype":"m.text","body":"fixed"}}`
	var content MessageContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !content.IsEdit() {
		t.Error("IsEdit() = false for m.replace relation")
	}
	if content.NewContent == nil || content.NewContent.Body != "fixed" {
		t.Errorf("NewContent = %+v", content.NewContent)
	}
}

func TestMessageContentReplyTarget(t *testing.T) {
	raw := `{"msgtype":"m.text","body":"yes","m.relates_to":{"m.in_reply_to":{"event_id":"$parent"}}}`
	var content MessageContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if content.IsEdit() {
		t.Error("IsEdit() = true for plain reply")
	}
	if got := content.ReplyTarget(); got.String() != "$parent" {
		t.Errorf("ReplyTarget() = %q, want $parent", got)
	}

	var noReply MessageContent
	if err := json.Unmarshal([]byte(`{"msgtype":"m.text","body":"hi"}`), &noReply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !noReply.ReplyTarget().IsZero() {
		t.Error("ReplyTarget() non-zero for non-reply")
	}
}

func TestEventMessageRejectsNonMessages(t *testing.T) {
	event := Event{
		Type:    "m.room.member",
		EventID: ref.MustParseEventID("$e1"),
		Content: json.RawMessage(`{"membership":"join"}`),
	}
	if _, ok := event.Message(); ok {
		t.Error("Message() accepted a member event")
	}
}

func TestNewFileMessage(t *testing.T) {
	content := NewFileMessage("export.zip", "mxc://example.org/abc", "application/zip", 1234)
	if content.MsgType != "m.file" {
		t.Errorf("MsgType = %q", content.MsgType)
	}
	if content.Body != "export.zip" || content.URL != "mxc://example.org/abc" {
		t.Errorf("content = %+v", content)
	}
	if content.Info == nil || content.Info.MimeType != "application/zip" || content.Info.Size != 1234 {
		t.Errorf("Info = %+v", content.Info)
	}
}
