// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadResponse = %q, want %q", data, "hello")
	}
}

func TestDecodeResponse(t *testing.T) {
	var decoded struct {
		Name string `json:"name"`
	}
	if err := DecodeResponse(strings.NewReader(`{"name":"aida"}`), &decoded); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded.Name != "aida" {
		t.Errorf("Name = %q, want %q", decoded.Name, "aida")
	}

	if err := DecodeResponse(strings.NewReader("not json"), &decoded); err == nil {
		t.Error("DecodeResponse of invalid JSON succeeded, want error")
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("boom")); got != "boom" {
		t.Errorf("ErrorBody = %q, want %q", got, "boom")
	}
}
