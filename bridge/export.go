// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/charbridge/charbridge/characterai"
)

// ExportFormats selects which transcript encodings to produce.
type ExportFormats struct {
	Txt  bool
	JSON bool
}

// Artifact is one exported file ready to be sent into the room.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

type transcriptEntryJSON struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ExportTranscript serializes a chat history into the requested
// formats. With both formats enabled the two files are packaged into a
// single zip archive; with one, that file is returned directly; with
// none, no artifact is produced. An empty transcript still yields
// well-formed output (empty text file, empty JSON array). characterName
// and now feed the artifact filename.
func ExportTranscript(entries []characterai.TranscriptEntry, formats ExportFormats, characterName string, now time.Time) ([]Artifact, error) {
	if !formats.Txt && !formats.JSON {
		return nil, nil
	}

	base := exportBaseName(characterName, now)

	var files []Artifact
	if formats.Txt {
		files = append(files, Artifact{
			Filename:    base + ".txt",
			ContentType: "text/plain",
			Data:        renderTxt(entries),
		})
	}
	if formats.JSON {
		data, err := renderJSON(entries)
		if err != nil {
			return nil, fmt.Errorf("bridge: encoding transcript JSON: %w", err)
		}
		files = append(files, Artifact{
			Filename:    base + ".json",
			ContentType: "application/json",
			Data:        data,
		})
	}

	if len(files) == 1 {
		return files, nil
	}

	archive, err := renderZip(base+".zip", files)
	if err != nil {
		return nil, err
	}
	return []Artifact{archive}, nil
}

func renderTxt(entries []characterai.TranscriptEntry) []byte {
	var out bytes.Buffer
	for _, entry := range entries {
		out.WriteString(entry.Speaker)
		out.WriteString(": ")
		out.WriteString(entry.Text)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func renderJSON(entries []characterai.TranscriptEntry) ([]byte, error) {
	out := make([]transcriptEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, transcriptEntryJSON{
			Speaker:   entry.Speaker,
			Text:      entry.Text,
			Timestamp: entry.Timestamp,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

func renderZip(filename string, files []Artifact) (Artifact, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, file := range files {
		entry, err := writer.Create(file.Filename)
		if err != nil {
			return Artifact{}, fmt.Errorf("bridge: creating zip entry %s: %w", file.Filename, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return Artifact{}, fmt.Errorf("bridge: writing zip entry %s: %w", file.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return Artifact{}, fmt.Errorf("bridge: finalizing zip archive: %w", err)
	}
	return Artifact{
		Filename:    filename,
		ContentType: "application/zip",
		Data:        buf.Bytes(),
	}, nil
}

// exportBaseName builds "cai-<character>-<utc timestamp>" with the
// character name reduced to a filesystem-safe slug.
func exportBaseName(characterName string, now time.Time) string {
	slug := sanitizeFilename(characterName)
	if slug == "" {
		slug = "character"
	}
	return "cai-" + slug + "-" + now.UTC().Format("2006-01-02-150405")
}

func sanitizeFilename(name string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			out.WriteByte('-')
		}
	}
	return strings.Trim(out.String(), "-")
}
