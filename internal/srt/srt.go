// SPDX-License-Identifier: MIT

// Package srt serializes and parses SubRip subtitle files. Output produced
// here survives a parse/serialize round trip byte-for-byte.
package srt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/scribedev/scribed/internal/model"
)

// UncertainMarker is appended to a segment's text when the circuit breaker
// fired with on_break=continue.
const UncertainMarker = " [?]"

// FormatTimestamp renders seconds as HH:MM:SS,mmm with a comma separator.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(math.Round(sec * 1000))
	h := total / 3600000
	m := total / 60000 % 60
	s := total / 1000 % 60
	ms := total % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ParseTimestamp reads an SRT timestamp back into seconds.
func ParseTimestamp(ts string) (float64, error) {
	parts := strings.SplitN(strings.TrimSpace(ts), ",", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("srt: malformed timestamp %q", ts)
	}
	hms := strings.Split(parts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("srt: malformed timestamp %q", ts)
	}
	h, err1 := strconv.Atoi(hms[0])
	m, err2 := strconv.Atoi(hms[1])
	s, err3 := strconv.Atoi(hms[2])
	ms, err4 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, fmt.Errorf("srt: malformed timestamp %q", ts)
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000, nil
}

// Marshal renders the segments as an SRT document. Block indices are
// one-based and sequential regardless of segment indices.
func Marshal(segments []model.Segment) []byte {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(seg.StartSec), FormatTimestamp(seg.EndSec))
		b.WriteString(strings.TrimRight(seg.Text, "\n"))
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// Parse reads an SRT document into segments. Readers are lenient about CRLF
// and surrounding blank lines; multi-line cues are joined with newlines.
func Parse(data []byte) ([]model.Segment, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(text), "\n\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	segments := make([]model.Segment, 0, len(blocks))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("srt: malformed block %q", block)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, fmt.Errorf("srt: malformed index line %q", lines[0])
		}
		arrow := strings.SplitN(lines[1], "-->", 2)
		if len(arrow) != 2 {
			return nil, fmt.Errorf("srt: malformed timing line %q", lines[1])
		}
		start, err := ParseTimestamp(arrow[0])
		if err != nil {
			return nil, err
		}
		end, err := ParseTimestamp(arrow[1])
		if err != nil {
			return nil, err
		}
		segments = append(segments, model.Segment{
			Index:    idx - 1,
			StartSec: start,
			EndSec:   end,
			Text:     strings.Join(lines[2:], "\n"),
		})
	}
	return segments, nil
}
