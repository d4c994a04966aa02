// SPDX-License-Identifier: MIT

package srt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/srt"
)

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		sec  float64
		want string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{59.999, "00:00:59,999"},
		{61.042, "00:01:01,042"},
		{3661.007, "01:01:01,007"},
		{-3, "00:00:00,000"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, srt.FormatTimestamp(tc.sec), "sec=%v", tc.sec)
	}
}

func TestTimestampRoundtrip(t *testing.T) {
	for _, sec := range []float64{0, 0.001, 1.5, 59.999, 3599.5, 7322.042} {
		s := srt.FormatTimestamp(sec)
		got, err := srt.ParseTimestamp(s)
		require.NoError(t, err)
		assert.InDelta(t, sec, got, 0.0005, "timestamp %s", s)
	}
}

func TestParseTimestampMalformed(t *testing.T) {
	for _, in := range []string{"", "1:2", "00:00:00.000", "aa:bb:cc,ddd"} {
		_, err := srt.ParseTimestamp(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestMarshalRoundtripByteStable(t *testing.T) {
	segs := []model.Segment{
		{Index: 0, StartSec: 0.5, EndSec: 2.25, Text: "hello world"},
		{Index: 3, StartSec: 3.0, EndSec: 4.875, Text: "second line" + srt.UncertainMarker},
		{Index: 7, StartSec: 10.042, EndSec: 12.0, Text: "third"},
	}

	first := srt.Marshal(segs)
	parsed, err := srt.Parse(first)
	require.NoError(t, err)
	second := srt.Marshal(parsed)
	assert.Equal(t, string(first), string(second), "serialize-parse-serialize must be byte stable")
}

func TestMarshalSequentialIndices(t *testing.T) {
	segs := []model.Segment{
		{Index: 5, StartSec: 0, EndSec: 1, Text: "a"},
		{Index: 9, StartSec: 1, EndSec: 2, Text: "b"},
	}
	out := string(srt.Marshal(segs))
	lines := strings.Split(out, "\n")
	assert.Equal(t, "1", lines[0], "block numbering restarts at 1 regardless of segment indices")
	assert.Contains(t, out, "\n2\n")
	assert.Contains(t, out, "00:00:00,000 --> 00:00:01,000")
}

func TestParseCRLFAndMultiline(t *testing.T) {
	doc := "1\r\n00:00:00,000 --> 00:00:01,000\r\nfirst line\r\nsecond line\r\n\r\n" +
		"2\r\n00:00:01,500 --> 00:00:02,000\r\nlast\r\n"
	segs, err := srt.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "first line\nsecond line", segs[0].Text)
	assert.Equal(t, 1.5, segs[1].StartSec)
}

func TestParseEmpty(t *testing.T) {
	segs, err := srt.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, segs)
}
