package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/teamdesk/config"
)

func TestFormatFlag(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFormat = config.OutputFormatYAML

	assert.Equal(t, config.OutputFormatYAML, formatFlag(cfg, ""))
	assert.Equal(t, config.OutputFormatJSON, formatFlag(cfg, "json"))
}

func TestWriteOutput(t *testing.T) {
	v := map[string]int{"notes": 2}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "two notes\n")
		return err
	}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, config.OutputFormatText, v, text))
	assert.Equal(t, "two notes\n", buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, config.OutputFormatJSON, v, text))
	var fromJSON map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, v, fromJSON)

	buf.Reset()
	require.NoError(t, writeOutput(&buf, config.OutputFormatYAML, v, text))
	var fromYAML map[string]int
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, v, fromYAML)
}

func TestParseWhen(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-03-04T10:00:00Z", want: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
		{in: "2024-03-04 10:30", want: time.Date(2024, 3, 4, 10, 30, 0, 0, time.Local)},
		{in: "2024-03-04", want: time.Date(2024, 3, 4, 0, 0, 0, 0, time.Local)},
		{in: "04/03/2024", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWhen(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "parseWhen(%q) = %v, want %v", tt.in, got, tt.want)
		})
	}
}

func TestOptTime(t *testing.T) {
	got, err := optTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = optTime("2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Day())
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
	assert.Equal(t, "-", formatTime(&time.Time{}))
	ts := time.Date(2024, 3, 4, 10, 30, 0, 0, time.Local)
	assert.Equal(t, "2024-03-04 10:30", formatTime(&ts))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "perché ...", truncate("perché non funziona", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}

func TestCaretFor(t *testing.T) {
	assert.Equal(t, 6, caretFor("ciao è", -1))
	assert.Equal(t, 2, caretFor("ciao è", 2))
}
