package odata

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a logger writing JSON records into buf.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// errorLines returns the logged records at ERROR level.
func errorLines(buf *bytes.Buffer) []string {
	var out []string

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"level":"ERROR"`) {
			out = append(out, line)
		}
	}

	return out
}

func TestParser_ResultsAndNextPage(t *testing.T) {
	body := `{"d":{"results":[{"ID":1,"Name":"A"},{"ID":2,"Name":"B"}],` +
		`"__next":"https://x/next","__metadata":{"uri":"https://x/Accounts"}}}`

	p := NewParser([]byte(body), slog.Default())

	results, ok := p.Results()
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, json.Number("1"), results[0]["ID"])
	assert.Equal(t, "A", results[0]["Name"])

	next, ok := p.NextPageURL()
	require.True(t, ok)
	assert.Equal(t, "https://x/next", next)

	meta, ok := p.Metadata()
	require.True(t, ok)
	assert.Equal(t, "https://x/Accounts", meta["uri"])

	first, ok := p.FirstResult()
	require.True(t, ok)
	assert.Equal(t, "A", first["Name"])
}

func TestParser_NoDataKey(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"error":{"message":{"value":"boom"}}}`,
		`{"value":[{"ID":1}]}`,
		`{"D":{"results":[]}}`,
		`[1,2,3]`,
		`"just a string"`,
		`null`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			p := NewParser([]byte(body), slog.Default())

			_, ok := p.Result()
			assert.False(t, ok)

			results, ok := p.Results()
			assert.False(t, ok)
			assert.Nil(t, results)

			_, ok = p.Metadata()
			assert.False(t, ok)

			_, ok = p.NextPageURL()
			assert.False(t, ok)

			_, ok = p.FirstResult()
			assert.False(t, ok)
		})
	}
}

func TestParser_MalformedJSONLogsOnce(t *testing.T) {
	bodies := []string{
		`{not json}`,
		`<html>502 Bad Gateway</html>`,
		`{"d":{"results":[`,
		`Invalid Request`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			var buf bytes.Buffer

			p := NewParser([]byte(body), captureLogger(&buf))

			_, ok := p.Results()
			assert.False(t, ok)
			_, ok = p.Metadata()
			assert.False(t, ok)
			_, ok = p.NextPageURL()
			assert.False(t, ok)
			msg, ok := p.ErrorMessage()
			assert.False(t, ok)
			assert.Empty(t, msg)

			lines := errorLines(&buf)
			require.Len(t, lines, 1)
			assert.Contains(t, lines[0], "failed to parse response body")
		})
	}
}

func TestParser_EmptyBodyIsQuiet(t *testing.T) {
	var buf bytes.Buffer

	p := NewParser([]byte("  \n"), captureLogger(&buf))

	_, ok := p.Results()
	assert.False(t, ok)
	assert.Empty(t, errorLines(&buf))
}

func TestParser_ErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"present", `{"error":{"code":"","message":{"lang":"","value":"Not found"}}}`, "Not found", true},
		{"no error key", `{"d":{"results":[]}}`, "", false},
		{"error without message", `{"error":{"code":"x"}}`, "", false},
		{"message not object", `{"error":{"message":"flat"}}`, "", false},
		{"value not string", `{"error":{"message":{"value":42}}}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser([]byte(tt.body), slog.Default())

			msg, ok := p.ErrorMessage()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, msg)

			// Cached value is stable.
			msg2, ok2 := p.ErrorMessage()
			assert.Equal(t, msg, msg2)
			assert.Equal(t, ok, ok2)
		})
	}
}

func TestParser_ResultsPresenceRules(t *testing.T) {
	t.Run("null results", func(t *testing.T) {
		p := NewParser([]byte(`{"d":{"results":null}}`), slog.Default())
		_, ok := p.Results()
		assert.False(t, ok)
	})

	t.Run("empty results", func(t *testing.T) {
		p := NewParser([]byte(`{"d":{"results":[]}}`), slog.Default())
		results, ok := p.Results()
		assert.True(t, ok)
		assert.Empty(t, results)

		_, ok = p.FirstResult()
		assert.False(t, ok)
	})

	t.Run("single entity without results", func(t *testing.T) {
		p := NewParser([]byte(`{"d":{"ID":"abc","Name":"Created"}}`), slog.Default())

		d, ok := p.Result()
		require.True(t, ok)
		assert.Equal(t, "abc", d["ID"])

		_, ok = p.Results()
		assert.False(t, ok)
	})

	t.Run("non-object elements skipped", func(t *testing.T) {
		p := NewParser([]byte(`{"d":{"results":[1,{"ID":2},"x"]}}`), slog.Default())
		results, ok := p.Results()
		require.True(t, ok)
		require.Len(t, results, 1)
		assert.Equal(t, json.Number("2"), results[0]["ID"])
	})

	t.Run("next without results", func(t *testing.T) {
		p := NewParser([]byte(`{"d":{"__next":"https://x/2"}}`), slog.Default())
		next, ok := p.NextPageURL()
		assert.True(t, ok)
		assert.Equal(t, "https://x/2", next)
	})
}

func TestParser_NilLogger(t *testing.T) {
	p := NewParser([]byte(`{broken`), nil)
	_, ok := p.Result()
	assert.False(t, ok)
}
