package stream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/whetstone-ai/whetstone/types"
)

func TestEscapeData_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "the unexamined life"},
		{"embedded newline", "first line\nsecond line"},
		{"trailing newline", "paragraph\n"},
		{"literal backslash-n", `already escaped \n sequence`},
		{"backslashes", `C:\path\to\wisdom`},
		{"empty", ""},
		{"only newlines", "\n\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := EscapeData(tt.input)
			assert.NotContains(t, escaped, "\n", "escaped data must be line-safe")
			assert.Equal(t, tt.input, UnescapeData(escaped))
		})
	}
}

// Tokens must survive framing byte for byte, so that concatenating all
// token events of a stream equals the persisted turn text exactly.
func TestEscapeData_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.String().Draw(t, "input")
		escaped := EscapeData(input)
		if strings.Contains(escaped, "\n") {
			t.Fatalf("escaped payload contains raw newline: %q", escaped)
		}
		if got := UnescapeData(escaped); got != input {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", input, escaped, got)
		}
	})
}

func TestSSEWriter_ReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewSSEWriter(&buf)

	events := []Event{
		Token("Justice is\n", "Socratic Inquirer"),
		Token("the advantage of the stronger.", "Socratic Inquirer"),
		Complete("Socratic Inquirer", &types.DebateTurn{
			Slot:    types.SlotA,
			Speaker: "Socratic Inquirer",
			Index:   1,
		}),
		Done(),
	}
	for _, ev := range events {
		require.NoError(t, w.WriteEvent(ev))
	}

	r := NewSSEReader(&buf)
	var decoded []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		decoded = append(decoded, ev)
	}

	require.Len(t, decoded, 4)
	assert.Equal(t, EventToken, decoded[0].Type)
	assert.Equal(t, "Justice is\n", decoded[0].Data)
	assert.Equal(t, "Socratic Inquirer", decoded[0].Speaker)
	assert.Equal(t, EventToken, decoded[1].Type)
	assert.Equal(t, EventComplete, decoded[2].Type)
	assert.Equal(t, "Socratic Inquirer", decoded[2].Data)
	assert.Equal(t, EventDone, decoded[3].Type)
	assert.Equal(t, DoneData, decoded[3].Data)
}

func TestSSEWriter_ChatComplete(t *testing.T) {
	var buf bytes.Buffer
	w := NewSSEWriter(&buf)

	turn := types.NewAssistantTurn("the unexamined life")
	require.NoError(t, w.WriteEvent(CompleteChat("Socrates", &turn)))

	r := NewSSEReader(&buf)
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, "Socrates", ev.Speaker)
	assert.Equal(t, "Socrates", ev.Data, "chat complete frames carry the speaker")
}

func TestSSEWriter_ErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewSSEWriter(&buf)

	err := types.NewError(types.ErrConnectionRefused, "backend unreachable")
	require.NoError(t, w.WriteEvent(ErrorEvent(err)))

	r := NewSSEReader(&buf)
	ev, readErr := r.Next()
	require.NoError(t, readErr)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "backend unreachable", ev.Data)
}

func TestCollect(t *testing.T) {
	ch := make(chan Event, 4)
	ch <- Token("to be", "")
	ch <- Token(" is to do", "")
	ch <- Done()
	close(ch)

	text, terminal := Collect(ch)
	assert.Equal(t, "to be is to do", text)
	assert.Equal(t, EventDone, terminal.Type)
	assert.Nil(t, CollectError(terminal))
}

func TestCollect_Error(t *testing.T) {
	ch := make(chan Event, 2)
	ch <- ErrorEvent(types.NewError(types.ErrInferenceTimeout, "deadline exceeded"))
	close(ch)

	text, terminal := Collect(ch)
	assert.Empty(t, text)
	require.Equal(t, EventError, terminal.Type)

	structured := CollectError(terminal)
	require.NotNil(t, structured)
	assert.Equal(t, types.ErrInferenceTimeout, structured.Code)
}
