// messages_test.go

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageCarriesPayload(t *testing.T) {
	msg, err := NewMessage(MsgSubmitAnswer, &SubmitAnswerRequest{
		SessionID:     "s1",
		RoundIndex:    2,
		SelectedIndex: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, MsgSubmitAnswer, msg.Type)

	var req SubmitAnswerRequest
	require.NoError(t, json.Unmarshal(msg.Payload, &req))
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, 2, req.RoundIndex)
	assert.Equal(t, 1, req.SelectedIndex)
}

func TestNewMessageNilPayload(t *testing.T) {
	msg, err := NewMessage(MsgCancelMatch, nil)
	require.NoError(t, err)
	assert.Equal(t, MsgCancelMatch, msg.Type)
	assert.Empty(t, msg.Payload)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(CodeInvalidAnswer, "out of range")
	assert.Equal(t, MsgError, msg.Type)

	var ev ErrorEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, CodeInvalidAnswer, ev.Code)
	assert.Equal(t, "out of range", ev.Message)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"enqueue_match"}`)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MsgEnqueueMatch, msg.Type)
	assert.Empty(t, msg.Payload)
}
