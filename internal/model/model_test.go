package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_IsStreamTarget(t *testing.T) {
	cases := []struct {
		name   string
		msg    Message
		expect bool
	}{
		{"streaming assistant", Message{Role: RoleAssistant, Status: StatusStreaming}, true},
		{"completed assistant", Message{Role: RoleAssistant, Status: StatusCompleted}, false},
		{"streaming user", Message{Role: RoleUser, Status: StatusStreaming}, false},
		{"errored assistant", Message{Role: RoleAssistant, Status: StatusError}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.msg.IsStreamTarget())
		})
	}
}

func TestCitation_Relevance(t *testing.T) {
	score := 0.73
	scored := Citation{RelevanceScore: &score}
	unscored := Citation{}
	assert.Equal(t, 0.73, scored.Relevance())
	assert.Equal(t, 0.0, unscored.Relevance(), "missing score counts as zero")
}

func TestFrame_RawDataSurvivesBadPayload(t *testing.T) {
	// The envelope must decode even when the payload does not match the
	// frame type's expected shape.
	raw := []byte(`{"type":"message_delta","session_id":"s1","data":{"unexpected":[1,2,3]}}`)
	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, FrameMessageDelta, frame.Type)
	assert.Equal(t, "s1", frame.SessionID)
	assert.NotEmpty(t, frame.Data)
}

func TestNewFrame(t *testing.T) {
	frame, err := NewFrame(FrameMessageDelta, DeltaPayload{Content: "chunk"})
	require.NoError(t, err)
	assert.Equal(t, FrameMessageDelta, frame.Type)
	assert.False(t, frame.Timestamp.IsZero())

	var payload DeltaPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "chunk", payload.Content)

	t.Run("nil payload leaves data empty", func(t *testing.T) {
		frame, err := NewFrame(FramePing, nil)
		require.NoError(t, err)
		assert.Nil(t, frame.Data)
	})
}
