package actions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTypedActions(t *testing.T) {
	tests := []struct {
		raw  string
		want Action
	}{
		{`{"type":"send_message","text":"hi {{name}}"}`, SendMessage{Text: "hi {{name}}"}},
		{`{"type":"add_tag","tagId":"t1"}`, AddTag{TagID: "t1"}},
		{`{"type":"remove_tag","tagId":"t1"}`, RemoveTag{TagID: "t1"}},
		{`{"type":"assign_user","userId":"u1"}`, AssignUser{UserID: "u1"}},
		{`{"type":"move_deal_stage","stageId":"s2"}`, MoveDealStage{StageID: "s2"}},
		{`{"type":"create_notification","title":"New lead"}`, CreateNotification{Title: "New lead"}},
		{`{"type":"call_webhook","url":"https://example.com/hook"}`, CallWebhook{URL: "https://example.com/hook"}},
		{`{"type":"webhook","url":"https://example.com/hook"}`, CallWebhook{URL: "https://example.com/hook"}},
		{`{"type":"wait","duration":2,"unit":"minutes"}`, SynchronousDelay{Duration: 2, Unit: "minutes"}},
		{`{"type":"set_variable","name":"plan","value":"pro"}`, SetVariable{Name: "plan", Value: "pro"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Decode(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejectsUnknownAndInvalid(t *testing.T) {
	_, err := Decode(json.RawMessage(`{"type":"launch_rocket"}`))
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = Decode(json.RawMessage(`{"type":"add_tag"}`))
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = Decode(json.RawMessage(`{"type":"call_webhook","url":"ftp://x"}`))
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = Decode(json.RawMessage(`{"type":"wait","duration":1,"unit":"fortnights"}`))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestDecodeListKeepsFailuresLocal(t *testing.T) {
	list, err := DecodeList(`[{"type":"add_tag","tagId":"t1"},{"type":"bogus"},{"type":"assign_user","userId":"u"}]`)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.NoError(t, list[0].Err)
	assert.Equal(t, "bogus", list[1].Type)
	assert.ErrorIs(t, list[1].Err, ErrUnknownAction)
	assert.NoError(t, list[2].Err)

	_, err = DecodeList(`{"not":"a list"}`)
	assert.Error(t, err)
}

func TestUnitDuration(t *testing.T) {
	tests := []struct {
		amount float64
		unit   string
		want   time.Duration
	}{
		{30, "", 30 * time.Second},
		{30, "seconds", 30 * time.Second},
		{2, "minutes", 2 * time.Minute},
		{1.5, "hours", 90 * time.Minute},
		{1, "days", 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := UnitDuration(tt.amount, tt.unit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
