package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-automation/internal/rules"
)

func TestMatchesTriggerConfig(t *testing.T) {
	tests := []struct {
		name    string
		trigger TriggerType
		cfg     TriggerConfig
		tc      TriggerContext
		want    bool
	}{
		{"empty config matches", TriggerMessageReceived, TriggerConfig{}, TriggerContext{MessageText: "x"}, true},
		{"channel allow-list hit", TriggerMessageReceived, TriggerConfig{ChannelIDs: []string{"wa"}}, TriggerContext{ChannelID: "wa"}, true},
		{"channel allow-list miss", TriggerMessageReceived, TriggerConfig{ChannelIDs: []string{"wa"}}, TriggerContext{ChannelID: "ig"}, false},
		{"keyword miss", TriggerMessageReceived, TriggerConfig{Keywords: []string{"price"}}, TriggerContext{MessageText: "hello"}, false},
		{"keyword exact hit", TriggerMessageReceived, TriggerConfig{Keywords: []string{"price"}, MatchMode: rules.MatchExact}, TriggerContext{MessageText: "Price"}, true},
		{"conversation channel", TriggerConversationOpened, TriggerConfig{ChannelIDs: []string{"wa"}}, TriggerContext{ChannelID: "ig"}, false},
		{"tag hit", TriggerTagAdded, TriggerConfig{TagIDs: []string{"t1"}}, TriggerContext{TagID: "t1"}, true},
		{"tag miss", TriggerTagAdded, TriggerConfig{TagIDs: []string{"t1"}}, TriggerContext{TagID: "t2"}, false},
		{"tag removed miss", TriggerTagRemoved, TriggerConfig{TagIDs: []string{"t1"}}, TriggerContext{TagID: "t2"}, false},
		{"pipeline miss", TriggerDealCreated, TriggerConfig{PipelineIDs: []string{"p1"}}, TriggerContext{PipelineID: "p2"}, false},
		{"stage move hit", TriggerDealStageChanged, TriggerConfig{FromStageIDs: []string{"s1"}, ToStageIDs: []string{"s2"}}, TriggerContext{FromStageID: "s1", ToStageID: "s2"}, true},
		{"stage move wrong target", TriggerDealStageChanged, TriggerConfig{ToStageIDs: []string{"s2"}}, TriggerContext{ToStageID: "s3"}, false},
		{"contact created ignores lists", TriggerContactCreated, TriggerConfig{TagIDs: []string{"t1"}}, TriggerContext{}, true},
		{"scheduled always matches", TriggerScheduled, TriggerConfig{Keywords: []string{"x"}}, TriggerContext{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesTriggerConfig(tt.trigger, tt.cfg, tt.tc))
		})
	}
}

func TestParseTriggerConfig(t *testing.T) {
	cfg, err := ParseTriggerConfig("")
	require.NoError(t, err)
	assert.Equal(t, TriggerConfig{}, cfg)

	cfg, err = ParseTriggerConfig(`{"keywords":["oi"],"matchMode":"starts_with","channelIds":["wa"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"oi"}, cfg.Keywords)
	assert.Equal(t, rules.MatchStartsWith, cfg.MatchMode)

	_, err = ParseTriggerConfig(`{"matchMode":"regex"}`)
	assert.Error(t, err)

	_, err = ParseTriggerConfig(`[1,2]`)
	assert.Error(t, err)
}

func TestTriggerContextLookup(t *testing.T) {
	tc := TriggerContext{
		TenantID:    "tn",
		MessageText: "oi",
		TagID:       "t1",
		Data:        map[string]any{"contact": map[string]any{"name": "Ana"}, "tagId": "shadowed"},
	}

	v, ok := tc.Lookup("message")
	require.True(t, ok)
	assert.Equal(t, "oi", v)

	v, ok = tc.Lookup("contact.name")
	require.True(t, ok)
	assert.Equal(t, "Ana", v)

	v, _ = tc.Lookup("tagId")
	assert.Equal(t, "t1", v)

	_, ok = tc.Lookup("dealId")
	assert.False(t, ok)
}
