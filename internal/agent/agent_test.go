package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_BasePriority(t *testing.T) {
	tests := []struct {
		id       ID
		priority int
		name     string
	}{
		{CrashPredictor, 100, "crash_predictor"},
		{StateInference, 80, "state_inference"},
		{TransformerScheduler, 60, "transformer_scheduler"},
		{FineTuner, 40, "fine_tuner"},
		{Metrics, 20, "metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.priority, tt.id.BasePriority())
			assert.Equal(t, tt.name, tt.id.String())

			parsed, err := ParseID(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestID_Unknown(t *testing.T) {
	assert.False(t, ID(0).Valid())
	assert.Equal(t, 0, ID(42).BasePriority())

	_, err := ParseID("oracle")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRecommendation_EffectivePriority(t *testing.T) {
	rec := Recommendation{Agent: TransformerScheduler, Confidence: 500}
	assert.InDelta(t, 30.0, rec.EffectivePriority(), 1e-9)

	rec = Recommendation{Agent: CrashPredictor, Confidence: 1000}
	assert.InDelta(t, 100.0, rec.EffectivePriority(), 1e-9)
}

func TestRecommendation_Validate(t *testing.T) {
	assert.NoError(t, Recommendation{Agent: Metrics, Confidence: 0}.Validate())
	assert.NoError(t, Recommendation{Agent: Metrics, Confidence: 1000}.Validate())
	assert.ErrorIs(t, Recommendation{Agent: Metrics, Confidence: 1001}.Validate(), ErrInvalidConfidence)
	assert.ErrorIs(t, Recommendation{Agent: Metrics, Confidence: -1}.Validate(), ErrInvalidConfidence)
	assert.ErrorIs(t, Recommendation{Agent: 9, Confidence: 10}.Validate(), ErrUnknownAgent)
}

func TestAction_Effects(t *testing.T) {
	up := Scale(130).Effects()
	require.Len(t, up, 1)
	assert.Equal(t, +1, up[0].Direction)

	down := Scale(70).Effects()
	require.Len(t, down, 1)
	assert.Equal(t, -1, down[0].Direction)

	assert.Empty(t, Of(NoAction).Effects())
	assert.True(t, Of(Halt).Effects()[0].Exclusive)
}

func TestAction_Risk(t *testing.T) {
	assert.Equal(t, 0, Of(NoAction).Risk())
	assert.Equal(t, 15, Scale(100).Risk())
	assert.Equal(t, 30, Scale(130).Risk())
	assert.Equal(t, 100, Scale(1000).Risk())
}

func TestAction_Equal(t *testing.T) {
	assert.True(t, Scale(120).Equal(Scale(120)))
	assert.False(t, Scale(120).Equal(Scale(110)))
	assert.True(t, Action{Kind: Stop, Param: 3}.Equal(Of(Stop)))
	assert.False(t, Of(Stop).Equal(Of(Halt)))
}

func TestAction_JSON(t *testing.T) {
	data, err := json.Marshal(Scale(120))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"scale_scheduling_weight","param":120}`, string(data))

	var a Action
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"halt"}`), &a))
	assert.Equal(t, Of(Halt), a)

	require.Error(t, json.Unmarshal([]byte(`{"kind":"reboot"}`), &a))
}

func TestRecommendation_JSONAgentByName(t *testing.T) {
	data, err := json.Marshal(Recommendation{Agent: FineTuner, Action: Of(TriggerRetraining), Confidence: 800})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"agent":"fine_tuner"`)

	var rec Recommendation
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, FineTuner, rec.Agent)
	assert.Equal(t, TriggerRetraining, rec.Action.Kind)
}
