package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestMatchPainHighForSevereScore(t *testing.T) {
	m := NewMatcher(FirstChoice)
	got, ok := m.Match(Defaults(), Query{
		Category:    CategorySymptomResponse,
		SymptomType: "pain",
		Score:       intPtr(8),
		Keywords:    []string{"8分，很痛尤其晚上"},
		Context:     Context{Score: intPtr(8)},
	})
	require.True(t, ok)
	assert.Equal(t, "pain_high_001", got.Template.ID)
	assert.Contains(t, got.Text, "**8 分**")
	assert.InDelta(t, 4.0, got.Score, 0.001)
}

func TestMatchNeverReturnsOutOfRangeTemplate(t *testing.T) {
	m := NewMatcher(nil)
	for score := 0; score <= 10; score++ {
		for _, symptom := range []string{"pain", "dyspnea", "mood", "cough"} {
			got, ok := m.Match(Defaults(), Query{
				Category:    CategorySymptomResponse,
				SymptomType: symptom,
				Score:       intPtr(score),
			})
			if !ok {
				continue
			}
			rg := got.Template.Conditions.ScoreRange
			require.NotNil(t, rg)
			assert.True(t, rg.Contains(score), "%s score %d matched %s", symptom, score, got.Template.ID)
			assert.Equal(t, symptom, got.Template.Conditions.SymptomType)
		}
	}
}

func TestMatchMissForUncoveredBand(t *testing.T) {
	m := NewMatcher(FirstChoice)
	_, ok := m.Match(Defaults(), Query{Category: CategorySymptomResponse, SymptomType: "dyspnea", Score: intPtr(5)})
	assert.False(t, ok)

	_, ok = m.Match(Defaults(), Query{Category: CategorySymptomResponse, SymptomType: "cough", Score: intPtr(2)})
	assert.False(t, ok)
}

func TestMatchTieKeepsFirst(t *testing.T) {
	a := Template{ID: "a", Category: CategoryGreeting, Response: "A", Active: true, Approved: true,
		Conditions: Conditions{TimeOfDay: Morning}}
	b := a
	b.ID, b.Response = "b", "B"

	got, ok := NewMatcher(FirstChoice).Match([]Template{a, b}, Query{Category: CategoryGreeting, Context: Context{TimeOfDay: Morning}})
	require.True(t, ok)
	assert.Equal(t, "a", got.Template.ID)
}

func TestMatchSkipsInactiveAndUnapproved(t *testing.T) {
	base := Template{ID: "x", Category: CategorySymptomResponse, Response: "r",
		Conditions: Conditions{SymptomType: "pain"}}
	inactive := base
	inactive.Approved = true
	unapproved := base
	unapproved.Active = true

	_, ok := NewMatcher(FirstChoice).Match([]Template{inactive, unapproved}, Query{Category: CategorySymptomResponse, SymptomType: "pain"})
	assert.False(t, ok)
}

func TestMatchVariationChooserIsInjected(t *testing.T) {
	m := NewMatcher(func(n int) int {
		require.Equal(t, 2, n)
		return 1
	})
	got, ok := m.Match(Defaults(), Query{
		Category:    CategorySymptomResponse,
		SymptomType: "pain",
		Score:       intPtr(2),
		Context:     Context{Score: intPtr(2)},
	})
	require.True(t, ok)
	assert.Equal(t, "pain_low_001", got.Template.ID)
	assert.Contains(t, got.Text, "傷口疼痛控制得很好")
}

func TestMatchOutOfBoundsChooserFallsBackToMain(t *testing.T) {
	m := NewMatcher(func(int) int { return 99 })
	got, ok := m.Match(Defaults(), Query{Category: CategorySymptomResponse, SymptomType: "pain", Score: intPtr(1)})
	require.True(t, ok)
	assert.Contains(t, got.Text, "很好，您的傷口疼痛控制得不錯")
}

func TestMatchCompletionByHasSevere(t *testing.T) {
	m := NewMatcher(FirstChoice)
	got, ok := m.Match(Defaults(), Query{Category: CategoryCompletion, Context: Context{HasSevere: boolPtr(true)}})
	require.True(t, ok)
	assert.Equal(t, "complete_concern_001", got.Template.ID)

	got, ok = m.Match(Defaults(), Query{Category: CategoryCompletion, Context: Context{HasSevere: boolPtr(false)}})
	require.True(t, ok)
	assert.Equal(t, "complete_normal_001", got.Template.ID)

	_, ok = m.Match(Defaults(), Query{Category: CategoryCompletion})
	assert.False(t, ok)
}

func TestMatchLifestyleByTopicAndKeywords(t *testing.T) {
	text := "請問什麼時候可以洗澡？傷口會不會碰到水"
	got, ok := NewMatcher(FirstChoice).Match(Defaults(), Query{
		Category: CategoryLifestyleAdvice,
		Keywords: []string{text},
		Context:  Context{Topic: DetectTopic(text)},
	})
	require.True(t, ok)
	assert.Equal(t, "lifestyle_wound_001", got.Template.ID)
}

func TestScoreKeywordsCountEachTriggerOnce(t *testing.T) {
	tpl := Template{Category: CategorySymptomResponse, Active: true, Approved: true, Response: "r",
		TriggerKeywords: []string{"痛", "傷口"}}
	q := Query{Category: CategorySymptomResponse, Keywords: []string{"傷口痛", "很痛"}}
	assert.InDelta(t, 1.0, Score(tpl, q), 0.001)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	ctx := Context{PatientName: "王小明", PostOpDay: intPtr(3)}
	got := Render("{patient_name}您好，第{post_op_day}天，{unknown} {score}", ctx)
	assert.Equal(t, "王小明您好，第3天，{unknown} {score}", got)
	assert.True(t, HasPlaceholders(got))
	assert.False(t, HasPlaceholders(Render("{patient_name}您好", ctx)))
}

func TestTimeOfDayAt(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC) }
	assert.Equal(t, Morning, TimeOfDayAt(day(8)))
	assert.Equal(t, Afternoon, TimeOfDayAt(day(13)))
	assert.Equal(t, Evening, TimeOfDayAt(day(21)))
	assert.Equal(t, Evening, TimeOfDayAt(day(3)))
}

func TestValidate(t *testing.T) {
	good := Template{ID: "t", Category: CategoryGreeting, Response: "hi"}
	require.NoError(t, Validate(good))

	bad := []Template{
		{Category: CategoryGreeting, Response: "hi"},
		{ID: "t", Category: "weather", Response: "hi"},
		{ID: "t", Category: CategoryGreeting},
		{ID: "t", Category: CategoryGreeting, Response: "hi", Conditions: Conditions{ScoreRange: &ScoreRange{Min: 5, Max: 2}}},
		{ID: "t", Category: CategoryGreeting, Response: "hi", Conditions: Conditions{TimeOfDay: "noon"}},
	}
	for _, tpl := range bad {
		assert.ErrorIs(t, Validate(tpl), ErrInvalidTemplate)
	}
}
