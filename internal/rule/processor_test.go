package rule

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProcessor(t *testing.T, workers int) *Processor {
	t.Helper()

	p, err := NewProcessor(ProcessorConfig{Workers: workers}, testLogger(), testMetrics(t))
	require.NoError(t, err)
	return p
}

func moderationRules() []Rule {
	return []Rule{
		{
			ID:      7,
			Name:    "trusted regulars",
			Enabled: true,
			Outcome: OutcomeApprove,
			Conditions: MustGroup(MatchAll,
				when(OperatorEndsWith, "@example.org", FieldAuthorEmail)),
		},
		{
			ID:      3,
			Name:    "casino spam",
			Enabled: true,
			Outcome: OutcomeSpam,
			Conditions: MustGroup(MatchAny,
				when(OperatorContains, "casino", FieldContent, FieldAuthorURL),
				when(OperatorWildcard, "*crawler*", FieldAgent)),
		},
		{
			ID:      5,
			Name:    "private network",
			Enabled: true,
			Outcome: OutcomeTrash,
			Conditions: MustGroup(MatchAll,
				when(OperatorRegex, `^(10|192\.168)\.`, FieldAuthorIP)),
		},
		{
			ID:         8,
			Name:       "disabled catch-all",
			Enabled:    false,
			Outcome:    OutcomeTrash,
			Conditions: MustGroup(MatchAll),
		},
	}
}

func TestProcessorInitialization(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"Default workers", 0, 1},
		{"Multiple workers", 4, 4},
		{"Single worker", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setupTestProcessor(t, tt.workers)
			assert.Equal(t, tt.want, p.workers)
			assert.NotNil(t, p.index)
			assert.NotNil(t, p.evaluator)
		})
	}
}

func TestProcessorModerate(t *testing.T) {
	p := setupTestProcessor(t, 2)
	require.NoError(t, p.LoadRules(moderationRules()))
	assert.Len(t, p.Rules(), 3)

	tests := []struct {
		name    string
		comment *Comment
		matched bool
		ruleID  uint64
		outcome Outcome
	}{
		{
			name:    "first matching rule by id wins",
			comment: spamComment(),
			matched: true,
			ruleID:  3,
			outcome: OutcomeSpam,
		},
		{
			name:    "lower id takes precedence",
			comment: hamComment(),
			matched: true,
			ruleID:  5,
			outcome: OutcomeTrash,
		},
		{
			name:    "approve rule",
			comment: &Comment{AuthorEmail: "ada@example.org", AuthorIP: "203.0.113.9"},
			matched: true,
			ruleID:  7,
			outcome: OutcomeApprove,
		},
		{
			name:    "no match",
			comment: &Comment{Content: "hello", AuthorIP: "203.0.113.9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Moderate(tt.comment)
			assert.Equal(t, tt.matched, d.Matched)
			assert.Equal(t, tt.ruleID, d.RuleID)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.comment.ID, d.CommentID)
		})
	}

	stats := p.GetStats()
	assert.Equal(t, uint64(4), stats.Processed)
	assert.Equal(t, uint64(3), stats.Matched)
}

func TestProcessorLoadRulesSkipsInvalid(t *testing.T) {
	p := setupTestProcessor(t, 1)

	rules := moderationRules()
	rules = append(rules,
		Rule{ID: 1, Name: "", Enabled: true, Outcome: OutcomeSpam},
		Rule{ID: 2, Name: "bad regex", Enabled: true, Outcome: OutcomeSpam,
			Conditions: MustGroup(MatchAll, when(OperatorRegex, "(", FieldContent))},
	)

	err := p.LoadRules(rules)
	require.Error(t, err)

	var ve *RuleValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "bad regex")

	assert.Len(t, p.Rules(), 3)
	assert.Equal(t, uint64(2), p.GetStats().InvalidRules)
}

func TestProcessorReload(t *testing.T) {
	p := setupTestProcessor(t, 1)
	require.NoError(t, p.LoadRules(moderationRules()))
	assert.True(t, p.Moderate(spamComment()).Matched)

	require.NoError(t, p.LoadRules(nil))
	assert.Empty(t, p.Rules())
	assert.False(t, p.Moderate(spamComment()).Matched)
}

func TestProcessorNilConditionsNeverMatch(t *testing.T) {
	p := setupTestProcessor(t, 1)
	require.NoError(t, p.LoadRules([]Rule{{ID: 1, Name: "empty", Enabled: true, Outcome: OutcomeSpam}}))
	assert.Len(t, p.Rules(), 1)
	assert.False(t, p.Moderate(spamComment()).Matched)
}

func TestProcessorModerateBatch(t *testing.T) {
	p := setupTestProcessor(t, 3)
	require.NoError(t, p.LoadRules(moderationRules()))

	var comments []*Comment
	for i := 0; i < 20; i++ {
		c := hamComment()
		if i%2 == 0 {
			c = spamComment()
		}
		c.ID = fmt.Sprintf("c-%d", i)
		comments = append(comments, c)
	}

	decisions, err := p.ModerateBatch(context.Background(), comments)
	require.NoError(t, err)
	require.Len(t, decisions, len(comments))

	for i, d := range decisions {
		assert.Equal(t, comments[i].ID, d.CommentID)
		if i%2 == 0 {
			assert.Equal(t, OutcomeSpam, d.Outcome)
		} else {
			assert.Equal(t, OutcomeTrash, d.Outcome)
		}
	}
}

func TestProcessorModerateBatchCancelled(t *testing.T) {
	p := setupTestProcessor(t, 2)
	require.NoError(t, p.LoadRules(moderationRules()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decisions, err := p.ModerateBatch(ctx, []*Comment{spamComment(), hamComment()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, decisions)
	assert.Equal(t, uint64(1), p.GetStats().Errors)
}

func TestProcessorRecordError(t *testing.T) {
	p := setupTestProcessor(t, 1)
	p.RecordError()
	assert.Equal(t, uint64(1), p.GetStats().Errors)
}
