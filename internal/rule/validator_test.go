package rule

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRule(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		rule     *Rule
		wantErr  bool
		errField string
	}{
		{
			name: "Valid complete rule",
			rule: &Rule{
				Name:      "casino spam",
				Enabled:   true,
				Outcome:   OutcomeSpam,
				CreatedAt: now,
				Conditions: MustGroup(MatchAny,
					when(OperatorContains, "casino", FieldContent),
					when(OperatorRegex, `^10\.`, FieldAuthorIP)),
			},
		},
		{
			name: "Valid rule without conditions",
			rule: &Rule{Name: "empty", Outcome: OutcomeApprove},
		},
		{
			name:     "Nil rule",
			rule:     nil,
			wantErr:  true,
			errField: "rule",
		},
		{
			name:     "Empty name",
			rule:     &Rule{Name: "  ", Outcome: OutcomeTrash},
			wantErr:  true,
			errField: "name",
		},
		{
			name:     "Unknown outcome",
			rule:     &Rule{Name: "x", Outcome: Outcome("delete")},
			wantErr:  true,
			errField: "outcome",
		},
		{
			name: "Invalid regex",
			rule: &Rule{
				Name:    "bad regex",
				Outcome: OutcomeSpam,
				Conditions: MustGroup(MatchAll,
					when(OperatorContains, "ok", FieldContent),
					MustGroup(MatchAny, when(OperatorRegex, "([a-z", FieldAuthor))),
			},
			wantErr:  true,
			errField: "conditions.children[1].children[0].value",
		},
		{
			name: "Pattern too long",
			rule: &Rule{
				Name:       "long wildcard",
				Outcome:    OutcomeSpam,
				Conditions: MustGroup(MatchAll, when(OperatorWildcard, strings.Repeat("a", DefaultMaxPatternLength+1), FieldContent)),
			},
			wantErr:  true,
			errField: "conditions.children[0].value",
		},
		{
			name: "Empty value",
			rule: &Rule{
				Name:       "match everything",
				Outcome:    OutcomeTrash,
				Conditions: MustGroup(MatchAll, when(OperatorContains, "", FieldContent)),
			},
			wantErr:  true,
			errField: "conditions.children[0].value",
		},
		{
			name: "Empty value under negated operator",
			rule: &Rule{
				Name:       "not empty",
				Outcome:    OutcomeSpam,
				Conditions: MustGroup(MatchAny, MustGroup(MatchAll, when(OperatorNotEquals, "", FieldAuthor))),
			},
			wantErr:  true,
			errField: "conditions.children[0].children[0].value",
		},
		{
			name: "No comment fields selected",
			rule: &Rule{
				Name:       "never fires",
				Outcome:    OutcomeSpam,
				Conditions: MustGroup(MatchAny, when(OperatorContains, "viagra")),
			},
			wantErr:  true,
			errField: "conditions.children[0]",
		},
		{
			name: "Long literal is fine",
			rule: &Rule{
				Name:       "long contains",
				Outcome:    OutcomeSpam,
				Conditions: MustGroup(MatchAll, when(OperatorContains, strings.Repeat("a", DefaultMaxPatternLength+1), FieldContent)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var ve *RuleValidationError
			require.True(t, errors.As(err, &ve), "expected RuleValidationError, got %v", err)
			assert.Equal(t, tt.errField, ve.Field)
		})
	}
}

func TestValidatorDepthLimit(t *testing.T) {
	v := NewValidator(2, 0)
	rule := &Rule{
		Name:       "deep",
		Outcome:    OutcomeSpam,
		Conditions: MustGroup(MatchAll, MustGroup(MatchAny, MustGroup(MatchAll))),
	}

	err := v.Validate(rule)
	var ve *RuleValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "conditions.children[0].children[0]", ve.Field)
	assert.Contains(t, ve.Message, "maximum depth of 2")

	assert.NoError(t, NewValidator(3, 0).Validate(rule))
}

func TestRuleValidationErrorMessage(t *testing.T) {
	err := &RuleValidationError{Field: "name", Message: "name cannot be empty"}
	assert.Equal(t, "name: name cannot be empty", err.Error())
}
