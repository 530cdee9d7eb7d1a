package rule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input   string
		want    Outcome
		wantErr bool
	}{
		{"approve", OutcomeApprove, false},
		{"SPAM", OutcomeSpam, false},
		{" trash ", OutcomeTrash, false},
		{"delete", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOutcome(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	original := Rule{
		ID:         4,
		Name:       "casino spam",
		Enabled:    false,
		Conditions: endsWithGroup(),
		Outcome:    OutcomeSpam,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Hour),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"conditions":`+endsWithSomething)

	var decoded Rule
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Name, decoded.Name)
	assert.False(t, decoded.Enabled)
	assert.Equal(t, original.Outcome, decoded.Outcome)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, original.Conditions.Equal(decoded.Conditions))
}

func TestRuleUnmarshalDefaults(t *testing.T) {
	var r Rule
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","outcome":"trash"}`), &r))
	assert.True(t, r.Enabled)
	assert.Nil(t, r.Conditions)

	err := json.Unmarshal([]byte(`{"name":"x","conditions":{"type":"group"}}`), &r)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestRuleUnmarshalOutcome(t *testing.T) {
	tests := []struct {
		input string
		want  Outcome
	}{
		{`"Spam"`, OutcomeSpam},
		{`" TRASH "`, OutcomeTrash},
		{`"approve"`, OutcomeApprove},
		{`"delete"`, Outcome("delete")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var r Rule
			require.NoError(t, json.Unmarshal([]byte(`{"name":"x","outcome":`+tt.input+`}`), &r))
			assert.Equal(t, tt.want, r.Outcome)
		})
	}

	var r Rule
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","outcome":"delete"}`), &r))
	var ve *RuleValidationError
	require.ErrorAs(t, ValidateRule(&r), &ve)
	assert.Equal(t, "outcome", ve.Field)
}

func TestCommentValue(t *testing.T) {
	c := spamComment()
	assert.Equal(t, c.Content, c.Value(FieldContent))
	assert.Equal(t, c.Author, c.Value(FieldAuthor))
	assert.Equal(t, c.AuthorEmail, c.Value(FieldAuthorEmail))
	assert.Equal(t, c.AuthorURL, c.Value(FieldAuthorURL))
	assert.Equal(t, c.AuthorIP, c.Value(FieldAuthorIP))
	assert.Equal(t, c.Agent, c.Value(FieldAgent))
	assert.Equal(t, "", c.Value(Field("comment_date")))
}

func TestCommentJSONKeys(t *testing.T) {
	var c Comment
	require.NoError(t, json.Unmarshal([]byte(`{"id":"9","comment_content":"hi","comment_author_ip":"::1"}`), &c))
	assert.Equal(t, "9", c.ID)
	assert.Equal(t, "hi", c.Content)
	assert.Equal(t, "::1", c.AuthorIP)
}
