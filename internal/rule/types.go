package rule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Outcome is what happens to a comment when a rule fires.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeSpam    Outcome = "spam"
	OutcomeTrash   Outcome = "trash"
)

// ValidOutcomes contains all valid rule outcomes
var ValidOutcomes = map[Outcome]bool{
	OutcomeApprove: true,
	OutcomeSpam:    true,
	OutcomeTrash:   true,
}

func (o Outcome) IsValid() bool {
	return ValidOutcomes[o]
}

// ParseOutcome accepts an outcome name in any case.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("invalid outcome %q, must be one of approve, spam, trash", s)
	}
	return o, nil
}

// normalizeOutcome lowercases a known outcome. Unknown values are kept as
// written so validation can report them.
func normalizeOutcome(o Outcome) Outcome {
	if parsed, err := ParseOutcome(string(o)); err == nil {
		return parsed
	}
	return o
}

// Rule defines a moderation rule
type Rule struct {
	ID         uint64    `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	Conditions *Group    `json:"conditions"` // nil when no tree is configured
	Outcome    Outcome   `json:"outcome"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ruleDocument is the file and storage form of a Rule. The condition tree
// stays raw so it goes through the strict decoder.
type ruleDocument struct {
	ID         uint64          `json:"id"`
	Name       string          `json:"name"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Conditions json.RawMessage `json:"conditions"`
	Outcome    Outcome         `json:"outcome"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// UnmarshalJSON decodes a rule document, running its condition tree
// through the default codec. Enabled defaults to true when omitted.
func (r *Rule) UnmarshalJSON(data []byte) error {
	return r.unmarshal(data, defaultCodec)
}

func (r *Rule) unmarshal(data []byte, codec *Codec) error {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	tree, err := codec.DecodeBytes(doc.Conditions)
	if err != nil {
		return err
	}

	*r = Rule{
		ID:         doc.ID,
		Name:       doc.Name,
		Enabled:    doc.Enabled == nil || *doc.Enabled,
		Conditions: tree,
		Outcome:    normalizeOutcome(doc.Outcome),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	return nil
}

// RuleValidationError represents a rule validation error
type RuleValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Comment carries the six attributes a condition can inspect.
type Comment struct {
	ID          string `json:"id,omitempty"`
	Content     string `json:"comment_content"`
	Author      string `json:"comment_author"`
	AuthorEmail string `json:"comment_author_email"`
	AuthorURL   string `json:"comment_author_url"`
	AuthorIP    string `json:"comment_author_ip"`
	Agent       string `json:"comment_agent"`
}

// Value returns the attribute named by f.
func (c *Comment) Value(f Field) string {
	switch f {
	case FieldContent:
		return c.Content
	case FieldAuthor:
		return c.Author
	case FieldAuthorEmail:
		return c.AuthorEmail
	case FieldAuthorURL:
		return c.AuthorURL
	case FieldAuthorIP:
		return c.AuthorIP
	case FieldAgent:
		return c.Agent
	}
	return ""
}

// Decision is the result of moderating one comment. Matched is false when
// no rule fired; Outcome and the rule fields are then empty.
type Decision struct {
	CommentID string        `json:"commentId,omitempty"`
	Matched   bool          `json:"matched"`
	RuleID    uint64        `json:"ruleId,omitempty"`
	RuleName  string        `json:"ruleName,omitempty"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}
