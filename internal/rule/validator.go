package rule

import (
	"fmt"
	"strings"
)

// Validator checks rules before they are stored or indexed.
type Validator struct {
	maxDepth         int
	maxPatternLength int
}

// NewValidator creates a validator. Non-positive limits select the defaults.
func NewValidator(maxDepth, maxPatternLength int) *Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxPatternLength <= 0 {
		maxPatternLength = DefaultMaxPatternLength
	}
	return &Validator{maxDepth: maxDepth, maxPatternLength: maxPatternLength}
}

var defaultValidator = NewValidator(0, 0)

// ValidateRule validates rule with the default limits.
func ValidateRule(rule *Rule) error {
	return defaultValidator.Validate(rule)
}

// Validate performs comprehensive validation of a rule
func (v *Validator) Validate(rule *Rule) error {
	if rule == nil {
		return &RuleValidationError{
			Field:   "rule",
			Message: "rule cannot be nil",
		}
	}

	if strings.TrimSpace(rule.Name) == "" {
		return &RuleValidationError{
			Field:   "name",
			Message: "name cannot be empty",
		}
	}

	if !rule.Outcome.IsValid() {
		return &RuleValidationError{
			Field:   "outcome",
			Message: fmt.Sprintf("invalid outcome %q, must be one of approve, spam, trash", rule.Outcome),
		}
	}

	if rule.Conditions != nil {
		if err := v.validateConditions(rule.Conditions); err != nil {
			return err
		}
	}

	return nil
}

// validateConditions walks the tree and reports the first bad node with an
// indexed field path such as conditions.children[0].value.
func (v *Validator) validateConditions(root *Group) error {
	return Walk(root, func(n Node, depth int, path string) error {
		field := "conditions"
		if path != "" {
			field += "." + path
		}

		switch node := n.(type) {
		case *Group:
			if depth > v.maxDepth {
				return &RuleValidationError{
					Field:   field,
					Message: fmt.Sprintf("condition tree exceeds maximum depth of %d", v.maxDepth),
				}
			}
		case *Condition:
			return v.validateCondition(node, field)
		}
		return nil
	})
}

func (v *Validator) validateCondition(cond *Condition, field string) error {
	if !cond.operator.IsValid() {
		return &RuleValidationError{
			Field:   field + ".operator",
			Message: fmt.Sprintf("invalid operator: %s", cond.operator),
		}
	}

	if cond.value == "" {
		return &RuleValidationError{
			Field:   field + ".value",
			Message: "value is required",
		}
	}

	if len(cond.SelectedFields()) == 0 {
		return &RuleValidationError{
			Field:   field,
			Message: "at least one comment field is required",
		}
	}

	if cond.operator != OperatorRegex && cond.operator != OperatorWildcard {
		return nil
	}

	if len(cond.value) > v.maxPatternLength {
		return &RuleValidationError{
			Field:   field + ".value",
			Message: fmt.Sprintf("pattern too long (max %d chars): %d chars", v.maxPatternLength, len(cond.value)),
		}
	}

	if _, err := compilePattern(cond.operator, cond.value); err != nil {
		return &RuleValidationError{
			Field:   field + ".value",
			Message: err.Error(),
		}
	}

	return nil
}
