package rule

import (
	"fmt"
	"strings"
)

// Operator is the comparison a Condition applies to a comment attribute.
type Operator string

const (
	OperatorContains   Operator = "contains"
	OperatorNotContain Operator = "not_contain"
	OperatorEquals     Operator = "equals"
	OperatorNotEquals  Operator = "not_equals"
	OperatorStartsWith Operator = "starts_with"
	OperatorEndsWith   Operator = "ends_with"
	OperatorRegex      Operator = "regex"
	OperatorWildcard   Operator = "wildcard"
)

// Operators lists every valid operator in display order.
var Operators = []Operator{
	OperatorContains,
	OperatorNotContain,
	OperatorEquals,
	OperatorNotEquals,
	OperatorStartsWith,
	OperatorEndsWith,
	OperatorRegex,
	OperatorWildcard,
}

// ValidOperators contains all valid comparison operators
var ValidOperators = map[Operator]bool{
	OperatorContains:   true,
	OperatorNotContain: true,
	OperatorEquals:     true,
	OperatorNotEquals:  true,
	OperatorStartsWith: true,
	OperatorEndsWith:   true,
	OperatorRegex:      true,
	OperatorWildcard:   true,
}

// IsValid reports whether o is one of the fixed operators.
func (o Operator) IsValid() bool {
	return ValidOperators[o]
}

// negated operators match when the value is absent from the attribute.
func (o Operator) negated() bool {
	return o == OperatorNotContain || o == OperatorNotEquals
}

// ParseOperator validates s against the fixed operator set.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.IsValid() {
		return "", fmt.Errorf("%w: %q, valid operators: %s", ErrInvalidOperator, s, operatorList())
	}
	return op, nil
}

func operatorList() string {
	names := make([]string, len(Operators))
	for i, op := range Operators {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

// Field names a comment attribute a Condition can apply to. The string
// values double as the wire keys of the applies-to flags.
type Field string

const (
	FieldContent     Field = "comment_content"
	FieldAuthor      Field = "comment_author"
	FieldAuthorEmail Field = "comment_author_email"
	FieldAuthorURL   Field = "comment_author_url"
	FieldAuthorIP    Field = "comment_author_ip"
	FieldAgent       Field = "comment_agent"
)

// Fields lists the six attributes in canonical wire order.
var Fields = []Field{
	FieldContent,
	FieldAuthor,
	FieldAuthorEmail,
	FieldAuthorURL,
	FieldAuthorIP,
	FieldAgent,
}

// Targets holds the six applies-to flags. Every flag is always present.
type Targets struct {
	Content     bool
	Author      bool
	AuthorEmail bool
	AuthorURL   bool
	AuthorIP    bool
	Agent       bool
}

// Get returns the flag for f.
func (t Targets) Get(f Field) bool {
	switch f {
	case FieldContent:
		return t.Content
	case FieldAuthor:
		return t.Author
	case FieldAuthorEmail:
		return t.AuthorEmail
	case FieldAuthorURL:
		return t.AuthorURL
	case FieldAuthorIP:
		return t.AuthorIP
	case FieldAgent:
		return t.Agent
	}
	return false
}

func (t *Targets) set(f Field, v bool) {
	switch f {
	case FieldContent:
		t.Content = v
	case FieldAuthor:
		t.Author = v
	case FieldAuthorEmail:
		t.AuthorEmail = v
	case FieldAuthorURL:
		t.AuthorURL = v
	case FieldAuthorIP:
		t.AuthorIP = v
	case FieldAgent:
		t.Agent = v
	}
}

// Condition is a leaf of the condition tree: an operator and a literal
// compared against each selected comment attribute.
type Condition struct {
	operator Operator
	value    string
	targets  Targets
}

// ConditionOption configures a Condition before it is sealed.
type ConditionOption func(*Condition)

// WithValue sets the literal compared against the attributes.
func WithValue(value string) ConditionOption {
	return func(c *Condition) {
		c.value = value
	}
}

// AppliesTo switches on the given attributes.
func AppliesTo(fields ...Field) ConditionOption {
	return func(c *Condition) {
		for _, f := range fields {
			c.targets.set(f, true)
		}
	}
}

// WithTargets replaces all six flags at once.
func WithTargets(t Targets) ConditionOption {
	return func(c *Condition) {
		c.targets = t
	}
}

// NewCondition creates a Condition. It fails with ErrInvalidOperator when
// op is outside the fixed set.
func NewCondition(op Operator, opts ...ConditionOption) (*Condition, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: %q, valid operators: %s", ErrInvalidOperator, string(op), operatorList())
	}

	c := &Condition{operator: op}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustCondition is NewCondition for statically known operators.
func MustCondition(op Operator, opts ...ConditionOption) *Condition {
	c, err := NewCondition(op, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Condition) Operator() Operator { return c.operator }

func (c *Condition) Value() string { return c.value }

func (c *Condition) Targets() Targets { return c.targets }

// AppliesTo reports whether the condition checks attribute f.
func (c *Condition) AppliesTo(f Field) bool {
	return c.targets.Get(f)
}

// SelectedFields returns the attributes switched on, in canonical order.
func (c *Condition) SelectedFields() []Field {
	var fields []Field
	for _, f := range Fields {
		if c.targets.Get(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Equal reports structural equality.
func (c *Condition) Equal(other *Condition) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.operator == other.operator &&
		c.value == other.value &&
		c.targets == other.targets
}

func (c *Condition) String() string {
	fields := make([]string, 0, len(Fields))
	for _, f := range c.SelectedFields() {
		fields = append(fields, string(f))
	}
	return fmt.Sprintf("%s %q [%s]", c.operator, c.value, strings.Join(fields, ", "))
}

func (*Condition) node() {}
