package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxDepth bounds group nesting accepted by the decoder.
const DefaultMaxDepth = 64

// Wire keys. The encoder writes only the canonical names; the decoder also
// accepts the legacy names written by earlier versions of the rule editor.
const (
	keyType     = "type"
	keyChildren = "children"
	keyMatchAll = "match_all"
	keyOperator = "operator"
	keyValue    = "value"

	legacyKeyChildren = "conditions"
	legacyKeyOperator = "condition_type"
	legacyKeyValue    = "condition_value"
)

type wireGroup struct {
	Type     string        `json:"type"`
	Children []interface{} `json:"children"`
	MatchAll bool          `json:"match_all"`
}

type wireCondition struct {
	Type               string   `json:"type"`
	Operator           Operator `json:"operator"`
	Value              string   `json:"value"`
	CommentContent     bool     `json:"comment_content"`
	CommentAuthor      bool     `json:"comment_author"`
	CommentAuthorEmail bool     `json:"comment_author_email"`
	CommentAuthorURL   bool     `json:"comment_author_url"`
	CommentAuthorIP    bool     `json:"comment_author_ip"`
	CommentAgent       bool     `json:"comment_agent"`
}

// Codec converts condition trees to and from their JSON text form.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	maxDepth int
}

type CodecOption func(*Codec)

// WithMaxDepth sets the deepest group nesting the codec accepts.
func WithMaxDepth(depth int) CodecOption {
	return func(c *Codec) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) MaxDepth() int { return c.maxDepth }

var defaultCodec = NewCodec()

// Encode encodes g with the default codec.
func Encode(g *Group) (string, error) {
	return defaultCodec.Encode(g)
}

// Decode decodes text with the default codec.
func Decode(text string) (*Group, error) {
	return defaultCodec.Decode(text)
}

// Encode returns the canonical JSON text of the tree rooted at g. Trees
// deeper than the codec allows are refused so every encoded row decodes.
func (c *Codec) Encode(g *Group) (string, error) {
	if g == nil {
		return "", fmt.Errorf("cannot encode a nil group")
	}
	if depth := g.Depth(); depth > c.maxDepth {
		return "", fmt.Errorf("%w: depth %d exceeds %d", ErrTreeTooDeep, depth, c.maxDepth)
	}

	data, err := json.Marshal(groupToWire(g))
	if err != nil {
		return "", fmt.Errorf("failed to encode condition tree: %w", err)
	}
	return string(data), nil
}

func groupToWire(g *Group) wireGroup {
	w := wireGroup{
		Type:     nodeGroup,
		Children: make([]interface{}, 0, len(g.children)),
		MatchAll: g.matchAll,
	}
	for _, child := range g.children {
		switch n := child.(type) {
		case *Group:
			w.Children = append(w.Children, groupToWire(n))
		case *Condition:
			w.Children = append(w.Children, conditionToWire(n))
		}
	}
	return w
}

func conditionToWire(c *Condition) wireCondition {
	return wireCondition{
		Type:               nodeCondition,
		Operator:           c.operator,
		Value:              c.value,
		CommentContent:     c.targets.Content,
		CommentAuthor:      c.targets.Author,
		CommentAuthorEmail: c.targets.AuthorEmail,
		CommentAuthorURL:   c.targets.AuthorURL,
		CommentAuthorIP:    c.targets.AuthorIP,
		CommentAgent:       c.targets.Agent,
	}
}

// MarshalJSON writes the canonical wire form of the group.
func (g *Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(groupToWire(g))
}

// MarshalJSON writes the canonical wire form of the condition.
func (c *Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionToWire(c))
}

// Decode parses text into a condition tree.
//
// Empty text, null, {}, [] and "" mean no tree is configured and return
// (nil, nil). Any other failure is a *DecodeError; no partial tree is ever
// returned.
func (c *Codec) Decode(text string) (*Group, error) {
	return c.DecodeBytes([]byte(text))
}

// DecodeBytes is Decode for raw bytes.
func (c *Codec) DecodeBytes(data []byte) (*Group, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &DecodeError{Kind: KindMalformedInput, Path: "$", Err: err}
	}

	switch trimmed[0] {
	case 'n':
		return nil, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil && len(items) == 0 {
			return nil, nil
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && s == "" {
			return nil, nil
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, &DecodeError{Kind: KindMalformedInput, Path: "$", Err: err}
		}
		if len(obj) == 0 {
			return nil, nil
		}
		if typ, ok := decodeString(obj[keyType]); ok && typ == nodeGroup {
			return c.parseGroup(obj, "$", 1)
		}
	}

	return nil, &DecodeError{Kind: KindInvalidRoot, Path: "$"}
}

func (c *Codec) parseGroup(obj map[string]json.RawMessage, path string, depth int) (*Group, error) {
	if depth > c.maxDepth {
		return nil, &DecodeError{Kind: KindTreeTooDeep, Node: nodeGroup, Path: path, Limit: c.maxDepth}
	}

	childrenRaw, err := requireKey(obj, nodeGroup, path, keyChildren, legacyKeyChildren)
	if err != nil {
		return nil, err
	}
	matchAllRaw, err := requireKey(obj, nodeGroup, path, keyMatchAll)
	if err != nil {
		return nil, err
	}
	typeRaw, err := requireKey(obj, nodeGroup, path, keyType)
	if err != nil {
		return nil, err
	}

	if typ, ok := decodeString(typeRaw); !ok || typ != nodeGroup {
		return nil, &DecodeError{Kind: KindInvalidType, Node: nodeGroup, Key: keyType, Path: path, Value: snippet(typeRaw)}
	}

	var children []json.RawMessage
	if isNull(childrenRaw) || json.Unmarshal(childrenRaw, &children) != nil {
		return nil, invalidValue(nodeGroup, keyChildren, path, childrenRaw)
	}

	matchAll, err := coerceBool(matchAllRaw)
	if err != nil {
		return nil, invalidValue(nodeGroup, keyMatchAll, path, matchAllRaw)
	}

	nodes := make([]Node, 0, len(children))
	for i, raw := range children {
		childPath := fmt.Sprintf("%s.children[%d]", path, i)

		var child map[string]json.RawMessage
		if isNull(raw) || json.Unmarshal(raw, &child) != nil {
			return nil, &DecodeError{Kind: KindInvalidChildType, Path: childPath, Value: snippet(raw)}
		}

		typ, _ := decodeString(child[keyType])
		switch typ {
		case nodeGroup:
			g, err := c.parseGroup(child, childPath, depth+1)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, g)
		case nodeCondition:
			cond, err := parseCondition(child, childPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, cond)
		default:
			return nil, &DecodeError{Kind: KindInvalidChildType, Path: childPath, Value: fmt.Sprintf("%q", typ)}
		}
	}

	return &Group{children: nodes, matchAll: matchAll}, nil
}

func parseCondition(obj map[string]json.RawMessage, path string) (*Condition, error) {
	operatorRaw, err := requireKey(obj, nodeCondition, path, keyOperator, legacyKeyOperator)
	if err != nil {
		return nil, err
	}
	valueRaw, err := requireKey(obj, nodeCondition, path, keyValue, legacyKeyValue)
	if err != nil {
		return nil, err
	}
	flagRaws := make([]json.RawMessage, len(Fields))
	for i, f := range Fields {
		raw, err := requireKey(obj, nodeCondition, path, string(f))
		if err != nil {
			return nil, err
		}
		flagRaws[i] = raw
	}

	name, ok := decodeString(operatorRaw)
	if !ok {
		return nil, &DecodeError{Kind: KindInvalidOperator, Node: nodeCondition, Key: keyOperator, Path: path, Value: snippet(operatorRaw)}
	}
	op, err := ParseOperator(name)
	if err != nil {
		return nil, &DecodeError{Kind: KindInvalidOperator, Node: nodeCondition, Key: keyOperator, Path: path, Value: snippet(operatorRaw), Err: err}
	}

	value := ""
	if !isNull(valueRaw) {
		if value, ok = decodeString(valueRaw); !ok {
			return nil, invalidValue(nodeCondition, keyValue, path, valueRaw)
		}
	}

	var targets Targets
	for i, f := range Fields {
		flag, err := coerceBool(flagRaws[i])
		if err != nil {
			return nil, invalidValue(nodeCondition, string(f), path, flagRaws[i])
		}
		targets.set(f, flag)
	}

	return NewCondition(op, WithValue(value), WithTargets(targets))
}

// requireKey returns the value stored under key, or under the first legacy
// alias present. A missing key is reported by its canonical name.
func requireKey(obj map[string]json.RawMessage, node, path, key string, aliases ...string) (json.RawMessage, error) {
	if raw, ok := obj[key]; ok {
		return raw, nil
	}
	for _, alias := range aliases {
		if raw, ok := obj[alias]; ok {
			return raw, nil
		}
	}
	return nil, &DecodeError{Kind: KindMissingKey, Node: node, Key: key, Path: path}
}

func invalidValue(node, key, path string, raw json.RawMessage) *DecodeError {
	return &DecodeError{Kind: KindInvalidValue, Node: node, Key: key, Path: path, Value: snippet(raw)}
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isNull(raw) {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// coerceBool accepts the boolean spellings produced by older writers:
// JSON booleans, numbers (non-zero is true), null (false) and the strings
// 1/t/true/yes/on and 0/f/false/no/off/"" in any case.
func coerceBool(raw json.RawMessage) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false, fmt.Errorf("empty value")
	}

	switch c := trimmed[0]; {
	case c == 't' || c == 'f':
		var b bool
		err := json.Unmarshal(trimmed, &b)
		return b, err
	case c == 'n':
		return false, nil
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "t", "true", "yes", "on":
			return true, nil
		case "", "0", "f", "false", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return false, err
		}
		f, err := n.Float64()
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}

	return false, fmt.Errorf("not a boolean: %s", trimmed)
}

// snippet shortens raw JSON for error messages.
func snippet(raw json.RawMessage) string {
	const max = 64
	s := string(bytes.TrimSpace(raw))
	if s == "" {
		return "<missing>"
	}
	if len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
