package rule

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
)

const (
	DefaultPatternCacheSize = 256
	DefaultMaxPatternLength = 500
)

// Evaluator decides whether a condition tree matches a comment. Compiled
// regex and wildcard patterns are kept in an LRU cache; a pattern that
// failed to compile is cached as nil and never matches.
type Evaluator struct {
	patterns         *lru.Cache[string, *regexp.Regexp]
	maxPatternLength int
}

// NewEvaluator creates an evaluator. Non-positive arguments select the
// defaults.
func NewEvaluator(cacheSize, maxPatternLength int) (*Evaluator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	if maxPatternLength <= 0 {
		maxPatternLength = DefaultMaxPatternLength
	}

	patterns, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}

	return &Evaluator{
		patterns:         patterns,
		maxPatternLength: maxPatternLength,
	}, nil
}

// Evaluate reports whether the tree rooted at g matches the comment. A nil
// tree never matches.
func (e *Evaluator) Evaluate(g *Group, c *Comment) bool {
	if g == nil || c == nil {
		return false
	}
	return e.evaluateGroup(g, c)
}

// evaluateGroup applies AND or OR across children, short-circuiting. An
// empty AND group is true and an empty OR group is false.
func (e *Evaluator) evaluateGroup(g *Group, c *Comment) bool {
	for _, child := range g.children {
		var result bool
		switch n := child.(type) {
		case *Group:
			result = e.evaluateGroup(n, c)
		case *Condition:
			result = e.evaluateCondition(n, c, g.matchAll)
		}

		if g.matchAll && !result {
			return false
		}
		if !g.matchAll && result {
			return true
		}
	}
	return g.matchAll
}

// evaluateCondition checks every selected attribute and combines the
// results the way the enclosing group combines its children.
func (e *Evaluator) evaluateCondition(cond *Condition, c *Comment, matchAll bool) bool {
	selected := 0
	for _, f := range Fields {
		if !cond.targets.Get(f) {
			continue
		}
		selected++

		result := e.match(cond.operator, cond.value, c.Value(f))
		if matchAll && !result {
			return false
		}
		if !matchAll && result {
			return true
		}
	}
	return selected > 0 && matchAll
}

func (e *Evaluator) match(op Operator, pattern, value string) bool {
	switch op {
	case OperatorContains:
		return strings.Contains(fold(value), fold(pattern))
	case OperatorNotContain:
		return !strings.Contains(fold(value), fold(pattern))
	case OperatorEquals:
		return fold(value) == fold(pattern)
	case OperatorNotEquals:
		return fold(value) != fold(pattern)
	case OperatorStartsWith:
		return strings.HasPrefix(fold(value), fold(pattern))
	case OperatorEndsWith:
		return strings.HasSuffix(fold(value), fold(pattern))
	case OperatorRegex, OperatorWildcard:
		re := e.compiled(op, pattern)
		return re != nil && re.MatchString(value)
	default:
		return false
	}
}

func (e *Evaluator) compiled(op Operator, pattern string) *regexp.Regexp {
	if len(pattern) > e.maxPatternLength {
		return nil
	}

	key := string(op) + ":" + pattern
	if re, ok := e.patterns.Get(key); ok {
		return re
	}

	re, err := compilePattern(op, pattern)
	if err != nil {
		re = nil
	}
	e.patterns.Add(key, re)
	return re
}

// CacheLen returns the number of cached patterns.
func (e *Evaluator) CacheLen() int {
	return e.patterns.Len()
}

// compilePattern compiles a regex (RE2 syntax, as written) or a wildcard
// pattern (* and ?, whole value, case-insensitive).
func compilePattern(op Operator, pattern string) (*regexp.Regexp, error) {
	switch op {
	case OperatorRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		return re, nil
	case OperatorWildcard:
		return regexp.Compile(wildcardExpr(pattern))
	default:
		return nil, fmt.Errorf("operator %s has no pattern", op)
	}
}

func wildcardExpr(pattern string) string {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// fold applies Unicode case folding. A Caser is stateful, so one is made
// per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
