package rule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tree := MustGroup(MatchAll,
		when(OperatorContains, "casino", FieldContent),
		MustGroup(MatchAny,
			when(OperatorWildcard, "*bot*", FieldAgent)),
	)

	out := Render(tree)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Equal(t, "ALL of (2)", lines[0])
	assert.Contains(t, out, `contains "casino" [comment_content]`)
	assert.Contains(t, out, "ANY of (1)")
	assert.Contains(t, out, `wildcard "*bot*" [comment_agent]`)
	assert.Len(t, lines, 4)
}

func TestRenderNil(t *testing.T) {
	assert.Equal(t, "(no conditions)\n", Render(nil))
}
