package rule

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func testMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(16, 0)
	require.NoError(t, err)
	return e
}

// when builds a single-attribute condition.
func when(op Operator, value string, fields ...Field) *Condition {
	return MustCondition(op, WithValue(value), AppliesTo(fields...))
}

func spamComment() *Comment {
	return &Comment{
		ID:          "c-1",
		Content:     "Cheap CASINO bonus, visit now",
		Author:      "Bonus Bot",
		AuthorEmail: "bot@spam.example",
		AuthorURL:   "https://casino.example/promo",
		AuthorIP:    "10.0.0.7",
		Agent:       "SpamCrawler/2.1",
	}
}

func hamComment() *Comment {
	return &Comment{
		ID:          "c-2",
		Content:     "Thanks for the write-up, it helped a lot.",
		Author:      "Ada",
		AuthorEmail: "ada@example.org",
		AuthorURL:   "",
		AuthorIP:    "192.168.1.20",
		Agent:       "Mozilla/5.0",
	}
}
