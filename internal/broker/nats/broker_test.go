package nats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comment-moderation/config"
	"comment-moderation/internal/broker"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/rule"
)

type published struct {
	subject string
	data    []byte
}

func testProcessor(t *testing.T) *rule.Processor {
	t.Helper()
	p, err := rule.NewProcessor(rule.ProcessorConfig{Workers: 1}, logger.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, p.LoadRules([]rule.Rule{{
		ID:      1,
		Name:    "casino",
		Enabled: true,
		Outcome: rule.OutcomeSpam,
		Conditions: rule.MustGroup(rule.MatchAny,
			rule.MustCondition(rule.OperatorContains,
				rule.WithValue("casino"),
				rule.AppliesTo(rule.FieldContent))),
	}}))
	return p
}

func newTestBroker(t *testing.T, publishErr error) (*NATSBroker, *[]published) {
	t.Helper()
	var sent []published
	router := broker.NewRouter(testProcessor(t), "comments/moderated", logger.Nop(), nil)
	b := &NATSBroker{
		logger: logger.Nop(),
		config: config.BrokerConfig{IntakeTopic: "comments/incoming", DecisionTopic: "comments/moderated"},
		router: router,
		publish: func(subject string, data []byte) error {
			if publishErr != nil {
				return publishErr
			}
			sent = append(sent, published{subject: subject, data: data})
			return nil
		},
	}
	return b, &sent
}

func TestToNATSSubject(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"comments/incoming", "comments.incoming"},
		{"comments/moderated/spam", "comments.moderated.spam"},
		{"comments/+/spam", "comments.*.spam"},
		{"comments/#", "comments.>"},
		{"/comments/incoming/", "comments.incoming"},
		{"site one/comments", "site_one.comments"},
		{"already.dotted", "already.dotted"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, ToNATSSubject(tt.topic))
		})
	}
}

func TestHandleMessagePublishesDecision(t *testing.T) {
	b, sent := newTestBroker(t, nil)

	b.handleMessage(&nats.Msg{
		Subject: "comments.incoming",
		Data:    []byte(`{"id":"42","comment_content":"Visit my Casino"}`),
	})

	require.Len(t, *sent, 1)
	assert.Equal(t, "comments.moderated.spam", (*sent)[0].subject)

	var msg broker.DecisionMessage
	require.NoError(t, json.Unmarshal((*sent)[0].data, &msg))
	assert.Equal(t, "42", msg.CommentID)
	assert.True(t, msg.Matched)
	assert.Equal(t, uint64(1), msg.RuleID)
	assert.NotEmpty(t, msg.DecisionID)

	stats := b.GetStats()
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(1), stats.MessagesPublished)
}

func TestHandleMessageReply(t *testing.T) {
	b, sent := newTestBroker(t, nil)

	b.handleMessage(&nats.Msg{
		Subject: "comments.incoming",
		Reply:   "_INBOX.abc",
		Data:    []byte(`{"comment_content":"lovely post"}`),
	})

	require.Len(t, *sent, 2)
	assert.Equal(t, "comments.moderated.none", (*sent)[0].subject)
	assert.Equal(t, "_INBOX.abc", (*sent)[1].subject)
	assert.Equal(t, (*sent)[0].data, (*sent)[1].data)
}

func TestHandleMessageFailures(t *testing.T) {
	t.Run("malformed payload", func(t *testing.T) {
		b, sent := newTestBroker(t, nil)
		b.handleMessage(&nats.Msg{Subject: "comments.incoming", Data: []byte("{")})

		assert.Empty(t, *sent)
		assert.Equal(t, uint64(1), b.GetStats().Errors)
	})

	t.Run("publish error", func(t *testing.T) {
		b, _ := newTestBroker(t, errors.New("connection closed"))
		b.handleMessage(&nats.Msg{Subject: "comments.incoming", Data: []byte(`{"comment_content":"casino"}`)})

		stats := b.GetStats()
		assert.Equal(t, uint64(0), stats.MessagesPublished)
		assert.Equal(t, uint64(1), stats.Errors)
	})
}
