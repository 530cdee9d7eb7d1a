package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comment-moderation/config"
	"comment-moderation/internal/broker"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/rule"
)

func testConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Type:          "mqtt",
		URL:           "tcp://localhost:1883",
		IntakeTopic:   "comments/incoming",
		DecisionTopic: "comments/moderated",
		QoS:           1,
	}
}

func testRouter(t *testing.T) *broker.Router {
	t.Helper()
	p, err := rule.NewProcessor(rule.ProcessorConfig{Workers: 1}, logger.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, p.LoadRules([]rule.Rule{{
		ID:      2,
		Name:    "bad agent",
		Enabled: true,
		Outcome: rule.OutcomeTrash,
		Conditions: rule.MustGroup(rule.MatchAll,
			rule.MustCondition(rule.OperatorWildcard,
				rule.WithValue("*crawler*"),
				rule.AppliesTo(rule.FieldAgent))),
	}}))
	return broker.NewRouter(p, "comments/moderated", logger.Nop(), nil)
}

func TestStartSubscribesIntake(t *testing.T) {
	client := NewMockClient()
	b := NewBrokerWithClient(testConfig(), client, testRouter(t), logger.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))
	assert.Equal(t, byte(1), client.subscribed["comments/incoming"])
	assert.True(t, b.IsConnected())

	cancel()
	b.Close()
	assert.Equal(t, []string{"comments/incoming"}, client.unsubscribed)
	assert.Equal(t, 1, client.disconnects)
	assert.False(t, b.IsConnected())
}

func TestStartSubscribeError(t *testing.T) {
	client := NewMockClient()
	client.subscribeErr = errors.New("not authorized")
	b := NewBrokerWithClient(testConfig(), client, testRouter(t), logger.Nop(), nil)

	err := b.Start(context.Background())
	assert.ErrorContains(t, err, "not authorized")
}

func TestDecisionsPublishedByOutcome(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantTopic string
		matched   bool
	}{
		{"crawler", `{"id":"1","comment_agent":"SpamCrawler/2.1"}`, "comments/moderated/trash", true},
		{"browser", `{"id":"2","comment_agent":"Mozilla/5.0"}`, "comments/moderated/none", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockClient()
			b := NewBrokerWithClient(testConfig(), client, testRouter(t), logger.Nop(), nil)
			require.NoError(t, b.Start(context.Background()))
			defer b.Close()

			client.deliver("comments/incoming", []byte(tt.payload))

			calls := client.publishedCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantTopic, calls[0].topic)
			assert.Equal(t, byte(1), calls[0].qos)

			var msg broker.DecisionMessage
			require.NoError(t, json.Unmarshal(calls[0].payload, &msg))
			assert.Equal(t, tt.matched, msg.Matched)

			assert.Equal(t, uint64(1), b.GetStats().MessagesPublished)
		})
	}
}

func TestPublishFailureCounted(t *testing.T) {
	client := NewMockClient()
	client.publishErr = errors.New("queue full")
	b := NewBrokerWithClient(testConfig(), client, testRouter(t), logger.Nop(), nil)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	client.deliver("comments/incoming", []byte(`{"comment_agent":"crawler"}`))
	client.deliver("comments/incoming", []byte(`not json`))

	stats := b.GetStats()
	assert.Equal(t, uint64(2), stats.MessagesReceived)
	assert.Equal(t, uint64(0), stats.MessagesPublished)
	assert.Equal(t, uint64(2), stats.Errors)
}

func TestReconnectResubscribes(t *testing.T) {
	client := NewMockClient()
	b := NewBrokerWithClient(testConfig(), client, testRouter(t), logger.Nop(), nil)

	b.handleConnect(client)
	assert.Empty(t, client.subscribed)

	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	delete(client.subscribed, "comments/incoming")
	before := b.GetStats().LastReconnect
	b.handleConnect(client)
	assert.Contains(t, client.subscribed, "comments/incoming")
	assert.False(t, b.GetStats().LastReconnect.Before(before))
}
