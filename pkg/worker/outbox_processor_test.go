package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/messaging"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*model.OutboxEvent)
	return events, args.Error(1)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id string, status model.OutboxStatus, errMsg *string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *mockRepo) CountPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *mockBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	args := m.Called(ctx, channel)
	ch, _ := args.Get(0).(<-chan []byte)
	return ch, args.Error(1)
}

func (m *mockBroker) Close() error {
	return m.Called().Error(0)
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Channel:       "clinic.events",
	}
}

func TestProcessBatch_PublishesAndMarksProcessed(t *testing.T) {
	repo := new(mockRepo)
	broker := new(mockBroker)
	m := metrics.New("worker_test")

	evt := &model.OutboxEvent{ID: "e-1", EventType: model.EventSessionStarted, Payload: []byte(`{"sessionId":"s-1"}`)}
	repo.On("GetPendingEvents", mock.Anything, 10).Return([]*model.OutboxEvent{evt}, nil)
	broker.On("Publish", mock.Anything, "clinic.events", mock.MatchedBy(func(msg messaging.Message) bool {
		return msg.ID == "e-1" && msg.Type == model.EventSessionStarted
	})).Return(nil)
	repo.On("UpdateStatus", mock.Anything, "e-1", model.OutboxStatusProcessed, (*string)(nil)).Return(nil)
	repo.On("CountPending", mock.Anything).Return(0, nil)

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, p.ProcessBatch(context.Background()))

	repo.AssertExpectations(t)
	broker.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsProcessed))
}

func TestProcessBatch_MarksFailedAfterRetries(t *testing.T) {
	repo := new(mockRepo)
	broker := new(mockBroker)
	m := metrics.New("worker_test")

	evt := &model.OutboxEvent{ID: "e-2", EventType: model.EventAssignmentClaimed}
	repo.On("GetPendingEvents", mock.Anything, 10).Return([]*model.OutboxEvent{evt}, nil)
	broker.On("Publish", mock.Anything, "clinic.events", mock.Anything).Return(errors.New("redis down"))
	repo.On("UpdateStatus", mock.Anything, "e-2", model.OutboxStatusFailed, mock.MatchedBy(func(msg *string) bool {
		return msg != nil && *msg == "redis down"
	})).Return(nil)
	repo.On("CountPending", mock.Anything).Return(1, nil)

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, p.ProcessBatch(context.Background()))

	broker.AssertNumberOfCalls(t, "Publish", 2)
	repo.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventAssignmentClaimed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxQueueSize))
}

func TestProcessBatch_RepositoryError(t *testing.T) {
	repo := new(mockRepo)
	repo.On("GetPendingEvents", mock.Anything, 10).Return(nil, errors.New("store unavailable"))

	p := NewOutboxProcessor(repo, new(mockBroker), testConfig(), logger.Nop(), metrics.New("worker_test"))
	assert.Error(t, p.ProcessBatch(context.Background()))
}

func TestNewOutboxProcessor_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Channel = ""
	assert.Panics(t, func() {
		NewOutboxProcessor(new(mockRepo), new(mockBroker), cfg, logger.Nop(), metrics.New("worker_test"))
	})
}
