package cacaotrail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail/ledger"
)

// fakePublisher collects published messages and can be told to fail.
type fakePublisher struct {
	mu       sync.Mutex
	prefix   string
	messages []*RelayMessage
	fail     error
}

func (p *fakePublisher) Publish(ctx context.Context, messages []*RelayMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *fakePublisher) Destination() string { return p.prefix }

func (p *fakePublisher) published() []*RelayMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*RelayMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

func seedRelayTrail(t *testing.T) *testTrail {
	t.Helper()
	trail := newTestTrail(t)
	trail.registerSupplier(t, "s1")
	trail.recordHarvest(t, "b1", "s1", 500)
	trail.submit(t, TransferOwnership{Subject: BatchSubject("b1"), ToOwner: "coop-a"})
	return trail
}

func TestRelayProcessBatch(t *testing.T) {
	ctx := context.Background()
	trail := seedRelayTrail(t)

	custody := &fakePublisher{prefix: "kafka"}
	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{
			EventKinds:  []string{KindOwnershipTransferred, KindShipped, KindSold},
			Destination: "kafka:custody",
		},
	}, WithRelayName("test-relay"), WithRelayPublisher(custody))

	n, err := relay.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "all records scanned")

	messages := custody.published()
	require.Len(t, messages, 1, "only custody kinds routed")
	assert.Equal(t, KindOwnershipTransferred, messages[0].Kind)
	assert.Equal(t, "Batch-b1", messages[0].SubjectID)
	assert.Equal(t, "kafka:custody", messages[0].Destination)
	assert.Equal(t, "custody", DestinationTarget(messages[0].Destination))

	pos, err := trail.store.GetCheckpoint(ctx, "test-relay")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pos)

	t.Run("caught up", func(t *testing.T) {
		n, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("new records resume after the checkpoint", func(t *testing.T) {
		trail.submit(t, TransferOwnership{Subject: BatchSubject("b1"), FromOwner: "coop-a", ToOwner: "coop-b"})

		n, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Len(t, custody.published(), 2)
	})
}

func TestRelayCatchAllRoute(t *testing.T) {
	ctx := context.Background()
	trail := seedRelayTrail(t)

	all := &fakePublisher{prefix: "webhook"}
	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{Destination: "webhook:https://example.com/events"},
	}, WithRelayPublisher(all))

	_, err := relay.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, all.published(), 3, "empty kind list matches everything")
}

func TestRelayRouteFilterAndTransform(t *testing.T) {
	ctx := context.Background()
	trail := seedRelayTrail(t)

	pub := &fakePublisher{prefix: "sns"}
	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{
			Destination: "sns:provenance",
			Filter: func(rec ledger.Record) bool {
				return rec.Kind == KindBatchHarvested
			},
			Transform: func(rec ledger.Record) ([]byte, error) {
				return []byte(`{"redacted":true}`), nil
			},
		},
	}, WithRelayPublisher(pub))

	_, err := relay.ProcessBatch(ctx)
	require.NoError(t, err)

	messages := pub.published()
	require.Len(t, messages, 1)
	assert.Equal(t, KindBatchHarvested, messages[0].Kind)
	assert.JSONEq(t, `{"redacted":true}`, string(messages[0].Payload))
}

func TestRelayFailureHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	trail := seedRelayTrail(t)

	pub := &fakePublisher{prefix: "kafka", fail: errors.New("broker unavailable")}
	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{Destination: "kafka:provenance"},
	}, WithRelayName("failing-relay"), WithRelayPublisher(pub))

	_, err := relay.ProcessBatch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	pos, err := trail.store.GetCheckpoint(ctx, "failing-relay")
	require.NoError(t, err)
	assert.Zero(t, pos, "checkpoint must not advance past unpublished records")

	// Recovery redelivers the whole batch: at-least-once.
	pub.fail = nil
	n, err := relay.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, pub.published(), 3)
}

func TestRelayMissingPublisher(t *testing.T) {
	ctx := context.Background()
	trail := seedRelayTrail(t)

	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{Destination: "kafka:provenance"},
	})

	_, err := relay.ProcessBatch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no publisher for destination "kafka"`)
}

func TestRelayLifecycle(t *testing.T) {
	trail := seedRelayTrail(t)

	pub := &fakePublisher{prefix: "kafka"}
	relay := NewRelay(trail.journal, trail.store, []RelayRoute{
		{Destination: "kafka:provenance"},
	},
		WithRelayName("lifecycle-relay"),
		WithRelayPublisher(pub),
		WithRelayBatchSize(2),
		WithRelayPollInterval(5*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, relay.Start(ctx))
	assert.True(t, relay.IsRunning())

	err := relay.Start(ctx)
	assert.Error(t, err, "double start rejected")

	deadline := time.After(2 * time.Second)
	for len(pub.published()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("relay delivered %d of 3 messages", len(pub.published()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	relay.Stop()
	assert.False(t, relay.IsRunning())
	relay.Stop()
}

func TestDestinationTarget(t *testing.T) {
	assert.Equal(t, "provenance", DestinationTarget("kafka:provenance"))
	assert.Equal(t, "https://example.com/events", DestinationTarget("webhook:https://example.com/events"))
	assert.Equal(t, "", DestinationTarget("console"))
}
