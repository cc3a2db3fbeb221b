// File: transport/loopback/loopback_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loopback

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/gccg-transport/api"
)

type collectSink struct {
	mu   sync.Mutex
	segs []*api.RxSegment
}

func (c *collectSink) OnSegment(seg *api.RxSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, seg)
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segs)
}

func (c *collectSink) at(i int) *api.RxSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segs[i]
}

func request(id uuid.UUID, done *[]api.Status, spans ...[]byte) *api.TxRequest {
	return &api.TxRequest{
		PayloadID:  id,
		Segments:   spans,
		ConfigJSON: []byte(`{"media":[]}`),
		Complete:   func(st api.Status) { *done = append(*done, st) },
	}
}

func TestPairDeliversSegments(t *testing.T) {
	tx, rx := NewPair()
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	id := uuid.New()
	var done []api.Status
	require.NoError(t, tx.Send(request(id, &done, []byte("one"), []byte("two"))))

	require.Equal(t, []api.Status{api.StatusOk}, done)
	require.Equal(t, 2, sink.count())

	first, last := sink.at(0), sink.at(1)
	assert.Equal(t, id, first.PayloadID)
	assert.True(t, first.Segmented)
	assert.False(t, first.Final)
	assert.Equal(t, uint8(0), first.Index)
	assert.Equal(t, "one", string(first.Data))
	assert.True(t, last.Final)
	assert.Equal(t, "two", string(last.Data))
	assert.Equal(t, `{"media":[]}`, string(first.ConfigJSON))
}

func TestPairUnsegmentedPayload(t *testing.T) {
	tx, rx := NewPair()
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	var done []api.Status
	require.NoError(t, tx.Send(request(uuid.New(), &done, []byte("solo"))))
	require.Equal(t, 1, sink.count())
	seg := sink.at(0)
	assert.False(t, seg.Segmented)
	assert.True(t, seg.Final)
}

func TestSendCopiesSpans(t *testing.T) {
	tx, rx := NewPair()
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	span := []byte("before")
	var done []api.Status
	require.NoError(t, tx.Send(request(uuid.New(), &done, span)))
	copy(span, "mutate")
	assert.Equal(t, "before", string(sink.at(0).Data))
}

func TestLatencyAndCancel(t *testing.T) {
	tx, rx := NewPair(WithLatency(50 * time.Millisecond))
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	id := uuid.New()
	var done []api.Status
	require.NoError(t, tx.Send(request(id, &done, []byte("late"))))
	assert.Zero(t, sink.count(), "delivery is delayed")

	tx.Cancel(id)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, sink.count(), "canceled payload is never delivered")
	assert.Empty(t, done, "canceled payload is never completed")
}

func TestSilentSwallowsPayloads(t *testing.T) {
	tx, rx := NewPair(WithSilent())
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	var done []api.Status
	require.NoError(t, tx.Send(request(uuid.New(), &done, []byte("void"))))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, sink.count())
	assert.Empty(t, done)
}

func TestCloseCompletesOutstanding(t *testing.T) {
	tx, rx := NewPair(WithLatency(time.Minute))
	sink := &collectSink{}
	require.NoError(t, rx.Start(sink))

	var done []api.Status
	require.NoError(t, tx.Send(request(uuid.New(), &done, []byte("stuck"))))
	require.NoError(t, tx.Close())
	assert.Equal(t, []api.Status{api.StatusError}, done)

	err := tx.Send(request(uuid.New(), &done, []byte("after")))
	assert.ErrorIs(t, err, api.ErrTransportClosed)
}

func TestDeliveryWithoutSinkIsLost(t *testing.T) {
	tx, _ := NewPair()
	var done []api.Status
	require.NoError(t, tx.Send(request(uuid.New(), &done, []byte("void"))))
	assert.Equal(t, []api.Status{api.StatusOk}, done, "datagram semantics: sent means done")
}

func TestRxStartOnce(t *testing.T) {
	_, rx := NewPair()
	require.NoError(t, rx.Start(&collectSink{}))
	assert.Error(t, rx.Start(&collectSink{}))

	require.NoError(t, rx.Close())
	require.NoError(t, rx.Start(&collectSink{}), "closed end can be restarted")
}
