// File: engine/engine_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/descriptor"
	"github.com/momentics/gccg-transport/transport/loopback"
)

const testTxDesc = `{
	"protocol": "loopback",
	"destinations": ["loop:0"],
	"media": [{"type": "video", "video": {"width": 1280, "height": 720, "rate_num": 50}}]
}`

const testRxDesc = `{
	"protocol": "loopback",
	"source": "loop:0",
	"media": [{"type": "video", "video": {"width": 1280, "height": 720, "rate_num": 50}}]
}`

// captureTx records submitted requests so tests drive completion manually.
type captureTx struct {
	mu       sync.Mutex
	reqs     []*api.TxRequest
	canceled []uuid.UUID
	failSend bool
}

func (c *captureTx) Send(req *api.TxRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return api.NewError(api.StatusError, "wire down")
	}
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureTx) Cancel(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, id)
}

func (c *captureTx) Close() error { return nil }

func (c *captureTx) request(i int) *api.TxRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[i]
}

func (c *captureTx) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func (c *captureTx) canceledIDs() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uuid.UUID(nil), c.canceled...)
}

// stubRx hands the engine sink to the test for direct fragment injection.
type stubRx struct {
	mu   sync.Mutex
	sink api.RxSink
}

func (s *stubRx) Start(sink api.RxSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func (s *stubRx) Close() error { return nil }

func (s *stubRx) inject(seg *api.RxSegment) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.OnSegment(seg)
	}
}

func fixedTx(b api.TxBinding) func(*descriptor.Connection) (api.TxBinding, error) {
	return func(*descriptor.Connection) (api.TxBinding, error) { return b, nil }
}

func fixedRx(b api.RxBinding) func(*descriptor.Connection) (api.RxBinding, error) {
	return func(*descriptor.Connection) (api.RxBinding, error) { return b, nil }
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func newPollEngine(t *testing.T, b BindingFactories) *Engine {
	t.Helper()
	return newTestEngine(t, Options{MaxThreads: 0, MaxPriority: -1, Bindings: b})
}

func retBuf() []byte { return make([]byte, 4096) }

func TestNewValidatesOptions(t *testing.T) {
	bindings := BindingFactories{NewTx: fixedTx(&captureTx{})}

	_, err := New(Options{MaxThreads: -2, Bindings: bindings})
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	_, err = New(Options{MaxPriority: 100, Bindings: bindings})
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	_, err = New(Options{MaxPriority: -2, Bindings: bindings})
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	_, err = New(Options{})
	assert.ErrorIs(t, err, api.ErrInvalidParameter)
}

func TestCreateTxReturnsNegotiatedDescriptor(t *testing.T) {
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(&captureTx{})})

	ret := retBuf()
	h, n, err := e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, ret)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.NotZero(t, h)

	var neg descriptor.Connection
	require.NoError(t, json.Unmarshal(ret[:n], &neg))
	assert.Equal(t, descriptor.DefaultColorimetry, neg.Media[0].Video.Colorimetry)
	assert.Equal(t, uint32(descriptor.DefaultLatencyBoundUs), neg.Timing.LatencyBoundUs)
	assert.Equal(t, 1, e.reg.count())
}

func TestCreateTxOutputBufferTooSmall(t *testing.T) {
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(&captureTx{})})

	_, n, err := e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, make([]byte, 8))
	require.ErrorIs(t, err, api.ErrBufferTooSmall)
	assert.Equal(t, api.StatusBufferTooSmall, api.StatusOf(err))
	assert.Zero(t, n)
	assert.Zero(t, e.reg.count(), "failed creation must register nothing")
}

func TestCreateValidatesArguments(t *testing.T) {
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(&captureTx{})})
	ret := retBuf()

	_, _, err := e.CreateTx([]byte(testTxDesc), 64, 4, nil, ret)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	_, _, err = e.CreateTx([]byte(testTxDesc), 0, 4, func(*api.TxEvent) {}, ret)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	_, _, err = e.CreateTx([]byte(testTxDesc), 64, 0, func(*api.TxEvent) {}, ret)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	// Rx descriptor handed to CreateTx fails role validation.
	_, _, err = e.CreateTx([]byte(testRxDesc), 64, 4, func(*api.TxEvent) {}, ret)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	// No Rx factory configured on this engine.
	_, _, err = e.CreateRx([]byte(testRxDesc), 64, 4, func(*api.RxEvent) {}, nil, ret)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)
}

func TestBufferRequestRoleChecks(t *testing.T) {
	e := newPollEngine(t, BindingFactories{
		NewTx: fixedTx(&captureTx{}),
		NewRx: fixedRx(&stubRx{}),
	})
	ret := retBuf()
	rxH, _, err := e.CreateRx([]byte(testRxDesc), 64, 4, func(*api.RxEvent) {}, nil, ret)
	require.NoError(t, err)

	_, err = e.RequestBuffer(rxH)
	assert.ErrorIs(t, err, api.ErrWrongRole)
	_, err = e.RequestBufferSegments(rxH)
	assert.ErrorIs(t, err, api.ErrWrongRole)

	_, err = e.RequestBuffer(api.ConnHandle(0xdeadbeef))
	assert.ErrorIs(t, err, api.ErrUnknownHandle)
}

func TestDestroyRetiresHandle(t *testing.T) {
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(&captureTx{})})
	h, _, err := e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	require.NoError(t, err)

	require.NoError(t, e.Destroy(h))
	assert.Zero(t, e.reg.count())

	assert.ErrorIs(t, e.Destroy(h), api.ErrUnknownHandle)
	_, err = e.RequestBuffer(h)
	assert.ErrorIs(t, err, api.ErrUnknownHandle)

	// A recycled arena slot carries a new generation; the old handle stays
	// dead.
	h2, _, err := e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
	_, err = e.RequestBuffer(h)
	assert.ErrorIs(t, err, api.ErrUnknownHandle)
}

func TestShutdownDestroysEverything(t *testing.T) {
	e, err := New(Options{MaxThreads: 0, MaxPriority: -1,
		Bindings: BindingFactories{NewTx: fixedTx(&captureTx{})}})
	require.NoError(t, err)

	_, _, err = e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	require.NoError(t, err)
	_, _, err = e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	require.NoError(t, err)

	require.NoError(t, e.Shutdown())
	assert.Zero(t, e.reg.count())

	_, _, err = e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	assert.ErrorIs(t, err, api.ErrEngineShutdown)
	assert.ErrorIs(t, e.Shutdown(), api.ErrEngineShutdown)
}

func TestEndToEndLoopback(t *testing.T) {
	tx, rx := loopback.NewPair()
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(tx), NewRx: fixedRx(rx)})

	var rxEvents []*api.RxEvent
	rxH, _, err := e.CreateRx([]byte(testRxDesc), 256, 4,
		func(ev *api.RxEvent) { rxEvents = append(rxEvents, ev) }, nil, retBuf())
	require.NoError(t, err)

	var txEvents []*api.TxEvent
	txH, _, err := e.CreateTx([]byte(testTxDesc), 256, 4,
		func(ev *api.TxEvent) { txEvents = append(txEvents, ev) }, retBuf())
	require.NoError(t, err)

	buf, err := e.RequestBuffer(txH)
	require.NoError(t, err)
	payload := []byte("one video frame")
	n := copy(buf.Data, payload)
	buf.Data = buf.Data[:n]
	require.NoError(t, e.TxPayload(txH, buf, nil, 7, 1_000_000))

	pn, err := e.PollEvents(txH)
	require.NoError(t, err)
	require.Equal(t, 1, pn)
	require.Len(t, txEvents, 1)
	assert.Equal(t, api.StatusOk, txEvents[0].Status)
	assert.Equal(t, 7, txEvents[0].UserParam)

	pn, err = e.PollEvents(rxH)
	require.NoError(t, err)
	require.Equal(t, 1, pn)
	require.Len(t, rxEvents, 1)
	assert.Equal(t, api.StatusOk, rxEvents[0].Status)
	require.NotNil(t, rxEvents[0].Buffer)
	assert.Equal(t, payload, rxEvents[0].Buffer.Data)
	assert.NotEmpty(t, rxEvents[0].PayloadJSON, "a payload document always travels with the payload")
	require.NoError(t, e.RxFreeBuffer(rxEvents[0].Buffer))

	assert.Zero(t, poolOutstanding(t, e, txH))
	assert.Zero(t, poolOutstanding(t, e, rxH))
}

func TestEndToEndSegmentedLoopback(t *testing.T) {
	tx, rx := loopback.NewPair()
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(tx), NewRx: fixedRx(rx)})

	var rxEvents []*api.RxEvent
	rxH, _, err := e.CreateRx([]byte(testRxDesc), 64, api.NumSegments,
		func(ev *api.RxEvent) { rxEvents = append(rxEvents, ev) }, nil, retBuf())
	require.NoError(t, err)

	var txEvents []*api.TxEvent
	txH, _, err := e.CreateTx([]byte(testTxDesc), 64, api.NumSegments,
		func(ev *api.TxEvent) { txEvents = append(txEvents, ev) }, retBuf())
	require.NoError(t, err)

	segs, err := e.RequestBufferSegments(txH)
	require.NoError(t, err)
	parts := []string{"head", "body", "tail"}
	for i := range segs.Segments {
		if i < len(parts) {
			n := copy(segs.Segments[i].Data, parts[i])
			segs.Segments[i].Data = segs.Segments[i].Data[:n]
		} else {
			segs.Segments[i].Data = segs.Segments[i].Data[:0]
		}
	}
	require.NoError(t, e.TxPayloadSegments(txH, segs, nil, nil, 1_000_000))

	_, err = e.PollEvents(txH)
	require.NoError(t, err)
	require.Len(t, txEvents, 1)
	assert.Equal(t, api.StatusOk, txEvents[0].Status)

	_, err = e.PollEvents(rxH)
	require.NoError(t, err)
	require.Len(t, rxEvents, 1)
	ev := rxEvents[0]
	require.NotNil(t, ev.Segments)
	assert.Equal(t, 3, ev.Segments.Used())
	for i, want := range parts {
		assert.Equal(t, want, string(ev.Segments.Segments[i].Data))
	}
	require.NoError(t, e.RxFreeBufferSegments(ev.Segments))
	assert.Zero(t, poolOutstanding(t, e, rxH))
}

func TestDebugProbes(t *testing.T) {
	e := newPollEngine(t, BindingFactories{NewTx: fixedTx(&captureTx{})})
	_, _, err := e.CreateTx([]byte(testTxDesc), 64, 4, func(*api.TxEvent) {}, retBuf())
	require.NoError(t, err)

	state := e.Probes().DumpState()
	assert.Equal(t, 1, state["connections"])
	assert.Contains(t, state, "stats")
}
