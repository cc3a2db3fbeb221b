// File: transport/udp/udp.go
// Package udp
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// UDP datagram wire binding. One datagram carries one payload segment:
//
//	magic(2) "G1" | flags(1) | index(1) | cfgLen(2 BE) | sec(4 BE) |
//	nsec(4 BE) | payloadID(16) | cfg | data
//
// flags bit0 marks a segmented payload, bit1 the final segment. Send is
// fire-and-forget: a successfully written datagram counts as delivered,
// matching datagram semantics where no acknowledgment exists. Each
// segment (plus header and payload config) must fit one datagram.

package udp

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/momentics/gccg-transport/api"
	"github.com/momentics/gccg-transport/log"
)

const (
	headerLen     = 30
	flagSegmented = 1 << 0
	flagFinal     = 1 << 1

	magic0 = 'G'
	magic1 = '1'
)

// maxDatagram bounds the receive buffer.
const maxDatagram = 64 * 1024

// Tx is the transmit end of the UDP binding.
type Tx struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

var _ api.TxBinding = (*Tx)(nil)

// NewTx dials the destination address.
func NewTx(raddr string) (*Tx, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Tx{conn: conn}, nil
}

// Send writes one datagram per segment and completes the payload as soon
// as every datagram has been handed to the kernel.
func (t *Tx) Send(req *api.TxRequest) error {
	if t.closed.Load() {
		return api.ErrTransportClosed
	}
	segmented := len(req.Segments) > 1
	for i, span := range req.Segments {
		flags := byte(0)
		if segmented {
			flags |= flagSegmented
		}
		if i == len(req.Segments)-1 {
			flags |= flagFinal
		}
		frame := encodeFrame(req.PayloadID, flags, uint8(i), req.ConfigJSON, req.Origination, span)
		if _, err := t.conn.Write(frame); err != nil {
			if i == 0 {
				return err // nothing went out; reject synchronously
			}
			req.Complete(api.StatusError)
			return nil
		}
	}
	req.Complete(api.StatusOk)
	return nil
}

// Cancel is a no-op: written datagrams cannot be recalled.
func (t *Tx) Cancel(uuid.UUID) {}

// Close releases the socket. There are never outstanding completions.
func (t *Tx) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// Rx is the receive end of the UDP binding.
type Rx struct {
	conn *net.UDPConn
	wg   sync.WaitGroup
}

var _ api.RxBinding = (*Rx)(nil)

// NewRx listens on the local address.
func NewRx(laddr string) (*Rx, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Rx{conn: conn}, nil
}

// Start launches the reader loop feeding the engine sink.
func (r *Rx) Start(sink api.RxSink) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		buf := make([]byte, maxDatagram)
		for {
			n, err := r.conn.Read(buf)
			if err != nil {
				return // socket closed
			}
			seg, ok := decodeFrame(buf[:n])
			if !ok {
				log.Debugf("udp rx: discarding malformed datagram (%d bytes)", n)
				continue
			}
			sink.OnSegment(seg)
		}
	}()
	return nil
}

// Close stops the reader and releases the socket.
func (r *Rx) Close() error {
	err := r.conn.Close()
	r.wg.Wait()
	return err
}

func encodeFrame(id uuid.UUID, flags, index uint8, cfg []byte, ts api.Timestamp, data []byte) []byte {
	frame := make([]byte, headerLen+len(cfg)+len(data))
	frame[0] = magic0
	frame[1] = magic1
	frame[2] = flags
	frame[3] = index
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(cfg)))
	binary.BigEndian.PutUint32(frame[6:10], ts.Seconds)
	binary.BigEndian.PutUint32(frame[10:14], ts.Nanoseconds)
	copy(frame[14:30], id[:])
	copy(frame[30:], cfg)
	copy(frame[30+len(cfg):], data)
	return frame
}

func decodeFrame(b []byte) (*api.RxSegment, bool) {
	if len(b) < headerLen || b[0] != magic0 || b[1] != magic1 {
		return nil, false
	}
	cfgLen := int(binary.BigEndian.Uint16(b[4:6]))
	if headerLen+cfgLen > len(b) {
		return nil, false
	}
	var id uuid.UUID
	copy(id[:], b[14:30])
	seg := &api.RxSegment{
		PayloadID: id,
		Index:     b[3],
		Final:     b[2]&flagFinal != 0,
		Segmented: b[2]&flagSegmented != 0,
		ConfigJSON: append([]byte(nil), b[headerLen:headerLen+cfgLen]...),
		Origination: api.Timestamp{
			Seconds:     binary.BigEndian.Uint32(b[6:10]),
			Nanoseconds: binary.BigEndian.Uint32(b[10:14]),
		},
		Data: append([]byte(nil), b[headerLen+cfgLen:]...),
	}
	return seg, true
}
