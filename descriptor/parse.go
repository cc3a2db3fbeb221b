// File: descriptor/parse.go
// Package descriptor
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Parsing, validation, default negotiation and bounded-buffer encoding.

package descriptor

import (
	"encoding/json"

	"github.com/momentics/gccg-transport/api"
)

// Negotiated defaults applied when the document leaves a field unset.
const (
	DefaultColorimetry    = "BT709"
	DefaultSampleRateHz   = 48000
	DefaultLatencyBoundUs = 20_000
	DefaultRateDen        = 1
)

// ParseConnection parses and validates a connection document for the given
// role. tx selects transmitter validation (destinations required).
func ParseConnection(data []byte, tx bool) (*Connection, error) {
	if len(data) == 0 {
		return nil, api.ErrInvalidParameter.WithContext("reason", "empty connection descriptor")
	}
	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, api.ErrInvalidParameter.WithContext("reason", err.Error())
	}
	if err := c.validate(tx); err != nil {
		return nil, err
	}
	c.negotiate()
	return &c, nil
}

func (c *Connection) validate(tx bool) error {
	if tx {
		if len(c.Destinations) == 0 {
			return api.ErrInvalidParameter.WithContext("reason", "tx descriptor requires destinations")
		}
		if c.Source != "" {
			return api.ErrInvalidParameter.WithContext("reason", "tx descriptor must not carry a source")
		}
	} else {
		if c.Source == "" {
			return api.ErrInvalidParameter.WithContext("reason", "rx descriptor requires a source")
		}
		if len(c.Destinations) != 0 {
			return api.ErrInvalidParameter.WithContext("reason", "rx descriptor must not carry destinations")
		}
	}
	if len(c.Media) == 0 {
		return api.ErrInvalidParameter.WithContext("reason", "at least one media element required")
	}
	for i := range c.Media {
		if err := validateMedia(&c.Media[i]); err != nil {
			return err
		}
	}
	if c.Timing.Origination != nil && !c.Timing.Origination.Valid() {
		return api.ErrInvalidParameter.WithContext("reason", "origination nanoseconds out of range")
	}
	return nil
}

func validateMedia(m *Media) error {
	switch m.Type {
	case MediaVideo:
		if m.Video == nil || m.Video.Width == 0 || m.Video.Height == 0 || m.Video.RateNum == 0 {
			return api.ErrInvalidParameter.WithContext("reason", "incomplete video element")
		}
	case MediaAudio:
		if m.Audio == nil || m.Audio.Channels == 0 {
			return api.ErrInvalidParameter.WithContext("reason", "incomplete audio element")
		}
	case MediaAnc:
		if m.Anc == nil {
			return api.ErrInvalidParameter.WithContext("reason", "incomplete anc element")
		}
	default:
		return api.ErrInvalidParameter.WithContext("media_type", m.Type)
	}
	return nil
}

// negotiate fills defaulted attributes in place. The negotiated document
// is what connection creation hands back to the caller.
func (c *Connection) negotiate() {
	if c.Timing.LatencyBoundUs == 0 {
		c.Timing.LatencyBoundUs = DefaultLatencyBoundUs
	}
	for i := range c.Media {
		m := &c.Media[i]
		switch m.Type {
		case MediaVideo:
			if m.Video.Colorimetry == "" {
				m.Video.Colorimetry = DefaultColorimetry
			}
			if m.Video.RateDen == 0 {
				m.Video.RateDen = DefaultRateDen
			}
		case MediaAudio:
			if m.Audio.SampleRateHz == 0 {
				m.Audio.SampleRateHz = DefaultSampleRateHz
			}
		}
	}
}

// EncodeTo writes the document into dst and returns the number of bytes
// written. If dst cannot hold the encoding the call fails with the
// buffer-too-small status and writes nothing.
func (c *Connection) EncodeTo(dst []byte) (int, error) {
	out, err := json.Marshal(c)
	if err != nil {
		return 0, api.NewError(api.StatusError, err.Error())
	}
	if len(out) > len(dst) {
		return 0, api.ErrBufferTooSmall.WithContext("need", len(out))
	}
	return copy(dst, out), nil
}

// ParsePayload parses a payload document and checks it against the owning
// connection: the media element count and order are fixed at connection
// creation and a payload may not change them.
func ParsePayload(data []byte, conn *Connection) (*Payload, error) {
	if len(data) == 0 {
		// A payload document is optional; absence means "no overrides".
		return &Payload{Media: conn.Media}, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, api.ErrInvalidParameter.WithContext("reason", err.Error())
	}
	if len(p.Media) != len(conn.Media) {
		return nil, api.ErrInvalidParameter.
			WithContext("payload_media", len(p.Media)).
			WithContext("connection_media", len(conn.Media))
	}
	for i := range p.Media {
		if p.Media[i].Type != conn.Media[i].Type {
			return nil, api.ErrInvalidParameter.WithContext("reason", "payload media order differs from connection")
		}
	}
	if p.Timing.Origination != nil && !p.Timing.Origination.Valid() {
		return nil, api.ErrInvalidParameter.WithContext("reason", "origination nanoseconds out of range")
	}
	return &p, nil
}
