// File: descriptor/descriptor.go
// Package descriptor
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection and payload configuration documents. A connection descriptor
// fixes the protocol, timing parameters, the Tx destinations or Rx source,
// and an ordered list of media elements. The media element count and order
// are frozen for the connection's lifetime; payload descriptors mirror the
// media array and may only override informational attributes.

package descriptor

import "github.com/momentics/gccg-transport/api"

// Media element types.
const (
	MediaVideo = "video"
	MediaAudio = "audio"
	MediaAnc   = "anc"
)

// Timing carries the clock and latency parameters of a flow.
type Timing struct {
	GrandmasterID  string         `json:"grandmaster_id,omitempty"`
	Origination    *api.Timestamp `json:"origination_timestamp,omitempty"`
	LatencyBoundUs uint32         `json:"latency_bound_us,omitempty"`
}

// Video describes an uncompressed video element. Payload bytes are packed
// in pgroup units; the engine transports them verbatim.
type Video struct {
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	RateNum     uint32 `json:"rate_num"`
	RateDen     uint32 `json:"rate_den,omitempty"`
	Sampling    string `json:"sampling,omitempty"`
	Depth       uint8  `json:"depth,omitempty"`
	Colorimetry string `json:"colorimetry,omitempty"`
}

// Audio describes a PCM / ST 2110-31 audio element: interleaved
// fixed-width samples in channel-minor order.
type Audio struct {
	Channels     uint16 `json:"channels"`
	SampleRateHz uint32 `json:"sample_rate_hz,omitempty"`
	BitDepth     uint8  `json:"bit_depth,omitempty"`
	Language     string `json:"language,omitempty"`
	PacketTimeUs uint32 `json:"packet_time_us,omitempty"`
}

// Anc describes an RFC 8331 ancillary data element. The engine never
// parses the packet records themselves.
type Anc struct {
	DID         uint8  `json:"did"`
	SDID        uint8  `json:"sdid"`
	LineNumber  uint16 `json:"line_number,omitempty"`
	PacketCount uint16 `json:"packet_count,omitempty"`
}

// Media is one element of a flow. Type selects which attribute block is
// populated.
type Media struct {
	Type  string `json:"type"`
	Video *Video `json:"video,omitempty"`
	Audio *Audio `json:"audio,omitempty"`
	Anc   *Anc   `json:"anc,omitempty"`
}

// Connection is the full connection configuration document.
// Destinations and Source are mutually exclusive: a Tx flow carries one or
// more destinations, an Rx flow carries a source (address or filter).
type Connection struct {
	Protocol     string   `json:"protocol"`
	BandwidthBps uint64   `json:"bandwidth_bps,omitempty"`
	Timing       Timing   `json:"timing"`
	Destinations []string `json:"destinations,omitempty"`
	Source       string   `json:"source,omitempty"`
	Media        []Media  `json:"media"`
}

// Payload is the per-payload configuration document: the timing block plus
// a media array mirroring the connection's.
type Payload struct {
	Timing Timing  `json:"timing"`
	Media  []Media `json:"media"`
}
