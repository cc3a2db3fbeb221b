// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package api defines the public contracts and value types of the GCCG
// transport engine: the five-member status vocabulary, PTP timestamps,
// pool-owned buffers and segment sets, callback event payloads, and the
// interfaces implemented by wire bindings and dispatch strategies.
//
// A connection is a single flow that carries one or more media elements
// (video, audio, ancillary data). The engine moves payload bytes between a
// transmitter and a receiver without interpreting them; pgroup video, PCM
// audio and RFC 8331 ancillary records travel as opaque spans.
package api
