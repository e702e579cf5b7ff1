package messages

import "github.com/automoto/stormgrid-mp/shared/snapshot"

// StateUpdate is one server-to-client sync packet: a batch of compressed
// entity snapshots plus the reconciliation data for the receiving client.
// Sequence numbers are per-connection and feed the client's Ack replies.
type StateUpdate struct {
	Sequence     uint32
	ServerTime   int64 // server clock, Unix ms
	Entities     []snapshot.EntitySnapshot
	LastInputSeq uint32 // last input the server applied for this client
	Correction   *Correction
}

// Correction carries the authoritative transform the client must rewind
// to before replaying its unacknowledged inputs. Sent only when the
// server's replayed position diverged past the threshold.
type Correction struct {
	InputSeq uint32 // state below is valid immediately after this input
	X, Y     float64
	VelX     float64
	VelY     float64
}

// Ack is the client's receipt for a StateUpdate; the server derives RTT,
// loss and bandwidth ratings from these.
type Ack struct {
	Sequence   uint32
	ClientTime int64
}

// Ping and Pong measure RTT on the client's side of the link.
type Ping struct {
	Nonce      uint32
	ClientTime int64
}

type Pong struct {
	Nonce      uint32
	ClientTime int64
	ServerTime int64
}

// TimeSyncRequest and TimeSyncResponse drive the client's server-clock
// offset estimate.
type TimeSyncRequest struct {
	ClientTime int64
}

type TimeSyncResponse struct {
	ClientTime int64
	ServerTime int64
}
