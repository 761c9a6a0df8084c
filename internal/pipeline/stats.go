package pipeline

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a pipeline's connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats represents pipeline statistics
type Stats struct {
	Name               string            `json:"name"`
	Address            string            `json:"address"`
	State              State             `json:"state"`
	SessionID          string            `json:"session_id,omitempty"`
	ConnectedSince     time.Time         `json:"connected_since,omitempty"`
	ConnectAttempts    uint64            `json:"connect_attempts"`
	Connects           uint64            `json:"connects"`
	ConnectionsLost    uint64            `json:"connections_lost"`
	Frames             uint64            `json:"frames"`
	UnknownFrames      uint64            `json:"unknown_frames"`
	DecodeErrors       uint64            `json:"decode_errors"`
	DecodeErrorsByKind map[string]uint64 `json:"decode_errors_by_kind,omitempty"`
	Delivered          uint64            `json:"delivered"`
	SinkErrors         uint64            `json:"sink_errors"`
	SyncPoints         uint64            `json:"sync_points"`
	BytesRead          uint64            `json:"bytes_read"`
	LastError          string            `json:"last_error,omitempty"`
	LastErrorTime      time.Time         `json:"last_error_time,omitempty"`
}

// clone returns a copy that shares no mutable state
func (s Stats) clone() Stats {
	out := s
	if s.DecodeErrorsByKind != nil {
		out.DecodeErrorsByKind = make(map[string]uint64, len(s.DecodeErrorsByKind))
		for k, v := range s.DecodeErrorsByKind {
			out.DecodeErrorsByKind[k] = v
		}
	}
	return out
}
