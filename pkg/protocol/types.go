package protocol

// SampleRecord is one decoded multi-channel measurement.
type SampleRecord struct {
	// Seq is the session-scoped record number, starting at 1.
	Seq uint64 `json:"seq" cbor:"1,keyasint"`
	// Tag is Seq in index mode or Seq*Step seconds in elapsed mode.
	Tag    float64   `json:"t" cbor:"2,keyasint"`
	Raw    []uint32  `json:"raw" cbor:"3,keyasint"`
	Values []float64 `json:"values" cbor:"4,keyasint"`
}

// LiveSample is the selected-channel view of a record.
type LiveSample struct {
	Seq     uint64  `json:"seq"`
	Tag     float64 `json:"t"`
	Channel int     `json:"channel"`
	Value   float64 `json:"value"`
}

// State is the synchronizer automaton state.
type State int

const (
	StateResyncing State = iota
	StateIdle
	StateFraming
)

func (s State) String() string {
	switch s {
	case StateResyncing:
		return "resyncing"
	case StateIdle:
		return "idle"
	case StateFraming:
		return "framing"
	default:
		return "unknown"
	}
}

// DiagnosticKind classifies a discarded frame.
type DiagnosticKind int

const (
	KindFraming DiagnosticKind = iota + 1
	KindDecode
	KindLengthMismatch
)

func (k DiagnosticKind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindDecode:
		return "decode"
	case KindLengthMismatch:
		return "length_mismatch"
	default:
		return "unknown"
	}
}

// Diagnostic describes one discarded frame.
type Diagnostic struct {
	Kind DiagnosticKind
	// Length is the decoded length for length mismatches, otherwise the
	// number of buffered frame bytes.
	Length int
	Err    error
}

// Stats counts synchronizer activity for a session.
type Stats struct {
	Frames          uint64
	FramingErrors   uint64
	DecodeErrors    uint64
	LengthMismatch  uint64
	DiscardedBytes  uint64
	RedundantDelims uint64
}

// Discarded is the number of frames dropped for any reason.
func (s Stats) Discarded() uint64 {
	return s.FramingErrors + s.DecodeErrors + s.LengthMismatch
}
