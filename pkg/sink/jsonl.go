package sink

import (
	"encoding/json"
	"io"
	"time"

	"cobsdaq/pkg/protocol"
)

// JSONL writes one JSON object per line.
type JSONL struct {
	out io.Writer
	enc *json.Encoder
	now func() time.Time
}

type jsonRecord struct {
	TS     string    `json:"ts"`
	Seq    uint64    `json:"seq"`
	Tag    float64   `json:"t"`
	Raw    []uint32  `json:"raw"`
	Values []float64 `json:"values"`
}

func NewJSONL(w io.Writer) *JSONL {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONL{
		out: w,
		enc: enc,
		now: time.Now,
	}
}

func (j *JSONL) WriteRecord(rec protocol.SampleRecord) error {
	return j.enc.Encode(jsonRecord{
		TS:     j.now().UTC().Format(time.RFC3339Nano),
		Seq:    rec.Seq,
		Tag:    rec.Tag,
		Raw:    rec.Raw,
		Values: rec.Values,
	})
}

func (j *JSONL) Flush() error { return commit(j.out) }

func (j *JSONL) Close() error { return closeWriter(j.out) }
