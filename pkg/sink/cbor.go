package sink

import (
	"io"

	"github.com/fxamacker/cbor/v2"

	"cobsdaq/pkg/protocol"
)

// CBOR writes records as a CBOR sequence (RFC 8742) with deterministic encoding.
type CBOR struct {
	out io.Writer
	enc *cbor.Encoder
}

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sink: CBOR encoder initialization failed: " + err.Error())
	}
}

func NewCBOR(w io.Writer) *CBOR {
	return &CBOR{
		out: w,
		enc: cborEncMode.NewEncoder(w),
	}
}

func (c *CBOR) WriteRecord(rec protocol.SampleRecord) error {
	return c.enc.Encode(rec)
}

func (c *CBOR) Flush() error { return commit(c.out) }

func (c *CBOR) Close() error { return closeWriter(c.out) }
