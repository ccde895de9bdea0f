package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"cobsdaq/pkg/protocol"
)

// CSV writes one row per record: the tag followed by every scaled channel value.
type CSV struct {
	out    io.Writer
	w      *csv.Writer
	header bool
	wrote  bool
	row    []string
}

type CSVOption func(*CSV)

// WithHeader writes a "t,ch0,ch1,..." header before the first row.
func WithHeader() CSVOption {
	return func(c *CSV) {
		c.header = true
	}
}

func NewCSV(w io.Writer, opts ...CSVOption) *CSV {
	c := &CSV{
		out: w,
		w:   csv.NewWriter(w),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CSV) WriteRecord(rec protocol.SampleRecord) error {
	if c.header && !c.wrote {
		head := make([]string, 0, len(rec.Values)+1)
		head = append(head, "t")
		for i := range rec.Values {
			head = append(head, fmt.Sprintf("ch%d", i))
		}
		if err := c.w.Write(head); err != nil {
			return err
		}
	}
	c.wrote = true

	c.row = c.row[:0]
	c.row = append(c.row, formatFloat(rec.Tag))
	for _, v := range rec.Values {
		c.row = append(c.row, formatFloat(v))
	}
	return c.w.Write(c.row)
}

func (c *CSV) Flush() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	return commit(c.out)
}

func (c *CSV) Close() error {
	if err := c.Flush(); err != nil {
		_ = closeWriter(c.out)
		return err
	}
	return closeWriter(c.out)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
