package protocol

import (
	"encoding/binary"
	"fmt"
)

// Assemble turns a validated payload into a record. The payload length must be
// ChannelCount*SampleWidth; the synchronizer guarantees this before calling.
// Seq and Tag are left for the Sequencer.
func Assemble(payload []byte, cfg Config) SampleRecord {
	if len(payload) != cfg.ChannelCount*cfg.SampleWidth {
		panic(fmt.Sprintf("protocol: assemble %d byte payload for %d x %d layout",
			len(payload), cfg.ChannelCount, cfg.SampleWidth))
	}

	rec := SampleRecord{
		Raw:    make([]uint32, cfg.ChannelCount),
		Values: make([]float64, cfg.ChannelCount),
	}
	for ch := 0; ch < cfg.ChannelCount; ch++ {
		group := payload[ch*cfg.SampleWidth : (ch+1)*cfg.SampleWidth]
		var raw uint32
		switch cfg.SampleWidth {
		case 2:
			raw = uint32(binary.BigEndian.Uint16(group))
		case 4:
			raw = binary.BigEndian.Uint32(group)
		}
		rec.Raw[ch] = raw
		rec.Values[ch] = float64(raw) * cfg.scale(ch)
	}
	return rec
}

// Selected returns the configured live channel of rec.
func Selected(rec SampleRecord, cfg Config) (LiveSample, bool) {
	ch := cfg.SelectedChannel
	if ch < 0 || ch >= len(rec.Values) {
		return LiveSample{}, false
	}
	return LiveSample{
		Seq:     rec.Seq,
		Tag:     rec.Tag,
		Channel: ch,
		Value:   rec.Values[ch],
	}, true
}

// Sequencer numbers accepted records. It never resets within a session.
type Sequencer struct {
	cfg Config
	seq uint64
}

func NewSequencer(cfg Config) *Sequencer {
	return &Sequencer{cfg: cfg}
}

// Next assigns the next sequence number and tag to rec.
func (s *Sequencer) Next(rec SampleRecord) SampleRecord {
	s.seq++
	rec.Seq = s.seq
	rec.Tag = s.tag(s.seq)
	return rec
}

// Discard records a dropped frame. The counter only moves when the session
// keeps alignment with the sampling clock, and never before the first record.
func (s *Sequencer) Discard() {
	if s.cfg.AdvanceOnDiscard && s.seq > 0 {
		s.seq++
	}
}

func (s *Sequencer) Current() uint64 { return s.seq }

func (s *Sequencer) tag(seq uint64) float64 {
	if s.cfg.Timebase == TimebaseElapsed {
		return float64(seq) * s.cfg.Step
	}
	return float64(seq)
}
