package engine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"cobsdaq/pkg/observability"
	"cobsdaq/pkg/protocol"
)

// Sink persists records. WriteRecord is followed by Flush for every record,
// so an abrupt stop loses at most the record being written.
type Sink interface {
	WriteRecord(rec protocol.SampleRecord) error
	Flush() error
	Close() error
}

// Status is a point-in-time view of a running session.
type Status struct {
	State   protocol.State
	Stats   protocol.Stats
	Records uint64
	LastSeq uint64
}

// Acquisition drives one session: byte source -> synchronizer -> sink.
// The source and sink belong to the session and are closed by Run.
type Acquisition struct {
	src     io.Reader
	sink    Sink
	cfg     protocol.Config
	hub     *Hub
	logger  zerolog.Logger
	metrics *observability.Metrics
	onDiag  func(protocol.Diagnostic)
	status  atomic.Pointer[Status]
}

type Option func(*Acquisition)

// WithHub publishes records, live samples and diagnostics to hub.
func WithHub(hub *Hub) Option {
	return func(a *Acquisition) {
		a.hub = hub
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Acquisition) {
		a.logger = logger
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Acquisition) {
		a.metrics = m
	}
}

// WithDiagnosticHandler is called for every discarded frame, after logging.
func WithDiagnosticHandler(fn func(protocol.Diagnostic)) Option {
	return func(a *Acquisition) {
		a.onDiag = fn
	}
}

func NewAcquisition(src io.Reader, sink Sink, cfg protocol.Config, opts ...Option) (*Acquisition, error) {
	if sink == nil {
		return nil, errors.New("nil sink")
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = protocol.DefaultBufferCapacity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Acquisition{
		src:    src,
		sink:   sink,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.status.Store(&Status{State: protocol.StateResyncing})
	return a, nil
}

// Status returns the latest snapshot. Safe to call from any goroutine.
func (a *Acquisition) Status() Status {
	return *a.status.Load()
}

// Run acquires until ctx is cancelled or a transport or sink error occurs.
// Cancellation is observed between steps; a blocked read is not interrupted.
// On return the sink has been flushed and closed and the source released.
func (a *Acquisition) Run(ctx context.Context) (err error) {
	seq := protocol.NewSequencer(a.cfg)
	sync, err := protocol.NewSynchronizer(a.src, a.cfg,
		protocol.WithDiagnosticHandler(func(d protocol.Diagnostic) {
			seq.Discard()
			a.diagnostic(d)
		}),
	)
	if err != nil {
		a.release()
		return err
	}

	a.logger.Info().
		Int("frame_len", a.cfg.EncodedFrameLength).
		Int("payload_len", a.cfg.ExpectedPayloadLength).
		Int("channels", a.cfg.ChannelCount).
		Int("sample_width", a.cfg.SampleWidth).
		Stringer("timebase", a.cfg.Timebase).
		Msg("acquisition started")

	var records uint64
	defer func() {
		if cerr := a.release(); cerr != nil && err == nil {
			err = cerr
		}
		st := sync.Stats()
		a.logger.Info().
			Uint64("records", records).
			Uint64("framing_errors", st.FramingErrors).
			Uint64("decode_errors", st.DecodeErrors).
			Uint64("length_mismatch", st.LengthMismatch).
			Uint64("resync_bytes", st.DiscardedBytes).
			Err(err).
			Msg("acquisition stopped")
	}()

	for {
		discardedBefore := sync.Stats().DiscardedBytes
		res, err := sync.Step()
		if err != nil {
			return err
		}
		if a.metrics != nil {
			if d := sync.Stats().DiscardedBytes - discardedBefore; d > 0 {
				a.metrics.DiscardedBytes.Add(float64(d))
			}
		}

		if res.Payload != nil {
			rec := seq.Next(protocol.Assemble(res.Payload, a.cfg))
			if err := a.commit(rec); err != nil {
				return err
			}
			records++
			a.publish(rec)
		}
		if res.Payload != nil || res.Diagnostic != nil {
			a.status.Store(&Status{
				State:   sync.State(),
				Stats:   sync.Stats(),
				Records: records,
				LastSeq: seq.Current(),
			})
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *Acquisition) commit(rec protocol.SampleRecord) error {
	start := time.Now()
	if err := a.sink.WriteRecord(rec); err != nil {
		return &protocol.SinkError{Seq: rec.Seq, Err: err}
	}
	if err := a.sink.Flush(); err != nil {
		return &protocol.SinkError{Seq: rec.Seq, Err: err}
	}
	if a.metrics != nil {
		a.metrics.RecordCommit(time.Since(start))
	}
	return nil
}

func (a *Acquisition) publish(rec protocol.SampleRecord) {
	if a.hub == nil {
		return
	}
	a.hub.TryPublish(Event{Record: &rec})
	if live, ok := protocol.Selected(rec, a.cfg); ok {
		a.hub.TryPublish(Event{Live: &live})
	}
}

func (a *Acquisition) diagnostic(d protocol.Diagnostic) {
	ev := a.logger.Warn().
		Str("kind", d.Kind.String()).
		Int("length", d.Length)
	if d.Kind == protocol.KindLengthMismatch {
		ev = ev.Int("expected", a.cfg.ExpectedPayloadLength)
	}
	ev.Err(d.Err).Msg("frame discarded")

	if a.metrics != nil {
		a.metrics.RecordDiscard(d.Kind.String())
	}
	if a.hub != nil {
		a.hub.TryPublish(Event{Diagnostic: &d})
	}
	if a.onDiag != nil {
		a.onDiag(d)
	}
}

// release flushes and closes the sink and closes the source if it can be closed.
func (a *Acquisition) release() error {
	var errs []error
	if err := a.sink.Flush(); err != nil {
		errs = append(errs, &protocol.SinkError{Err: err})
	}
	if err := a.sink.Close(); err != nil {
		errs = append(errs, &protocol.SinkError{Err: err})
	}
	if c, ok := a.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, &protocol.TransportError{Err: err})
		}
	}
	return errors.Join(errs...)
}
