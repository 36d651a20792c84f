package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/codec/devices"
	"github.com/james-see/blendmidi/pkg/telemetry"
	"github.com/james-see/blendmidi/pkg/trigger"
)

// ErrSessionClosed is returned by Process after a fatal shutdown until Restart
var ErrSessionClosed = errors.New("session closed after fatal shutdown")

// Block is the input of one processing call: frames per input port and
// the queue outbound frames are pushed to.
type Block struct {
	Inputs [][]codec.RawFrame
	Out    *OutputQueue
}

// EventHandler receives the decoded events of one input port per block
type EventHandler func(port int, res codec.Result)

// Options configures a Processor
type Options struct {
	Surface   devices.Surface
	BlockSize uint32
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	OnEvents  EventHandler
	Recorder  *Recorder
}

// Processor is the per-block entry point. It must be called from a single
// goroutine.
type Processor struct {
	surface     devices.Surface
	mapper      *trigger.Mapper
	initializer *devices.Initializer
	decoders    []*codec.Decoder
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	onEvents    EventHandler
	recorder    *Recorder

	blockSize uint32
	blocks    uint64
	started   bool
	halted    bool
}

// NewProcessor builds the trigger table and connect sequence once
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Surface == nil {
		return nil, errors.New("no surface configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("surface", opts.Surface.ID())

	table, err := trigger.NewTable(opts.Surface.Rules()...)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger table: %w", err)
	}

	enc := codec.NewEncoder(opts.BlockSize)
	mapper := trigger.NewMapper(table, enc, logger)
	if opts.Metrics != nil {
		mapper.CountFailures(opts.Metrics.EncodeFailures)
	}
	p := &Processor{
		surface:     opts.Surface,
		mapper:      mapper,
		initializer: devices.NewInitializer(opts.Surface, enc),
		logger:      logger,
		metrics:     opts.Metrics,
		onEvents:    opts.OnEvents,
		recorder:    opts.Recorder,
		blockSize:   opts.BlockSize,
	}

	if _, err := p.initializer.BuildConnectSequence(); err != nil {
		return nil, fmt.Errorf("invalid connect sequence: %w", err)
	}
	return p, nil
}

// Start queues the connect sequence. Process calls it on the first block.
func (p *Processor) Start(out *OutputQueue) error {
	seq, err := p.initializer.BuildConnectSequence()
	if err != nil {
		return err
	}
	for _, f := range seq {
		p.push(out, f)
	}
	p.started = true
	p.logger.Info("stream started, connect sequence queued", "frames", len(seq))
	return nil
}

// Process decodes and maps one block. It returns an error wrapping
// codec.ErrFatalShutdown when a panic byte arrives; the session then stays
// closed until Restart.
func (p *Processor) Process(b Block) error {
	if p.halted {
		return ErrSessionClosed
	}
	if !p.started {
		if err := p.Start(b.Out); err != nil {
			return err
		}
	}
	defer func() { p.blocks++ }()

	for port, frames := range b.Inputs {
		if len(frames) == 0 {
			continue
		}
		if p.metrics != nil {
			p.metrics.FramesIn.Add(float64(len(frames)))
		}

		p.triggers(frames, b.Out)

		res, err := p.decoder(port).Decode(frames)
		if p.onEvents != nil && (res.Events.Len() > 0 || len(res.Conditions) > 0) {
			p.onEvents(port, res)
		}
		if err != nil {
			p.halted = true
			if p.metrics != nil {
				p.metrics.FatalShutdowns.Inc()
			}
			return fmt.Errorf("port %d: %w", port, err)
		}
	}

	if p.metrics != nil {
		p.metrics.Blocks.Inc()
		p.metrics.QueueDepth.Set(float64(b.Out.Len()))
	}
	return nil
}

// triggers runs the mapper over frames up to the first panic byte
func (p *Processor) triggers(frames []codec.RawFrame, out *OutputQueue) {
	for _, f := range frames {
		if f.Status() == codec.StatusPanic {
			return
		}
		if p.recorder != nil {
			p.recorder.Record(p.blocks*uint64(p.blockSize)+uint64(f.Time), f)
		}
		for _, o := range p.mapper.Evaluate(f) {
			p.push(out, o)
		}
	}
}

func (p *Processor) push(out *OutputQueue, f codec.RawFrame) {
	if err := out.Push(f); err != nil {
		p.logger.Error("unable to queue midi frame", "error", err)
		if p.metrics != nil {
			p.metrics.EncodeFailures.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.FramesOut.Inc()
	}
}

func (p *Processor) decoder(port int) *codec.Decoder {
	for len(p.decoders) <= port {
		var obs codec.Observer
		if p.metrics != nil {
			obs = p.metrics
		}
		p.decoders = append(p.decoders, codec.NewDecoder(p.logger.With("port", len(p.decoders)), obs))
	}
	return p.decoders[port]
}

// Restart begins a new session: pairing state is cleared and the connect
// sequence is sent again on the next block.
func (p *Processor) Restart() {
	for _, d := range p.decoders {
		d.Reset()
	}
	p.started = false
	p.halted = false
	p.blocks = 0
	p.logger.Info("stream changed, session restarted")
}

// Halted reports whether a fatal shutdown closed the session
func (p *Processor) Halted() bool {
	return p.halted
}

// Surface returns the configured surface
func (p *Processor) Surface() devices.Surface {
	return p.surface
}
