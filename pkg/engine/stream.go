package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/james-see/blendmidi/pkg/codec"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/sync/errgroup"
)

// ErrNoDevice is returned when no MIDI input or output port is available
var ErrNoDevice = errors.New("no midi device found")

// StreamConfig holds the backend parameters of a live stream
type StreamConfig struct {
	InPort         string
	OutPort        string
	SampleRate     int
	BlockSize      int
	MidiBufferSize int
	QueueCapacity  int
}

// Ports lists the names of the available input and output ports
func Ports() (ins, outs []string) {
	for _, in := range midi.GetInPorts() {
		ins = append(ins, in.String())
	}
	for _, out := range midi.GetOutPorts() {
		outs = append(outs, out.String())
	}
	return ins, outs
}

// OpenPorts resolves the configured ports. Empty names pick the first port.
func OpenPorts(inName, outName string) (drivers.In, drivers.Out, error) {
	ins := midi.GetInPorts()
	outs := midi.GetOutPorts()
	if len(ins) == 0 || len(outs) == 0 {
		return nil, nil, ErrNoDevice
	}

	var in drivers.In = ins[0]
	if inName != "" {
		p, err := midi.FindInPort(inName)
		if err != nil {
			return nil, nil, fmt.Errorf("can't find input %q: %w", inName, err)
		}
		in = p
	}

	var out drivers.Out = outs[0]
	if outName != "" {
		p, err := midi.FindOutPort(outName)
		if err != nil {
			return nil, nil, fmt.Errorf("can't find output %q: %w", outName, err)
		}
		out = p
	}
	return in, out, nil
}

// Stream runs a Processor against live driver ports. Driver callbacks are
// buffered and processed once per block; a separate goroutine performs the
// blocking driver writes.
type Stream struct {
	cfg    StreamConfig
	proc   *Processor
	logger *slog.Logger
	inbox  *inbox
}

// NewStream creates a stream for proc
func NewStream(cfg StreamConfig, proc *Processor, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:    cfg,
		proc:   proc,
		logger: logger,
		inbox:  newInbox(cfg.MidiBufferSize),
	}
}

// BlockPeriod returns the wall-clock duration of one block
func (s *Stream) BlockPeriod() time.Duration {
	return time.Duration(s.cfg.BlockSize) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Run listens on in, processes blocks and writes to out until ctx is done
// or a fatal shutdown occurs.
func (s *Stream) Run(ctx context.Context, in drivers.In, out drivers.Out) error {
	s.logger.Info("midi devices", "in", in.String(), "out", out.String())

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		if !s.inbox.add(msg, timestampms) {
			s.logger.Warn("input frame dropped", "frame", fmt.Sprintf("% X", []byte(msg)))
		}
	}, midi.UseSysEx())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", in.String(), err)
	}
	defer stop()

	send, err := midi.SendTo(out)
	if err != nil {
		return fmt.Errorf("open output %s: %w", out.String(), err)
	}

	outbox := make(chan codec.RawFrame, s.cfg.QueueCapacity)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(outbox)
		return s.blocks(gctx, outbox)
	})
	g.Go(func() error {
		for f := range outbox {
			if err := send(midi.Message(f.Bytes())); err != nil {
				s.logger.Error("unable to send midi frame", "frame", f, "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	s.logger.Info("stream stopped", "dropped_inputs", s.inbox.droppedCount())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Stream) blocks(ctx context.Context, outbox chan<- codec.RawFrame) error {
	ticker := time.NewTicker(s.BlockPeriod())
	defer ticker.Stop()

	start := time.Now()
	queue := NewOutputQueue(s.cfg.QueueCapacity)
	inputs := make([][]codec.RawFrame, 1)
	var drained []codec.RawFrame
	var blockStart int32

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			inputs[0] = s.inbox.take(blockStart, s.cfg.SampleRate, s.cfg.BlockSize, inputs[0][:0])
			blockStart = int32(now.Sub(start) / time.Millisecond)

			err := s.proc.Process(Block{Inputs: inputs, Out: queue})

			drained = queue.Drain(drained[:0])
			for _, f := range drained {
				select {
				case outbox <- f:
				default:
					s.logger.Error("output port saturated, frame dropped", "frame", f)
				}
			}

			if err != nil {
				if errors.Is(err, codec.ErrFatalShutdown) {
					s.logger.Error("user pressed panic on midi device, shutting down client")
				}
				return err
			}
		}
	}
}

// DescribePorts renders the port lists for display
func DescribePorts() string {
	ins, outs := Ports()
	var b strings.Builder
	b.WriteString("Inputs:\n")
	for i, n := range ins {
		fmt.Fprintf(&b, "  [%d] %s\n", i, n)
	}
	b.WriteString("Outputs:\n")
	for i, n := range outs {
		fmt.Fprintf(&b, "  [%d] %s\n", i, n)
	}
	return b.String()
}
