// Package trigger remaps incoming frames to outbound frames through a
// static rule table.
package trigger

import (
	"fmt"
	"log/slog"

	"github.com/james-see/blendmidi/pkg/codec"
)

// ValueMode selects how a rule computes its output value
type ValueMode int

const (
	// Fixed always sends Rule.Target
	Fixed ValueMode = iota
	// Passthrough forwards the last data byte of the input, normalized
	Passthrough
)

// String returns the mode name
func (m ValueMode) String() string {
	if m == Passthrough {
		return "passthrough"
	}
	return "fixed"
}

// Rule maps an exact input pattern to one output frame
type Rule struct {
	Label   string
	Pattern []byte
	Status  byte
	Mode    ValueMode
	Target  float64 // used by Fixed
}

// Value computes the normalized output value for a matching frame
func (r Rule) Value(f codec.RawFrame) float64 {
	if r.Mode == Passthrough {
		if f.Len < 2 {
			return 0
		}
		return float64(f.Data[f.Len-1]&0x7F) / 127.0
	}
	return r.Target
}

// Table is an immutable, validated rule set shared read-only
type Table struct {
	rules []Rule
}

// NewTable validates rules and freezes them into a Table
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{rules: make([]Rule, 0, len(rules))}
	for i, r := range rules {
		if len(r.Pattern) == 0 || len(r.Pattern) > codec.FrameCapacity {
			return nil, fmt.Errorf("rule %d (%s): pattern length %d out of range", i, r.Label, len(r.Pattern))
		}
		if r.Pattern[0]&0x80 == 0 {
			return nil, fmt.Errorf("rule %d (%s): pattern does not start with a status byte", i, r.Label)
		}
		if r.Status&0x80 == 0 {
			return nil, fmt.Errorf("rule %d (%s): output status 0x%02X is not a status byte", i, r.Label, r.Status)
		}
		if r.Mode == Fixed && (r.Target < 0 || r.Target > 1) {
			return nil, fmt.Errorf("rule %d (%s): target %v not in [0,1]", i, r.Label, r.Target)
		}
		r.Pattern = append([]byte(nil), r.Pattern...)
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Rules returns a copy of the table's rules
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules
func (t *Table) Len() int {
	return len(t.rules)
}

// Counter is incremented for every trigger frame the encoder rejects.
// prometheus.Counter satisfies it.
type Counter interface {
	Inc()
}

// Mapper evaluates frames against a Table
type Mapper struct {
	table    *Table
	encoder  *codec.Encoder
	logger   *slog.Logger
	failures Counter
}

// NewMapper creates a Mapper. A nil logger falls back to slog.Default().
func NewMapper(table *Table, encoder *codec.Encoder, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = &Table{}
	}
	return &Mapper{table: table, encoder: encoder, logger: logger}
}

// CountFailures sets the counter for rejected frames. Call it before the
// mapper is shared.
func (m *Mapper) CountFailures(c Counter) *Mapper {
	m.failures = c
	return m
}

// Evaluate returns one output frame per matching rule, in table order.
// Frames the encoder rejects are logged and dropped.
func (m *Mapper) Evaluate(f codec.RawFrame) []codec.RawFrame {
	var out []codec.RawFrame
	for i := range m.table.rules {
		r := &m.table.rules[i]
		if !f.Equal(r.Pattern) {
			continue
		}
		lsb, msb := codec.ValueToWireBytes(r.Value(f))
		frame, err := m.encoder.BuildFrame(r.Status, []byte{lsb, msb}, f.Time)
		if err != nil {
			m.logger.Error("unable to make frame for trigger", "rule", r.Label, "error", err)
			if m.failures != nil {
				m.failures.Inc()
			}
			continue
		}
		m.logger.Debug("event trigger", "rule", r.Label, "out", frame)
		out = append(out, frame)
	}
	return out
}

// EvaluateAll runs Evaluate over a batch and concatenates the results
func (m *Mapper) EvaluateAll(frames []codec.RawFrame) []codec.RawFrame {
	var out []codec.RawFrame
	for _, f := range frames {
		out = append(out, m.Evaluate(f)...)
	}
	return out
}
