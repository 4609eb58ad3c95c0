package servo

import (
	"strconv"
	"strings"
)

// CommandFrame is one serialized joint update: a fixed-order list of
// two-decimal fields.
type CommandFrame struct {
	values []float64
}

// NewFrame builds a frame from ordered values.
func NewFrame(values []float64) CommandFrame {
	return CommandFrame{values: append([]float64(nil), values...)}
}

// Values returns the raw field values.
func (f CommandFrame) Values() []float64 {
	return append([]float64(nil), f.values...)
}

// Fields returns the formatted fields.
func (f CommandFrame) Fields() []string {
	out := make([]string, len(f.values))
	for i, v := range f.values {
		out[i] = formatField(v)
	}
	return out
}

// String joins the fields with commas.
func (f CommandFrame) String() string {
	return strings.Join(f.Fields(), ",")
}

// Bytes returns the newline-terminated ASCII wire form.
func (f CommandFrame) Bytes() []byte {
	return []byte(f.String() + "\n")
}

func formatField(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}
