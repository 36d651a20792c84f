package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseFrame parses hex bytes such as "B0 07 40" or "b00740" into a frame
func ParseFrame(s string, ts uint32) (RawFrame, error) {
	clean := strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "", ":", "").Replace(strings.TrimSpace(s))
	data, err := hex.DecodeString(clean)
	if err != nil {
		return RawFrame{}, fmt.Errorf("invalid hex frame %q: %w", s, err)
	}
	if len(data) == 0 {
		return RawFrame{}, fmt.Errorf("empty frame %q", s)
	}
	return NewFrame(data, ts)
}

// Hex renders the frame bytes as upper-case, space separated hex
func (f RawFrame) Hex() string {
	return fmt.Sprintf("% X", f.Bytes())
}
