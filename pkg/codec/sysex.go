package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// SysEx constants
const (
	SysExStart = 0xF0
	SysExEnd   = 0xF7
)

// Mackie Control LCD text header: F0 00 00 66 14 12
var mackieLCDHeader = []byte{SysExStart, 0x00, 0x00, 0x66, 0x14, 0x12}

// sysexTerminated reports whether a sysex frame carries its 0xF7 terminator
func sysexTerminated(data []byte) bool {
	return len(data) >= 2 && bytes.IndexByte(data[1:], SysExEnd) >= 0
}

// ValidateSysEx checks the boundaries and 7-bit payload of a sysex message
func ValidateSysEx(data []byte) error {
	if len(data) < 2 {
		return errors.New("sysex data too short")
	}

	if data[0] != SysExStart {
		return fmt.Errorf("invalid SysEx: expected start byte 0x%02X, got 0x%02X", SysExStart, data[0])
	}

	if data[len(data)-1] != SysExEnd {
		return fmt.Errorf("invalid SysEx: expected end byte 0x%02X, got 0x%02X: %w", SysExEnd, data[len(data)-1], ErrMalformedSysex)
	}

	for i := 1; i < len(data)-1; i++ {
		if data[i] > 127 {
			return fmt.Errorf("invalid SysEx: byte at position %d is > 127 (0x%02X)", i, data[i])
		}
	}

	return nil
}

// ExtractManufacturerID extracts the manufacturer ID from SysEx data
func ExtractManufacturerID(data []byte) ([]byte, error) {
	if len(data) < 3 {
		return nil, errors.New("sysex data too short for manufacturer ID")
	}

	if data[0] != SysExStart {
		return nil, errors.New("invalid SysEx start")
	}

	// Extended IDs start with 0x00 and span three bytes
	if data[1] == 0x00 {
		if len(data) < 5 {
			return nil, errors.New("sysex data too short for extended manufacturer ID")
		}
		return data[1:4], nil
	}

	return data[1:2], nil
}

// IsMackieLCD checks if the SysEx data is a Mackie Control LCD text message
func IsMackieLCD(data []byte) bool {
	return len(data) > len(mackieLCDHeader) && bytes.HasPrefix(data, mackieLCDHeader)
}

// ParseLCDText splits a Mackie LCD message into position and text
func ParseLCDText(data []byte) (position uint8, text string, err error) {
	if err := ValidateSysEx(data); err != nil {
		return 0, "", err
	}
	if !IsMackieLCD(data) || len(data) < len(mackieLCDHeader)+2 {
		return 0, "", errors.New("not a Mackie LCD text message")
	}
	body := data[len(mackieLCDHeader) : len(data)-1]
	return body[0], string(body[1:]), nil
}

// describeSysEx extracts the manufacturer ID and Mackie LCD text of a
// terminated sysex frame
func describeSysEx(data []byte) *SysExInfo {
	info := &SysExInfo{}
	if id, err := ExtractManufacturerID(data); err == nil {
		info.Manufacturer = append([]byte(nil), id...)
	}
	if IsMackieLCD(data) {
		if pos, text, err := ParseLCDText(data); err == nil {
			info.LCD = true
			info.LCDPosition = pos
			info.Text = text
		}
	}
	return info
}
