package pipeline

import (
	"fmt"
	"strings"
)

// Mode is the output shape selected for a capture
type Mode int

const (
	ModeText Mode = iota
	ModeMath
	ModeReceipt
)

// ParseMode parses "text", "math" or "receipt"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return ModeText, nil
	case "math":
		return ModeMath, nil
	case "receipt":
		return ModeReceipt, nil
	default:
		return ModeText, fmt.Errorf("unknown scan mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeMath:
		return "math"
	case ModeReceipt:
		return "receipt"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Phase is the coordinator's position in the capture/recognize cycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseCropping
	PhaseRecognizing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseCropping:
		return "cropping"
	case PhaseRecognizing:
		return "recognizing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
