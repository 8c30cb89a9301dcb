// pkg/packet/errors.go
package packet

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies a malformed frame
type DecodeErrorKind int

const (
	TooShort DecodeErrorKind = iota + 1
	BadMarker
	Truncated
)

func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "too short"
	case BadMarker:
		return "bad marker"
	case Truncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// DecodeError describes why a frame could not be decoded
type DecodeError struct {
	Kind   DecodeErrorKind
	Have   int
	Want   int
	Marker uint16
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case BadMarker:
		return fmt.Sprintf("decode packet: bad marker 0x%04X, want 0x%04X", e.Marker, Marker)
	case TooShort:
		return fmt.Sprintf("decode packet: too short: %d bytes, need at least %d", e.Have, e.Want)
	case Truncated:
		return fmt.Sprintf("decode packet: truncated: %d payload bytes available, %d declared", e.Have, e.Want)
	default:
		return "decode packet: " + e.Kind.String()
	}
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, &DecodeError{Kind: Truncated}).
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsDecodeError reports whether err is a DecodeError of the given kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}
