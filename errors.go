package astibits

import "github.com/pkg/errors"

// Errors
var (
	ErrBufferExhausted              = errors.New("astibits: buffer exhausted")
	ErrCapacityExceeded             = errors.New("astibits: capacity exceeded")
	ErrInvalidBitCount              = errors.New("astibits: bit count must be between 1 and 64")
	ErrMalformedLength              = errors.New("astibits: malformed length")
	ErrNoMorePackets                = errors.New("astibits: no more packets")
	ErrPacketMustStartWithASyncByte = errors.New("astibits: packet must start with a sync byte")
)

// ErrorKind classifies a decoding failure for diagnostics
type ErrorKind int

// Error kinds
const (
	ErrorKindNone ErrorKind = iota
	ErrorKindBufferExhausted
	ErrorKindMalformedLength
	ErrorKindCapacityExceeded
	ErrorKindBadSync
	ErrorKindInvalidBitCount
	ErrorKindOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindBufferExhausted:
		return "buffer_exhausted"
	case ErrorKindMalformedLength:
		return "malformed_length"
	case ErrorKindCapacityExceeded:
		return "capacity_exceeded"
	case ErrorKindBadSync:
		return "bad_sync"
	case ErrorKindInvalidBitCount:
		return "invalid_bit_count"
	default:
		return "other"
	}
}

// KindOf returns the kind of a decoding error. A nil error is of kind ErrorKindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrBufferExhausted):
		return ErrorKindBufferExhausted
	case errors.Is(err, ErrMalformedLength):
		return ErrorKindMalformedLength
	case errors.Is(err, ErrCapacityExceeded):
		return ErrorKindCapacityExceeded
	case errors.Is(err, ErrPacketMustStartWithASyncByte):
		return ErrorKindBadSync
	case errors.Is(err, ErrInvalidBitCount):
		return ErrorKindInvalidBitCount
	default:
		return ErrorKindOther
	}
}
