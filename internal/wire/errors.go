package wire

import "errors"

// DecodeError kinds. The codec must surface ErrUnknownDiscriminant rather than silently
// defaulting whenever it meets a discriminant byte it does not recognize.
var (
	ErrBadMagic           = errors.New("wire: bad magic")
	ErrTruncatedFrame     = errors.New("wire: truncated frame")
	ErrVersionMismatch    = errors.New("wire: unsupported version")
	ErrUnknownDiscriminant = errors.New("wire: unknown discriminant")
)
