package protocol

import "errors"

var (
	ErrUnknownFrame   = errors.New("unrecognized frame tag")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFrameTooLarge  = errors.New("frame exceeds size limit")
)
