package split

import "errors"

var (
	// ErrUnsupportedChunkShape indicates a splitter element that is neither
	// a plain string nor a content-carrying object.
	ErrUnsupportedChunkShape = errors.New("unsupported chunk shape")
)
