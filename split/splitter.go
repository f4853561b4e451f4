package split

import (
	"context"
	"fmt"
	"strings"
)

// Splitter splits document content into ordered chunks.
// Implementations must be thread-safe for concurrent use.
//
// Split results are heterogeneous at the boundary: an element may be a plain
// string or an object carrying a content field. Callers normalize the result
// exactly once with Normalize and work with []Chunk afterwards.
type Splitter interface {
	// Split splits content into an ordered list of raw chunk elements.
	// The document name is advisory (logging, heading context).
	Split(ctx context.Context, content string, opts Options) ([]any, error)
}

// Options holds optional parameters for splitting.
type Options struct {
	// Name is the source document name.
	Name string
}

// Chunk is the single normalized shape for splitter output.
type Chunk struct {
	Content string
}

// Piece is an object-shaped splitter element carrying its text in Content.
// Splitters that attach metadata to chunks return this shape.
type Piece struct {
	Content  string
	Metadata map[string]string
}

// Normalize converts a heterogeneous splitter result into ordered chunks.
// Accepted element shapes: string, Chunk, *Chunk, Piece, *Piece.
// Empty or whitespace-only elements are dropped; order is preserved.
func Normalize(raw []any) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(raw))
	for i, element := range raw {
		var content string
		switch v := element.(type) {
		case string:
			content = v
		case Chunk:
			content = v.Content
		case *Chunk:
			if v == nil {
				continue
			}
			content = v.Content
		case Piece:
			content = v.Content
		case *Piece:
			if v == nil {
				continue
			}
			content = v.Content
		default:
			return nil, fmt.Errorf("%w: element %d is %T", ErrUnsupportedChunkShape, i, element)
		}

		if strings.TrimSpace(content) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: content})
	}
	return chunks, nil
}
