package split

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

// RecursiveSplitter implements Splitter using recursive character splitting.
// It prefers paragraph, then line, then word boundaries.
type RecursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
	logger   *slog.Logger
}

var _ Splitter = (*RecursiveSplitter)(nil)

// RecursiveOption configures a RecursiveSplitter.
type RecursiveOption func(*recursiveOptions)

type recursiveOptions struct {
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger
}

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) RecursiveOption {
	return func(o *recursiveOptions) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// WithChunkOverlap sets the overlap between adjacent chunks in characters.
func WithChunkOverlap(overlap int) RecursiveOption {
	return func(o *recursiveOptions) {
		if overlap >= 0 {
			o.chunkOverlap = overlap
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RecursiveOption {
	return func(o *recursiveOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewRecursiveSplitter creates a splitter with the given options.
func NewRecursiveSplitter(opts ...RecursiveOption) *RecursiveSplitter {
	options := &recursiveOptions{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &RecursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(options.chunkSize),
			textsplitter.WithChunkOverlap(options.chunkOverlap),
		),
		logger: options.logger.With("component", "recursive-splitter"),
	}
}

// Split splits content into ordered chunk elements.
func (s *RecursiveSplitter) Split(ctx context.Context, content string, opts Options) ([]any, error) {
	parts, err := s.splitter.SplitText(content)
	if err != nil {
		s.logger.Error("failed to split document", "document", opts.Name, "err", err)
		return nil, err
	}

	s.logger.Debug("split document", "document", opts.Name, "chunks", len(parts))

	raw := make([]any, len(parts))
	for i, part := range parts {
		raw[i] = part
	}
	return raw, nil
}
