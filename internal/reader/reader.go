package reader

import (
	"context"
	"fmt"

	"NewsDesk/internal/domain"
)

// Request carries all parameters required to read one source.
type Request struct {
	SourceID string
	Channel  string
	// AfterID asks for messages strictly newer than this upstream id.
	// Zero means "latest page", used by the bootstrap path.
	AfterID int64
	Limit   int
}

// Reader captures a single source-read strategy (channel preview, API, etc.).
// Implementations return messages ordered oldest first with ascending ids.
type Reader interface {
	Name() string
	Read(ctx context.Context, req Request) ([]domain.OriginMessage, error)
}

// Registry keeps a mapping from reader names to their implementations.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{readers: map[string]Reader{}}
}

// Register adds or replaces a reader implementation.
func (r *Registry) Register(reader Reader) {
	if r.readers == nil {
		r.readers = map[string]Reader{}
	}
	r.readers[reader.Name()] = reader
}

// Resolve returns a reader by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Reader, error) {
	if reader, ok := r.readers[name]; ok {
		return reader, nil
	}
	return nil, fmt.Errorf("reader %s is not registered", name)
}
