package records

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/starford/arvore/internal/checksum"
	"github.com/starford/arvore/internal/storage"
)

// Recorder wraps a Source and writes every person it returns as a fixture
// file, so live lookups can be replayed later through a FileSource. A file
// is only rewritten when its content changes.
type Recorder struct {
	next   Source
	store  storage.Provider
	logger *slog.Logger

	mu      sync.Mutex
	written map[string]string // file name -> checksum of the last content on disk
}

var _ Source = (*Recorder)(nil)

// NewRecorder wraps next, writing fixtures into store.
func NewRecorder(next Source, store storage.Provider, logger *slog.Logger) *Recorder {
	return &Recorder{next: next, store: store, logger: logger, written: make(map[string]string)}
}

func (r *Recorder) LookupByIdentifier(ctx context.Context, id string) (*Person, error) {
	p, err := r.next.LookupByIdentifier(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		r.logger.Warn("records: encode fixture failed", slog.String("cpf", id), slog.String("error", err.Error()))
		return p, nil
	}
	if err := r.record(FileName(string(p.CPF)), append(data, '\n')); err != nil {
		r.logger.Warn("records: write fixture failed", slog.String("cpf", id), slog.String("error", err.Error()))
	}
	return p, nil
}

func (r *Recorder) LookupChildren(ctx context.Context, parentName string, role ParentRole) ([]Child, error) {
	return r.next.LookupChildren(ctx, parentName, role)
}

// record writes content to name unless the file already holds it.
func (r *Recorder) record(name string, content []byte) error {
	sum := checksum.Sum(content)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.written[name] == sum {
		return nil
	}
	if existing, err := r.store.Read(name); err == nil && checksum.Sum(existing) == sum {
		r.written[name] = sum
		return nil
	}
	if err := r.store.Write(name, content); err != nil {
		return err
	}
	r.written[name] = sum
	return nil
}
