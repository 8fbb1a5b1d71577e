package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Batch is one envelope document fetched from a Source.
type Batch struct {
	// ID is the source's handle for the batch, e.g. a file name.
	ID   string
	Data []byte
}

// Source delivers envelope documents to the pipeline. Ack is called once a
// batch has been processed; Reject is called for a batch whose envelope
// cannot be read at all.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Batch, error)
	Ack(ctx context.Context, b Batch) error
	Reject(ctx context.Context, b Batch, reason error) error
}

// RejectedDir is the subdirectory of the processed directory that receives
// rejected batches.
const RejectedDir = "rejected"

// DirSource reads *.xml envelopes from an inbox directory. Acknowledged files
// move to the processed directory; rejected ones to processed/rejected.
type DirSource struct {
	inbox     string
	processed string
}

// NewDirSource returns a DirSource. Both directories are created on demand.
func NewDirSource(inbox, processed string) (*DirSource, error) {
	if inbox == "" || processed == "" {
		return nil, errors.New("ingest: inbox and processed directories are required")
	}
	if filepath.Clean(inbox) == filepath.Clean(processed) {
		return nil, errors.New("ingest: inbox and processed directories must differ")
	}
	return &DirSource{inbox: inbox, processed: processed}, nil
}

func (s *DirSource) Name() string { return "dir:" + s.inbox }

// Fetch reads every envelope currently in the inbox, in file name order.
// A missing inbox yields no batches.
func (s *DirSource) Fetch(ctx context.Context) ([]Batch, error) {
	entries, err := os.ReadDir(s.inbox)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	batches := make([]Batch, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.inbox, name))
		if err != nil {
			return nil, fmt.Errorf("ingest: read %s: %w", name, err)
		}
		batches = append(batches, Batch{ID: name, Data: data})
	}
	return batches, nil
}

// Ack moves the batch file to the processed directory.
func (s *DirSource) Ack(_ context.Context, b Batch) error {
	return s.move(b.ID, s.processed)
}

// Reject moves the batch file to the rejected directory.
func (s *DirSource) Reject(_ context.Context, b Batch, _ error) error {
	return s.move(b.ID, filepath.Join(s.processed, RejectedDir))
}

func (s *DirSource) move(name, dir string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("ingest: invalid batch id %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create %s: %w", dir, err)
	}
	if err := os.Rename(filepath.Join(s.inbox, name), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("ingest: move %s: %w", name, err)
	}
	return nil
}
