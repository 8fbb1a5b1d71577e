package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNewDirSource_Validation(t *testing.T) {
	if _, err := NewDirSource("", "out"); err == nil {
		t.Error("expected error for empty inbox")
	}
	if _, err := NewDirSource("in", ""); err == nil {
		t.Error("expected error for empty processed dir")
	}
	if _, err := NewDirSource("same/", "same"); err == nil {
		t.Error("expected error when inbox and processed are the same directory")
	}
}

func TestDirSource_Fetch(t *testing.T) {
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	writeFile(t, inbox, "b.xml", []byte("<b/>"))
	writeFile(t, inbox, "a.XML", []byte("<a/>"))
	writeFile(t, inbox, "notes.txt", []byte("ignored"))
	if err := os.MkdirAll(filepath.Join(inbox, "sub.xml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	src, err := NewDirSource(inbox, filepath.Join(root, "done"))
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	batches, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].ID != "a.XML" || string(batches[0].Data) != "<a/>" {
		t.Errorf("unexpected first batch %+v", batches[0])
	}
	if batches[1].ID != "b.xml" {
		t.Errorf("expected b.xml second, got %s", batches[1].ID)
	}
	if src.Name() != "dir:"+inbox {
		t.Errorf("unexpected name %s", src.Name())
	}
}

func TestDirSource_FetchMissingInbox(t *testing.T) {
	root := t.TempDir()
	src, _ := NewDirSource(filepath.Join(root, "nope"), filepath.Join(root, "done"))
	batches, err := src.Fetch(context.Background())
	if err != nil || len(batches) != 0 {
		t.Fatalf("expected no batches and no error, got %d / %v", len(batches), err)
	}
}

func TestDirSource_AckAndReject(t *testing.T) {
	root := t.TempDir()
	inbox, done := filepath.Join(root, "inbox"), filepath.Join(root, "done")
	writeFile(t, inbox, "ok.xml", []byte("<ok/>"))
	writeFile(t, inbox, "bad.xml", []byte("<bad"))

	src, _ := NewDirSource(inbox, done)
	ctx := context.Background()
	if err := src.Ack(ctx, Batch{ID: "ok.xml"}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := src.Reject(ctx, Batch{ID: "bad.xml"}, errors.New("malformed")); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if exists(filepath.Join(inbox, "ok.xml")) || !exists(filepath.Join(done, "ok.xml")) {
		t.Error("expected ok.xml moved to the processed directory")
	}
	if !exists(filepath.Join(done, RejectedDir, "bad.xml")) {
		t.Error("expected bad.xml moved to the rejected directory")
	}

	if err := src.Ack(ctx, Batch{ID: "../escape.xml"}); err == nil {
		t.Error("expected error for a batch id outside the inbox")
	}
	if err := src.Ack(ctx, Batch{ID: "gone.xml"}); err == nil {
		t.Error("expected error acknowledging a missing file")
	}
}

func TestPipeline_RunDirSource(t *testing.T) {
	root := t.TempDir()
	inbox, done := filepath.Join(root, "inbox"), filepath.Join(root, "done")
	writeFile(t, inbox, "001.xml", envelopeDoc(
		envMsg{"R1", labMessage("C1", "2.5.1")},
		envMsg{"R2", "garbage"},
	))
	writeFile(t, inbox, "002.xml", []byte("<Batch><Message>"))
	writeFile(t, inbox, "003.xml", envelopeDoc(envMsg{"R1", labMessage("C1", "2.5.1")}))

	f := newFixture(t, nil)
	src, err := NewDirSource(inbox, done)
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}

	sum, err := f.pipeline.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := RunSummary{Batches: 3, Rejected: 1, Messages: 3, Stored: 1, Duplicates: 1, Failed: 1}
	if sum != want {
		t.Errorf("expected %+v, got %+v", want, sum)
	}

	for _, name := range []string{"001.xml", "003.xml"} {
		if !exists(filepath.Join(done, name)) {
			t.Errorf("expected %s acknowledged", name)
		}
	}
	if !exists(filepath.Join(done, RejectedDir, "002.xml")) {
		t.Error("expected 002.xml rejected")
	}
	if got := f.metricValue(t, "hl7ingest_messages_failed_total", `stage="envelope"`); got != "1" {
		t.Errorf("expected one envelope failure counted, got %q", got)
	}

	// The inbox is now empty.
	sum, err = f.pipeline.Run(context.Background(), src)
	if err != nil || sum.Batches != 0 {
		t.Errorf("expected an empty second pass, got %+v / %v", sum, err)
	}
}

type brokenSource struct{}

func (brokenSource) Name() string { return "broken" }
func (brokenSource) Fetch(context.Context) ([]Batch, error) {
	return nil, errors.New("permission denied")
}
func (brokenSource) Ack(context.Context, Batch) error           { return nil }
func (brokenSource) Reject(context.Context, Batch, error) error { return nil }

func TestPipeline_RunFetchError(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.pipeline.Run(context.Background(), brokenSource{}); err == nil {
		t.Fatal("expected fetch error")
	}
}
