package converter

import (
	"context"
	"io"
	"testing"
)

// fakeStorage is a StorageClient that records deletions.
type fakeStorage struct {
	deleted []string
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return f.GetPublicURL(key), nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func TestFitzCleanup_RemovesUploadedAssets(t *testing.T) {
	fs := &fakeStorage{}
	conv := NewFitzConverter(fs)

	conv.cleanup([]string{"assets/doc-1/page-1.png", "assets/doc-1/page-2.png"})

	if len(fs.deleted) != 2 {
		t.Fatalf("expected 2 deletions, got %d", len(fs.deleted))
	}
	if fs.deleted[0] != "assets/doc-1/page-1.png" || fs.deleted[1] != "assets/doc-1/page-2.png" {
		t.Errorf("unexpected keys: %v", fs.deleted)
	}
}

func TestFitzCleanup_NilStorageIsNoop(t *testing.T) {
	NewFitzConverter(nil).cleanup([]string{"assets/doc-1/page-1.png"})
}
