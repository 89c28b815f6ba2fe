package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pranavkale/lekha/internal/database"
)

type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	modified    map[string]time.Time
	putFailures int
	putCalls    int
	deleted     []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putFailures > 0 {
		f.putFailures--
		return nil, fmt.Errorf("simulated upload failure")
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*input.Key] = data
	f.modified[*input.Key] = time.Now().UTC()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*input.Key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", *input.Key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out s3.ListObjectsV2Output
	for key, data := range f.objects {
		if input.Prefix != nil && !strings.HasPrefix(key, *input.Prefix) {
			continue
		}
		mod := f.modified[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(data))),
			LastModified: &mod,
		})
	}
	return &out, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *input.Key)
	delete(f.modified, *input.Key)
	f.deleted = append(f.deleted, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func setupManager(t *testing.T) (*Manager, *fakeS3, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := Config{
		S3: S3Config{
			Bucket:    "snapshots",
			AccessKey: "key",
			SecretKey: "secret",
		},
		DBPath:     dbPath,
		Passphrase: "snapshot-passphrase",
	}
	m := NewManager(cfg, db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	fake := newFakeS3()
	m.client = fake
	return m, fake, dbPath
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	m, fake, _ := setupManager(t)

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run snapshot: %v", err)
	}
	if !strings.HasPrefix(key, "ledger/snapshot-") {
		t.Errorf("unexpected key %q", key)
	}

	data, ok := fake.objects[key]
	if !ok {
		t.Fatal("expected uploaded object")
	}
	if bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Error("uploaded snapshot should be encrypted, found raw SQLite header")
	}

	status := m.Status()
	if status.State != StateIdle {
		t.Errorf("state = %q, want %q", status.State, StateIdle)
	}
	if status.LastSnapshot == nil {
		t.Error("expected LastSnapshot to be set")
	}
	if status.LastKey != key {
		t.Errorf("LastKey = %q, want %q", status.LastKey, key)
	}
}

func TestRunNowRetriesUpload(t *testing.T) {
	m, fake, _ := setupManager(t)
	fake.putFailures = 2

	if _, err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("run snapshot: %v", err)
	}
	if fake.putCalls != 3 {
		t.Errorf("put calls = %d, want 3", fake.putCalls)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m, _, _ := setupManager(t)

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run snapshot: %v", err)
	}

	// Restore into a fresh location to stand in for a replacement database.
	restorePath := filepath.Join(t.TempDir(), "restored.db")
	m.cfg.DBPath = restorePath

	if err := m.Restore(context.Background(), key); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := sql.Open("sqlite", restorePath)
	if err != nil {
		t.Fatalf("open restored db: %v", err)
	}
	defer restored.Close()

	var count int
	if err := restored.QueryRow("SELECT COUNT(*) FROM reward_definitions").Scan(&count); err != nil {
		t.Fatalf("query restored db: %v", err)
	}
	if count == 0 {
		t.Error("restored database should contain the seeded definitions")
	}
}

func TestRestoreUnknownKey(t *testing.T) {
	m, _, _ := setupManager(t)

	if err := m.Restore(context.Background(), "ledger/snapshot-missing.db.enc"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestPruneDeletesOnlyOldSnapshots(t *testing.T) {
	m, fake, _ := setupManager(t)

	fake.objects["ledger/snapshot-old.db.enc"] = []byte("old")
	fake.modified["ledger/snapshot-old.db.enc"] = time.Now().UTC().AddDate(0, 0, -40)
	fake.objects["ledger/snapshot-new.db.enc"] = []byte("new")
	fake.modified["ledger/snapshot-new.db.enc"] = time.Now().UTC()

	if err := m.Prune(context.Background(), 30); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if len(fake.deleted) != 1 || fake.deleted[0] != "ledger/snapshot-old.db.enc" {
		t.Errorf("deleted = %v, want only the old snapshot", fake.deleted)
	}
	if _, ok := fake.objects["ledger/snapshot-new.db.enc"]; !ok {
		t.Error("recent snapshot should survive pruning")
	}
}

func TestDisabledWithoutCredentials(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	m := NewManager(Config{}, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if m.Enabled() {
		t.Error("manager without credentials should be disabled")
	}
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected error when not configured")
	}
}

func TestListReturnsSnapshotInfo(t *testing.T) {
	m, _, _ := setupManager(t)

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run snapshot: %v", err)
	}

	infos, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(infos))
	}
	if infos[0].Key != key {
		t.Errorf("key = %q, want %q", infos[0].Key, key)
	}
	if infos[0].SizeBytes == 0 {
		t.Error("expected non-zero snapshot size")
	}
}
