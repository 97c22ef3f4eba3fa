package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/mercado/internal/database"
	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

// fakeSource stands in for the state store.
type fakeSource struct {
	mu sync.Mutex
	st model.State
}

func (f *fakeSource) Snapshot() model.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Clone()
}

func (f *fakeSource) Replace(st model.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = st.Clone()
}

var testS3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}

func setupManager(t *testing.T, cb StatusCallback) (*Manager, *mockS3Client, *fakeSource) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	src := &fakeSource{st: model.State{
		Items:   []model.MarketItem{{ID: "a", Name: "Arroz", Quantity: 1, Price: 25, Category: model.CategoryGrocery}},
		Budget:  420,
		History: []model.ShoppingTrip{},
	}}
	m := NewManager(Config{S3: testS3, Passphrase: "senha"}, store.NewBackupStore(db), src, slog.Default(), cb)
	mock := newMockS3()
	m.client = mock
	return m, mock, src
}

func TestManagerStateLifecycle(t *testing.T) {
	m := NewManager(Config{}, nil, nil, slog.Default(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// Credentials without a passphrase stay disabled
	m = NewManager(Config{S3: testS3}, nil, nil, slog.Default(), nil)
	if m.Enabled() {
		t.Error("manager without passphrase should be disabled")
	}

	m = NewManager(Config{S3: testS3, Passphrase: "p"}, nil, nil, slog.Default(), nil)
	if m.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m.Status().State, StateIdle)
	}
}

func TestRunNowAndRestore(t *testing.T) {
	var mu sync.Mutex
	var states []State
	m, mock, src := setupManager(t, func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	ctx := context.Background()

	record, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.SizeBytes == 0 || record.Size == "" {
		t.Errorf("size not recorded: %+v", record)
	}
	if mock.count() != 1 {
		t.Fatalf("objects = %d, want 1", mock.count())
	}
	if strings.Contains(string(mock.objects[record.ObjectKey]), "Arroz") {
		t.Error("uploaded object is not encrypted")
	}
	if m.Status().LastBackup == nil {
		t.Error("last backup not set")
	}

	src.Replace(model.NewState(1))
	if err := m.Restore(ctx, record.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := src.Snapshot()
	if got.Budget != 420 || len(got.Items) != 1 || got.Items[0].Name != "Arroz" {
		t.Errorf("restored state = %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("callback states = %v", states)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, _ := setupManager(t, nil)
	mock.putErr = errors.New("bucket gone")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want error", m.Status().State)
	}

	list, err := m.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != model.BackupStatusFailed || list[0].ErrorMessage != "bucket gone" {
		t.Errorf("records = %+v", list)
	}

	if err := m.Restore(context.Background(), list[0].ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("restore failed backup err = %v, want ErrNotCompleted", err)
	}
}

func TestRestoreErrors(t *testing.T) {
	m, _, src := setupManager(t, nil)
	ctx := context.Background()

	if err := m.Restore(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	record, _ := m.RunNow(ctx)
	m.cfg.Passphrase = "errada"
	src.Replace(model.NewState(7))
	if err := m.Restore(ctx, record.ID); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
	if src.Snapshot().Budget != 7 {
		t.Error("failed restore must leave state unchanged")
	}

	disabled := NewManager(Config{}, nil, nil, slog.Default(), nil)
	if err := disabled.Restore(ctx, 1); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
	if _, err := disabled.RunNow(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, mock, _ := setupManager(t, nil)
	ctx := context.Background()

	if _, err := m.RunNow(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Nothing is older than the retention window yet
	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if mock.count() != 1 {
		t.Fatalf("objects = %d, want 1", mock.count())
	}

	m.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if mock.count() != 0 {
		t.Errorf("objects = %d, want 0", mock.count())
	}
	list, _ := m.List(ctx, 10)
	if len(list) != 0 {
		t.Errorf("records = %d, want 0", len(list))
	}
}

func TestStartSchedule(t *testing.T) {
	m, _, _ := setupManager(t, nil)
	m.cfg.Schedule = "not a cron spec"
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	m.cfg.Schedule = "0 3 * * *"
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if next := m.Status().NextRun; next == nil || next.IsZero() {
		t.Errorf("next run = %v", next)
	}
	m.Stop()
	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{Schedule: "@daily"}, nil, nil, slog.Default(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
}

func TestRestoreMissingBudgetUsesConfiguredDefault(t *testing.T) {
	m, mock, src := setupManager(t, nil)
	ctx := context.Background()

	record, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blob, err := Encrypt([]byte(`{"items":[]}`), "senha")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	mock.objects[record.ObjectKey] = blob

	if err := m.Restore(ctx, record.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := src.Snapshot().Budget; got != 0 {
		t.Errorf("budget = %v, want the configured default 0", got)
	}
}
