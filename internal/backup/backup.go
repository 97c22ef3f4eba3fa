// Package backup pushes encrypted snapshots of the application state to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/persist"
	"github.com/dukerupert/mercado/internal/store"
)

var (
	// ErrDisabled is returned when storage credentials or the passphrase are missing.
	ErrDisabled = errors.New("backup not configured")
	// ErrNotFound is returned for an unknown backup id.
	ErrNotFound = errors.New("backup not found")
	// ErrNotCompleted is returned when restoring a backup that never finished uploading.
	ErrNotCompleted = errors.New("backup is not completed")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Source is the state a backup is taken from and restored into.
type Source interface {
	Snapshot() model.State
	Replace(model.State)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3            S3Config
	Passphrase    string
	Schedule      string // cron spec, empty disables scheduled runs
	RetentionDays int
	Prefix        string
	DefaultBudget float64
	Location      *time.Location
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager manages encrypted backups to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	runMu    sync.Mutex
	cfg      Config
	status   Status
	callback StatusCallback

	records *store.BackupStore
	source  Source
	client  s3Client
	logger  *slog.Logger
	now     func() time.Time

	cron  *cron.Cron
	entry cron.EntryID
}

// NewManager creates a new backup manager. Without complete storage
// credentials and a passphrase it stays disabled.
func NewManager(cfg Config, records *store.BackupStore, source Source, logger *slog.Logger, callback StatusCallback) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "mercado"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	m := &Manager{
		cfg:      cfg,
		records:  records,
		source:   source,
		logger:   logger,
		callback: callback,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}

	if cfg.S3.complete() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups can run.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start schedules periodic backups. It is a no-op when the manager is
// disabled or no schedule is configured.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.client == nil || m.cfg.Schedule == "" || m.cron != nil {
		m.mu.Unlock()
		return nil
	}

	c := cron.New(cron.WithLocation(m.cfg.Location))
	id, err := c.AddFunc(m.cfg.Schedule, func() { m.scheduled(ctx) })
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("parse backup schedule %q: %w", m.cfg.Schedule, err)
	}
	m.cron = c
	m.entry = id
	c.Start()
	next := c.Entry(id).Next
	m.status.NextRun = &next
	m.mu.Unlock()

	m.logger.Info("backup schedule started", "schedule", m.cfg.Schedule, "next_run", next)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.cron != nil {
		next := m.cron.Entry(m.entry).Next
		s.NextRun = &next
	}
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) fail(ctx context.Context, id int64, err error) {
	if id != 0 {
		if uerr := m.records.UpdateStatus(ctx, id, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("failed to mark backup failed", "id", id, "error", uerr)
		}
	}
	m.setStatus(Status{State: StateError, Error: err.Error()})
}

func (m *Manager) scheduled(ctx context.Context) {
	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// List returns the most recent backup records.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	return m.records.List(ctx, limit)
}

// RunNow encrypts the current state and uploads it.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrDisabled
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := m.now().UTC().Format("2006-01-02T150405.000Z")
	filename := fmt.Sprintf("state-%s.json.enc", timestamp)
	key := fmt.Sprintf("%s/%s", m.cfg.Prefix, filename)

	record, err := m.records.Create(ctx, filename, key)
	if err != nil {
		m.fail(ctx, 0, err)
		return nil, fmt.Errorf("create backup record: %w", err)
	}
	if err := m.records.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		m.fail(ctx, record.ID, err)
		return nil, fmt.Errorf("mark uploading: %w", err)
	}

	plaintext, err := persist.Encode(m.source.Snapshot())
	if err != nil {
		m.fail(ctx, record.ID, err)
		return nil, fmt.Errorf("encode state: %w", err)
	}
	data, err := Encrypt(plaintext, m.cfg.Passphrase)
	if err != nil {
		m.fail(ctx, record.ID, err)
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		m.fail(ctx, record.ID, err)
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	if err := m.records.UpdateCompleted(ctx, record.ID, int64(len(data))); err != nil {
		m.fail(ctx, record.ID, err)
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup uploaded", "id", record.ID, "key", key, "size", humanize.Bytes(uint64(len(data))))

	return m.records.GetByID(ctx, record.ID)
}

// Restore downloads a backup, decrypts it and replaces the live state.
func (m *Manager) Restore(ctx context.Context, id int64) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return ErrDisabled
	}

	record, err := m.records.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return ErrNotFound
	}
	if record.Status != model.BackupStatusCompleted {
		return ErrNotCompleted
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Decrypt(data, m.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}
	st, err := persist.Decode(plaintext, m.cfg.DefaultBudget)
	if err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}

	m.source.Replace(st)
	m.logger.Info("backup restored", "id", id, "items", len(st.Items), "trips", len(st.History))
	return nil
}

// Cleanup deletes backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	retention := m.cfg.RetentionDays
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	before := m.now().UTC().AddDate(0, 0, -retention)
	keys, err := m.records.DeleteOlderThan(ctx, before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("failed to delete backup object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("old backups removed", "count", len(keys), "before", before)
	}
	return nil
}
