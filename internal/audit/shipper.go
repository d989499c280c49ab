// Package audit ships account-link audit records to destinations outside the
// database, such as an append-only JSON lines file or a collector webhook.
// The database stays the system of record; shippers receive a copy after the
// row has been written.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/xerolink/xerolink/internal/config"
	"github.com/xerolink/xerolink/internal/db/models"
)

// LogEntry is the wire shape of an audit record.
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	AuthMethod   string                 `json:"auth_method,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// FromModel flattens a stored audit row into a LogEntry. status_code and
// auth_method are lifted out of the metadata map when present.
func FromModel(log *models.AuditLog) *LogEntry {
	entry := &LogEntry{
		Timestamp: log.CreatedAt,
		Action:    log.Action,
		Metadata:  log.Metadata,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if log.UserID != nil {
		entry.UserID = *log.UserID
	}
	if log.ResourceType != nil {
		entry.ResourceType = *log.ResourceType
	}
	if log.ResourceID != nil {
		entry.ResourceID = *log.ResourceID
	}
	if log.IPAddress != nil {
		entry.IPAddress = *log.IPAddress
	}
	if v, ok := log.Metadata["status_code"].(int); ok {
		entry.StatusCode = v
	}
	if v, ok := log.Metadata["auth_method"].(string); ok {
		entry.AuthMethod = v
	}
	return entry
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close cleans up any resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the shippers enabled in cfg. A config with neither a
// file path nor a webhook URL yields an empty MultiShipper.
func NewMultiShipper(cfg *config.AuditConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	if cfg == nil {
		return ms, nil
	}

	if cfg.FilePath != "" {
		fs, err := NewFileShipper(cfg.FilePath, cfg.FileMaxSizeMB, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		ms.shippers = append(ms.shippers, fs)
	}

	if cfg.WebhookURL != "" {
		ms.shippers = append(ms.shippers, NewWebhookShipper(cfg.WebhookURL, cfg.WebhookTimeout, nil))
	}

	return ms, nil
}

// Len reports how many destinations are configured.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers. Every shipper is attempted;
// the returned error joins the individual failures.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}

// WebhookShipper POSTs each entry as JSON to a collector endpoint.
type WebhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookShipper creates a new webhook shipper. A zero timeout defaults to
// ten seconds.
func NewWebhookShipper(url string, timeout time.Duration, headers map[string]string) *WebhookShipper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ship sends an entry to the webhook
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no per-shipper resources.
func (ws *WebhookShipper) Close() error { return nil }

// FileShipper appends entries as JSON lines and rotates by size.
type FileShipper struct {
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	mu         sync.Mutex
}

// NewFileShipper opens (or creates) path for appending. maxSizeMB <= 0
// disables rotation.
func NewFileShipper(path string, maxSizeMB, maxBackups int) (*FileShipper, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		file:       file,
	}, nil
}

// Ship writes an entry to the file
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return errors.New("audit log file is closed")
	}

	if fs.maxSize > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() >= fs.maxSize {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves path to path.1 and reopens path.
// Backups beyond maxBackups are removed.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}
	fs.file = nil

	if fs.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.path, fs.maxBackups))
		for i := fs.maxBackups - 1; i >= 1; i-- {
			_ = os.Rename(fmt.Sprintf("%s.%d", fs.path, i), fmt.Sprintf("%s.%d", fs.path, i+1))
		}
		_ = os.Rename(fs.path, fs.path+".1")
	} else {
		_ = os.Remove(fs.path)
	}

	file, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// Store is the system of record for audit rows.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Writer persists an audit row and then copies it to every shipper. Shipping
// failures are logged and never fail the write.
type Writer struct {
	store   Store
	shipper Shipper
}

// NewWriter wraps store. A nil shipper writes to the store only.
func NewWriter(store Store, shipper Shipper) *Writer {
	return &Writer{store: store, shipper: shipper}
}

// CreateAuditLog satisfies the audit middleware's writer interface.
func (w *Writer) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if err := w.store.CreateAuditLog(ctx, log); err != nil {
		return err
	}
	if w.shipper == nil {
		return nil
	}
	if err := w.shipper.Ship(ctx, FromModel(log)); err != nil {
		slog.Warn("audit shipping failed", "action", log.Action, "error", err)
	}
	return nil
}
