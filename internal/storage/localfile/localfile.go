// Package localfile implements the storage provider backed by a file
// handle on the local filesystem.
package localfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.Provider = (*Provider)(nil)

// Provider reads and writes one physical file on disk.
type Provider struct {
	path    string
	configs model.ProviderConfigStore
	logger  *logger.Logger
}

func New(path string, configs model.ProviderConfigStore, logger *logger.Logger) *Provider {
	return &Provider{path: path, configs: configs, logger: logger}
}

func (p *Provider) Kind() model.ProviderKind { return model.ProviderLocal }

// Write replaces the file content. The order is write-then-truncate:
// writing first and truncating second never leaves less data on disk than
// is present, while also removing stale trailing bytes from a previous,
// longer write. Truncating first would open a window where a crash
// produces a zero-length file.
func (p *Provider) Write(ctx context.Context, content []byte) error {
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return model.NewIOError("open", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(content, 0); err != nil {
		return model.NewIOError("write", err)
	}
	if err := f.Truncate(int64(len(content))); err != nil {
		return model.NewIOError("truncate", err)
	}
	if err := f.Sync(); err != nil {
		return model.NewIOError("sync", err)
	}
	return nil
}

// Read returns the full file content, or nil for a missing or empty file.
func (p *Provider) Read(ctx context.Context) ([]byte, error) {
	content, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewIOError("read", err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

// LastModified stats the file without reading it.
func (p *Provider) LastModified(ctx context.Context) (*time.Time, error) {
	info, err := os.Stat(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewIOError("stat", err)
	}
	t := info.ModTime()
	return &t, nil
}

func (p *Provider) Ready(ctx context.Context) bool {
	dir := filepath.Dir(p.path)
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// RequestAccess creates the parent directory and verifies the file can be
// opened for writing.
func (p *Provider) RequestAccess(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return false, fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	f.Close()
	return true, nil
}

func (p *Provider) Persist(ctx context.Context, familyID uuid.UUID) error {
	return p.configs.SetActive(ctx, model.ProviderConfig{
		FamilyID:    familyID,
		Kind:        model.ProviderLocal,
		Location:    p.path,
		DisplayName: filepath.Base(p.path),
		UpdatedAt:   time.Now().UTC(),
	})
}

func (p *Provider) ClearPersisted(ctx context.Context, familyID uuid.UUID) error {
	return p.configs.Clear(ctx, familyID, model.ProviderLocal)
}

func (p *Provider) Disconnect() {}
