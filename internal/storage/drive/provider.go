package drive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

var (
	_ model.Provider     = (*Provider)(nil)
	_ model.DirectWriter = (*Provider)(nil)
)

// WriteQueue is the offline queue boundary: a write that could not reach
// the network is parked here instead of failing the save.
type WriteQueue interface {
	Enqueue(ctx context.Context, familyID uuid.UUID, content []byte) error
}

// ReauthFunc performs an interactive re-authentication. It is only called
// after a silent token refresh has failed, and only once per operation.
type ReauthFunc func(ctx context.Context) error

// Options configure the drive provider.
type Options struct {
	// ClientID gates the provider: when empty the cloud drive is not
	// configured in this deployment at all.
	ClientID string
	FileName string
	FamilyID uuid.UUID
	Queue    WriteQueue
	Configs  model.ProviderConfigStore
	Tokens   model.TokenSource
	Reauth   ReauthFunc
	Logger   *logger.Logger
}

// Provider stores the family file in the cloud drive's app data folder.
type Provider struct {
	client   *Client
	name     string
	familyID uuid.UUID
	queue    WriteQueue
	configs  model.ProviderConfigStore
	tokens   model.TokenSource
	reauth   ReauthFunc
	logger   *logger.Logger

	mu     sync.Mutex
	fileID string
}

// New creates a drive provider. A missing client ID degrades to
// ErrProviderNotConfigured rather than a hard failure, so deployments
// without a cloud application registration simply don't offer the drive.
func New(client *Client, opts Options) (*Provider, error) {
	if opts.ClientID == "" {
		return nil, model.ErrProviderNotConfigured
	}
	return &Provider{
		client:   client,
		name:     opts.FileName,
		familyID: opts.FamilyID,
		queue:    opts.Queue,
		configs:  opts.Configs,
		tokens:   opts.Tokens,
		reauth:   opts.Reauth,
		logger:   opts.Logger,
	}, nil
}

func (p *Provider) Kind() model.ProviderKind { return model.ProviderDrive }

// SetFileID pins the remote file ID, e.g. restored from a persisted
// provider config.
func (p *Provider) SetFileID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileID = id
}

// Write uploads the full content. A 401 triggers one silent token refresh
// (interactive re-auth only if that fails); a network-class error parks the
// write in the offline queue instead of failing; a 404 means the file was
// removed remotely and is propagated as fatal.
func (p *Provider) Write(ctx context.Context, content []byte) error {
	err := p.writeRemote(ctx, content)
	if err == nil {
		return nil
	}

	var apiErr *model.DriveAPIError
	if !errors.As(err, &apiErr) {
		// No response at all: the network is down, not the API. Park the
		// write for the reconnect signal.
		p.logger.Warn("drive unreachable, queueing write", "error", err)
		if qErr := p.queue.Enqueue(ctx, p.familyID, content); qErr != nil {
			return model.NewIOError("enqueue", qErr)
		}
		return nil
	}
	if apiErr.Status == 404 {
		return err
	}
	return model.NewIOError("write", err)
}

// WriteDirect uploads without the offline-queue fallback. The queue flushes
// through this path, so a still-unreachable network surfaces as an error and
// the slot stays occupied.
func (p *Provider) WriteDirect(ctx context.Context, content []byte) error {
	err := p.writeRemote(ctx, content)
	if err == nil {
		return nil
	}
	var apiErr *model.DriveAPIError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		return err
	}
	return model.NewIOError("write", err)
}

func (p *Provider) writeRemote(ctx context.Context, content []byte) error {
	return p.withAuthRetry(ctx, func() error {
		id, err := p.ensureFileID(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			newID, err := p.client.Create(ctx, p.name, content)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.fileID = newID
			p.mu.Unlock()
			return nil
		}
		return p.client.Update(ctx, id, content)
	})
}

// Read downloads the current file content, or nil when no file exists yet.
func (p *Provider) Read(ctx context.Context) ([]byte, error) {
	var content []byte
	err := p.withAuthRetry(ctx, func() error {
		id, err := p.ensureFileID(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			content = nil
			return nil
		}
		content, err = p.client.Read(ctx, id)
		return err
	})
	if err != nil {
		var apiErr *model.DriveAPIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, nil
		}
		return nil, model.NewIOError("read", err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

// LastModified fetches only the remote modification timestamp.
func (p *Provider) LastModified(ctx context.Context) (*time.Time, error) {
	var modified *time.Time
	err := p.withAuthRetry(ctx, func() error {
		id, err := p.ensureFileID(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			modified = nil
			return nil
		}
		modified, err = p.client.ModifiedTime(ctx, id)
		return err
	})
	if err != nil {
		var apiErr *model.DriveAPIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, nil
		}
		return nil, model.NewIOError("stat", err)
	}
	return modified, nil
}

// Ready reports whether a token is available without user interaction.
func (p *Provider) Ready(ctx context.Context) bool {
	_, err := p.tokens.Token(ctx)
	return err == nil
}

// RequestAccess runs the interactive authentication flow.
func (p *Provider) RequestAccess(ctx context.Context) (bool, error) {
	if p.reauth == nil {
		return false, model.ErrProviderNotConfigured
	}
	if err := p.reauth(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Persist(ctx context.Context, familyID uuid.UUID) error {
	p.mu.Lock()
	id := p.fileID
	p.mu.Unlock()
	return p.configs.SetActive(ctx, model.ProviderConfig{
		FamilyID:    familyID,
		Kind:        model.ProviderDrive,
		Location:    id,
		DisplayName: p.name,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (p *Provider) ClearPersisted(ctx context.Context, familyID uuid.UUID) error {
	return p.configs.Clear(ctx, familyID, model.ProviderDrive)
}

func (p *Provider) Disconnect() {
	p.tokens.Invalidate()
	p.mu.Lock()
	p.fileID = ""
	p.mu.Unlock()
}

// ensureFileID resolves the remote file ID, looking it up by name once.
// An empty result with no error means the file does not exist yet.
func (p *Provider) ensureFileID(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.fileID != "" {
		id := p.fileID
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	files, err := p.client.List(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Name == p.name {
			p.mu.Lock()
			p.fileID = f.ID
			p.mu.Unlock()
			return f.ID, nil
		}
	}
	return "", nil
}

// withAuthRetry runs fn, and on a 401 attempts one silent token refresh
// before falling back to one interactive re-authentication. Both paths are
// attempted at most once to avoid duplicate credential prompts.
func (p *Provider) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	var apiErr *model.DriveAPIError
	if err == nil || !errors.As(err, &apiErr) || apiErr.Status != 401 {
		return err
	}

	p.tokens.Invalidate()
	if _, refreshErr := p.tokens.Refresh(ctx); refreshErr != nil {
		p.logger.Info("silent token refresh failed, trying interactive re-auth", "error", refreshErr)
		if p.reauth == nil {
			return err
		}
		if reauthErr := p.reauth(ctx); reauthErr != nil {
			return err
		}
	}
	return fn()
}
