// Package service implements the sync orchestrator: the single component
// that moves snapshots between the local store and the active storage
// provider. It serializes saves, debounces bursts of edits, escalates
// repeated write failures, and owns the encryption key material for the
// session.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/crypto"
	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/merge"
	"github.com/hearthvault/hearthvault/internal/model"
	"github.com/hearthvault/hearthvault/internal/queue"
	"github.com/hearthvault/hearthvault/internal/walog"
)

// DefaultDebounce is the quiet period after the last edit before a
// scheduled save fires.
const DefaultDebounce = 2 * time.Second

// Credentials is the key material available for decrypting a loaded file.
// The DEK, when set, is tried first; the password is the fallback. Both
// may be empty for a plaintext file.
type Credentials struct {
	DEK      crypto.Key
	Password string
}

// Options collects the orchestrator's dependencies. Passkeys may be nil
// when no credential store is available; the envelope then carries no
// key-wrapping material.
type Options struct {
	FamilyID    uuid.UUID
	FamilyName  string
	Crypto      *crypto.Service
	Merger      *merge.Service
	Snapshots   model.SnapshotStore
	Passkeys    model.PasskeyStore
	Queue       *queue.Queue
	SettingsLog *walog.Log
	Logger      *logger.Logger
	Debounce    time.Duration
}

// Orchestrator coordinates load, merge and save for one family.
type Orchestrator struct {
	familyID    uuid.UUID
	familyName  string
	crypto      *crypto.Service
	merger      *merge.Service
	snapshots   model.SnapshotStore
	passkeys    model.PasskeyStore
	queue       *queue.Queue
	settingsLog *walog.Log
	logger      *logger.Logger
	failures    *failureTracker
	debounce    time.Duration
	now         func() time.Time

	// saveMu serializes encrypt+write cycles: a save awaits completion of
	// any in-flight save before starting its own.
	saveMu sync.Mutex

	mu          sync.Mutex
	provider    model.Provider
	encrypt     bool
	password    string
	pinnedKey   crypto.Key
	currentSalt []byte
	timer       *time.Timer
	closed      bool
}

func NewOrchestrator(opts Options) *Orchestrator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Orchestrator{
		familyID:    opts.FamilyID,
		familyName:  opts.FamilyName,
		crypto:      opts.Crypto,
		merger:      opts.Merger,
		snapshots:   opts.Snapshots,
		passkeys:    opts.Passkeys,
		queue:       opts.Queue,
		settingsLog: opts.SettingsLog,
		logger:      opts.Logger,
		failures:    newFailureTracker(),
		debounce:    debounce,
		now:         time.Now,
	}
}

// WithClock overrides the clock. Intended for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SetProvider switches the active storage provider. Failure state belongs
// to the previous target, so it is reset.
func (o *Orchestrator) SetProvider(p model.Provider) {
	o.mu.Lock()
	o.provider = p
	o.mu.Unlock()

	o.queue.RegisterProvider(p)
	o.failures.reset()
}

// Provider returns the active provider, nil when none is configured.
func (o *Orchestrator) Provider() model.Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider
}

// EnableEncryption turns on encryption for subsequent saves. The next save
// derives a key from password with a fresh salt.
func (o *Orchestrator) EnableEncryption(password string) {
	o.mu.Lock()
	o.encrypt = true
	o.password = password
	o.pinnedKey = crypto.Key{}
	o.currentSalt = nil
	o.mu.Unlock()
}

// DisableEncryption turns off encryption and drops all key material.
func (o *Orchestrator) DisableEncryption() {
	o.mu.Lock()
	o.encrypt = false
	o.password = ""
	o.pinnedKey = crypto.Key{}
	o.currentSalt = nil
	o.mu.Unlock()
}

// FailureState returns the current escalation level and the last recorded
// error message, nil once cleared.
func (o *Orchestrator) FailureState() (FailureLevel, *string) {
	return o.failures.state()
}

// OnFailureChange registers an observer for escalation transitions and
// returns an unsubscribe handle.
func (o *Orchestrator) OnFailureChange(fn FailureObserver) func() {
	return o.failures.observe(fn)
}

// CurrentSalt returns the salt the file is currently encrypted with, nil
// when unknown or the file is plaintext. When no salt is held in memory it
// is recovered from the provider's copy of the file.
func (o *Orchestrator) CurrentSalt(ctx context.Context) []byte {
	o.mu.Lock()
	salt := append([]byte(nil), o.currentSalt...)
	provider := o.provider
	o.mu.Unlock()
	if len(salt) != 0 || provider == nil {
		return salt
	}

	raw, err := provider.Read(ctx)
	if err != nil || raw == nil {
		return nil
	}
	f, err := model.ParseSyncFile(raw)
	if err != nil || !f.Encrypted {
		return nil
	}
	packed, err := f.CipherData()
	if err != nil {
		return nil
	}
	env, err := crypto.UnpackEnvelope(packed)
	if err != nil {
		return nil
	}

	o.mu.Lock()
	o.currentSalt = append([]byte(nil), env.Salt...)
	o.mu.Unlock()
	return append([]byte(nil), env.Salt...)
}

// ForceSaveAfterWrap pins dek and salt as the session key material and
// performs one immediate save, so the file on the provider is encrypted
// under exactly the key that was just wrapped.
func (o *Orchestrator) ForceSaveAfterWrap(ctx context.Context, dek crypto.Key, salt []byte) error {
	o.mu.Lock()
	o.encrypt = true
	o.pinnedKey = dek
	o.currentSalt = append([]byte(nil), salt...)
	o.mu.Unlock()

	return o.Save(ctx)
}

// ScheduleSave arms the debounced save. Each call resets the quiet period,
// so a burst of edits produces one write.
func (o *Orchestrator) ScheduleSave() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, func() {
		if err := o.Save(context.Background()); err != nil {
			o.logger.Warn("debounced save failed", "family_id", o.familyID, "error", err)
		}
	})
}

// Save serializes the local snapshot into a sync file and writes it
// through the active provider. A write failure escalates the failure
// level; success resets it, records the sync time and refreshes the
// settings log.
func (o *Orchestrator) Save(ctx context.Context) error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	provider := o.provider
	o.mu.Unlock()
	if provider == nil {
		return model.ErrProviderNotConfigured
	}

	data, err := o.snapshots.LoadSnapshot(ctx, o.familyID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	tombstones, err := o.snapshots.LoadTombstones(ctx, o.familyID)
	if err != nil {
		return fmt.Errorf("failed to load tombstones: %w", err)
	}
	data.Tombstones = tombstones

	content, err := o.buildFile(ctx, data)
	if err != nil {
		return err
	}

	if err := provider.Write(ctx, content); err != nil {
		o.failures.recordFailure(err)
		return err
	}
	o.failures.recordSuccess()

	if data.Settings != nil {
		syncedAt := o.now()
		data.Settings.LastSyncedAt = &syncedAt
		data.Tombstones = nil
		if err := o.snapshots.SaveSnapshot(ctx, o.familyID, data); err != nil {
			o.logger.Warn("failed to record sync time", "family_id", o.familyID, "error", err)
		}
		o.settingsLog.Write(ctx, o.familyID, data.Settings)
	}
	return nil
}

func (o *Orchestrator) buildFile(ctx context.Context, data *model.ExportedData) ([]byte, error) {
	o.mu.Lock()
	encrypt := o.encrypt
	password := o.password
	pinned := o.pinnedKey
	salt := append([]byte(nil), o.currentSalt...)
	o.mu.Unlock()

	f := &model.SyncFile{
		Version:    model.SyncFileVersion,
		ExportedAt: o.now().UTC(),
		FamilyID:   o.familyID.String(),
		FamilyName: o.familyName,
	}

	if !encrypt {
		if err := f.SetPlainData(data); err != nil {
			return nil, err
		}
	} else {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal export data: %w", err)
		}
		var env crypto.Envelope
		if !pinned.IsZero() && len(salt) == crypto.SaltLen {
			// A wrapped DEK exists for this salt; keep the file aligned
			// with it instead of rolling a fresh salt.
			env, err = o.crypto.EncryptWithKey(payload, pinned, salt)
		} else {
			env, err = o.crypto.Encrypt(payload, password)
		}
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.currentSalt = append([]byte(nil), env.Salt...)
		o.mu.Unlock()
		if err := f.SetCipherData(env.Pack()); err != nil {
			return nil, err
		}
	}

	o.attachPasskeySecrets(ctx, f)

	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync file: %w", err)
	}
	return raw, nil
}

// attachPasskeySecrets copies the wrapped-key material of every registered
// credential into the envelope, outside the ciphertext, so another replica
// can unwrap before it can decrypt.
func (o *Orchestrator) attachPasskeySecrets(ctx context.Context, f *model.SyncFile) {
	if o.passkeys == nil {
		return
	}
	regs, err := o.passkeys.GetByFamilyID(ctx, o.familyID)
	if err != nil {
		o.logger.Warn("failed to load credential registrations", "family_id", o.familyID, "error", err)
		return
	}
	for _, reg := range regs {
		if !reg.HasWrappedKey() {
			continue
		}
		if f.PasskeySecrets == nil {
			f.PasskeySecrets = make(map[string]model.PasskeySecret)
		}
		f.PasskeySecrets[reg.CredentialID] = model.PasskeySecret{
			WrappedDEK: reg.WrappedDEK,
			WrapSalt:   reg.WrapSalt,
		}
	}
}

// Load reads the provider's copy of the file, decrypts it with creds,
// merges it with the local snapshot and stores the result. When the merge
// produced something the remote side does not have, the merged snapshot is
// saved straight back.
func (o *Orchestrator) Load(ctx context.Context, creds Credentials) error {
	o.mu.Lock()
	provider := o.provider
	o.mu.Unlock()
	if provider == nil {
		return model.ErrProviderNotConfigured
	}

	raw, err := provider.Read(ctx)
	if err != nil {
		return err
	}
	if raw == nil {
		// Nothing stored remotely yet; the local snapshot stands.
		return nil
	}

	f, err := model.ParseSyncFile(raw)
	if err != nil {
		return err
	}
	remote, err := o.decodePayload(f, creds)
	if err != nil {
		return err
	}

	local, err := o.snapshots.LoadSnapshot(ctx, o.familyID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	localTombstones, err := o.snapshots.LoadTombstones(ctx, o.familyID)
	if err != nil {
		return fmt.Errorf("failed to load tombstones: %w", err)
	}

	merged, tombstones := o.merger.Merge(local, remote, localTombstones, remote.Tombstones)
	merged.Settings.RestoreLocalFields(local.Settings)

	merged.Tombstones = nil
	if err := o.snapshots.SaveSnapshot(ctx, o.familyID, merged); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if err := o.snapshots.SaveTombstones(ctx, o.familyID, tombstones); err != nil {
		return fmt.Errorf("failed to save tombstones: %w", err)
	}
	o.settingsLog.Write(ctx, o.familyID, merged.Settings)

	if merge.Changed(merged, remote) {
		return o.Save(ctx)
	}
	return nil
}

// decodePayload decrypts the file payload trying the DEK first and the
// password second. A DEK that fails integrity is stale relative to the
// file salt; that is logged, not surfaced, as long as the password works.
func (o *Orchestrator) decodePayload(f *model.SyncFile, creds Credentials) (*model.ExportedData, error) {
	if !f.Encrypted {
		return f.PlainData()
	}

	packed, err := f.CipherData()
	if err != nil {
		return nil, err
	}
	env, err := crypto.UnpackEnvelope(packed)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	if !creds.DEK.IsZero() {
		plaintext, err = o.crypto.DecryptWithKey(env, creds.DEK)
		switch {
		case err == nil:
			o.rememberKey(creds.DEK, env.Salt, creds.Password)
		case errors.Is(err, model.ErrWrongKey):
			o.logger.Info("unwrapped key does not open the file, trying password",
				"family_id", o.familyID, "error", errors.Join(model.ErrStaleKeyMaterial, err))
		default:
			return nil, err
		}
	}
	if plaintext == nil {
		if creds.Password == "" {
			return nil, model.ErrWrongKey
		}
		plaintext, err = o.crypto.Decrypt(env, creds.Password)
		if err != nil {
			return nil, err
		}
		o.rememberPassword(creds.Password, env.Salt)
	}

	var d model.ExportedData
	if err := json.Unmarshal(plaintext, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidEnvelope, err)
	}
	return &d, nil
}

func (o *Orchestrator) rememberKey(dek crypto.Key, salt []byte, password string) {
	o.mu.Lock()
	o.encrypt = true
	o.pinnedKey = dek
	o.currentSalt = append([]byte(nil), salt...)
	o.password = password
	o.mu.Unlock()
}

func (o *Orchestrator) rememberPassword(password string, salt []byte) {
	o.mu.Lock()
	o.encrypt = true
	o.password = password
	o.pinnedKey = crypto.Key{}
	o.currentSalt = append([]byte(nil), salt...)
	o.mu.Unlock()
}

// RecordDeletion writes a tombstone for the record and arms the debounced
// save. An existing tombstone for the same record is replaced.
func (o *Orchestrator) RecordDeletion(ctx context.Context, typ model.EntityType, id uuid.UUID) error {
	tombstones, err := o.snapshots.LoadTombstones(ctx, o.familyID)
	if err != nil {
		return fmt.Errorf("failed to load tombstones: %w", err)
	}

	t := model.Tombstone{ID: id, EntityType: typ, DeletedAt: o.now()}
	replaced := false
	for i := range tombstones {
		if tombstones[i].ID == id {
			tombstones[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		tombstones = append(tombstones, t)
	}

	if err := o.snapshots.SaveTombstones(ctx, o.familyID, tombstones); err != nil {
		return fmt.Errorf("failed to save tombstones: %w", err)
	}
	o.ScheduleSave()
	return nil
}

// RemoteChanged reports whether the provider's copy was modified after the
// last successful sync, using the cheap metadata check.
func (o *Orchestrator) RemoteChanged(ctx context.Context) (bool, error) {
	o.mu.Lock()
	provider := o.provider
	o.mu.Unlock()
	if provider == nil {
		return false, model.ErrProviderNotConfigured
	}

	modified, err := provider.LastModified(ctx)
	if err != nil {
		return false, err
	}
	if modified == nil {
		return false, nil
	}

	data, err := o.snapshots.LoadSnapshot(ctx, o.familyID)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if data.Settings == nil || data.Settings.LastSyncedAt == nil {
		return true, nil
	}
	return modified.After(*data.Settings.LastSyncedAt), nil
}

// OnReconnect flushes the offline queue. A flushed write counts as a save
// success and resets the failure level; a failed flush escalates it.
func (o *Orchestrator) OnReconnect(ctx context.Context) {
	flushed, err := o.queue.Flush(ctx)
	if err != nil {
		o.failures.recordFailure(err)
		return
	}
	if flushed {
		o.failures.recordSuccess()
		o.logger.Info("queued write delivered on reconnect", "family_id", o.familyID)
	}
}

// SignOut drops session key material, the queued write and the settings
// log, resets failure state and disconnects the provider.
func (o *Orchestrator) SignOut(ctx context.Context) {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.encrypt = false
	o.password = ""
	o.pinnedKey = crypto.Key{}
	o.currentSalt = nil
	provider := o.provider
	o.mu.Unlock()

	if err := o.queue.Clear(ctx); err != nil {
		o.logger.Warn("failed to clear offline queue", "family_id", o.familyID, "error", err)
	}
	o.settingsLog.ClearAll(ctx)
	o.failures.reset()
	if provider != nil {
		provider.Disconnect()
	}
}

// Close stops the debounce timer. Pending edits are not flushed; callers
// that need a final write call Save first.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
