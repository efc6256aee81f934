package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hearthvault/hearthvault/internal/crypto"
	"github.com/hearthvault/hearthvault/internal/merge"
	"github.com/hearthvault/hearthvault/internal/model"
	"github.com/hearthvault/hearthvault/internal/queue"
	"github.com/hearthvault/hearthvault/internal/testutil"
	"github.com/hearthvault/hearthvault/internal/walog"
)

var fastParams = crypto.Params{Time: 1, MemKiB: 8, Par: 1}

// MockProvider mocks the Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Kind() model.ProviderKind { return model.ProviderLocal }

func (m *MockProvider) Write(ctx context.Context, content []byte) error {
	args := m.Called(ctx, content)
	return args.Error(0)
}

func (m *MockProvider) Read(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) LastModified(ctx context.Context) (*time.Time, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockProvider) Ready(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockProvider) RequestAccess(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) Persist(ctx context.Context, familyID uuid.UUID) error {
	args := m.Called(ctx, familyID)
	return args.Error(0)
}

func (m *MockProvider) ClearPersisted(ctx context.Context, familyID uuid.UUID) error {
	args := m.Called(ctx, familyID)
	return args.Error(0)
}

func (m *MockProvider) Disconnect() {
	m.Called()
}

type memSnapshots struct {
	mu    sync.Mutex
	data  map[uuid.UUID]*model.ExportedData
	tombs map[uuid.UUID][]model.Tombstone
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: map[uuid.UUID]*model.ExportedData{}, tombs: map[uuid.UUID][]model.Tombstone{}}
}

func (s *memSnapshots) LoadSnapshot(ctx context.Context, familyID uuid.UUID) (*model.ExportedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.data[familyID]; ok {
		return d, nil
	}
	return &model.ExportedData{}, nil
}

func (s *memSnapshots) SaveSnapshot(ctx context.Context, familyID uuid.UUID, data *model.ExportedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[familyID] = data
	return nil
}

func (s *memSnapshots) LoadTombstones(ctx context.Context, familyID uuid.UUID) ([]model.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tombs[familyID], nil
}

func (s *memSnapshots) SaveTombstones(ctx context.Context, familyID uuid.UUID, tombstones []model.Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombs[familyID] = tombstones
	return nil
}

type memSettingsLog struct {
	mu    sync.Mutex
	entry *model.SettingsLogEntry
}

func (s *memSettingsLog) Put(ctx context.Context, entry model.SettingsLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = &entry
	return nil
}

func (s *memSettingsLog) Get(ctx context.Context) (*model.SettingsLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, nil
}

func (s *memSettingsLog) Delete(ctx context.Context, familyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	return nil
}

func (s *memSettingsLog) DeleteAll(ctx context.Context) error {
	return s.Delete(ctx, uuid.Nil)
}

type memQueueStore struct {
	mu       sync.Mutex
	familyID uuid.UUID
	content  []byte
}

func (s *memQueueStore) PutPending(ctx context.Context, familyID uuid.UUID, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.familyID, s.content = familyID, content
	return nil
}

func (s *memQueueStore) GetPending(ctx context.Context) (uuid.UUID, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.familyID, s.content, nil
}

func (s *memQueueStore) ClearPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.familyID, s.content = uuid.Nil, nil
	return nil
}

type memPasskeys struct {
	regs []model.PasskeyRegistration
}

func (s *memPasskeys) Save(ctx context.Context, reg model.PasskeyRegistration) error {
	s.regs = append(s.regs, reg)
	return nil
}

func (s *memPasskeys) GetByCredentialID(ctx context.Context, credentialID string) (model.PasskeyRegistration, error) {
	return model.PasskeyRegistration{}, model.ErrNotFound
}

func (s *memPasskeys) GetByFamilyID(ctx context.Context, familyID uuid.UUID) ([]model.PasskeyRegistration, error) {
	return s.regs, nil
}

func (s *memPasskeys) GetByUserHandle(ctx context.Context, userHandle string) (model.PasskeyRegistration, error) {
	return model.PasskeyRegistration{}, model.ErrNotFound
}

func (s *memPasskeys) TouchLastUsed(ctx context.Context, credentialID string, usedAt time.Time) error {
	return nil
}

func (s *memPasskeys) DeleteByFamilyID(ctx context.Context, familyID uuid.UUID) error {
	s.regs = nil
	return nil
}

type fixture struct {
	orch       *Orchestrator
	provider   *MockProvider
	snapshots  *memSnapshots
	queueStore *memQueueStore
	log        *memSettingsLog
	crypto     *crypto.Service
	familyID   uuid.UUID
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	familyID := uuid.New()
	provider := &MockProvider{}
	snapshots := newMemSnapshots()
	queueStore := &memQueueStore{}
	log := &memSettingsLog{}
	cryptoSvc := crypto.NewService(fastParams)

	o := Options{
		FamilyID:    familyID,
		FamilyName:  "Smiths",
		Crypto:      cryptoSvc,
		Merger:      merge.New(0),
		Snapshots:   snapshots,
		Queue:       queue.New(queueStore, testutil.MakeNoopLogger()),
		SettingsLog: walog.New(log, 0, testutil.MakeNoopLogger()),
		Logger:      testutil.MakeNoopLogger(),
		// Long enough that a scheduled save never fires mid-test unless the
		// test shortens it on purpose.
		Debounce: time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}

	orch := NewOrchestrator(o)
	orch.SetProvider(provider)
	t.Cleanup(orch.Close)

	return &fixture{
		orch:       orch,
		provider:   provider,
		snapshots:  snapshots,
		queueStore: queueStore,
		log:        log,
		crypto:     cryptoSvc,
		familyID:   familyID,
	}
}

func testTodo(title string, updatedAt time.Time) model.Todo {
	return model.Todo{ID: uuid.New(), Title: title, UpdatedAt: updatedAt}
}

func TestOrchestrator_Save_Plaintext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	td := testTodo("pay rent", now)
	f.snapshots.data[f.familyID] = &model.ExportedData{
		Todos:    []model.Todo{td},
		Settings: &model.Settings{ID: uuid.New(), FamilyID: f.familyID, Currency: "EUR", UpdatedAt: now},
	}
	f.snapshots.tombs[f.familyID] = []model.Tombstone{{ID: uuid.New(), EntityType: model.EntityTodo, DeletedAt: now}}

	var written []byte
	f.provider.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		written = args.Get(1).([]byte)
	}).Return(nil)

	require.NoError(t, f.orch.Save(ctx))

	file, err := model.ParseSyncFile(written)
	require.NoError(t, err)
	assert.Equal(t, model.SyncFileVersion, file.Version)
	assert.False(t, file.Encrypted)
	assert.Equal(t, f.familyID.String(), file.FamilyID)
	assert.Equal(t, "Smiths", file.FamilyName)

	payload, err := file.PlainData()
	require.NoError(t, err)
	require.Len(t, payload.Todos, 1)
	assert.Equal(t, td.ID, payload.Todos[0].ID)
	assert.Len(t, payload.Tombstones, 1, "tombstones travel with the snapshot")

	stored, err := f.snapshots.LoadSnapshot(ctx, f.familyID)
	require.NoError(t, err)
	require.NotNil(t, stored.Settings.LastSyncedAt)

	entry, err := f.log.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, f.familyID, entry.FamilyID)
}

func TestOrchestrator_Save_NoProvider(t *testing.T) {
	f := newFixture(t)
	f.orch.SetProvider(nil)

	err := f.orch.Save(context.Background())
	assert.ErrorIs(t, err, model.ErrProviderNotConfigured)
}

func TestOrchestrator_Save_FailureEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var transitions []FailureLevel
	f.orch.OnFailureChange(func(level FailureLevel, lastError *string) {
		transitions = append(transitions, level)
	})

	f.provider.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full")).Times(3)
	f.provider.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	for i := 0; i < 3; i++ {
		require.Error(t, f.orch.Save(ctx))
	}
	level, lastErr := f.orch.FailureState()
	assert.Equal(t, FailureCritical, level)
	require.NotNil(t, lastErr)
	assert.Equal(t, "disk full", *lastErr)

	require.NoError(t, f.orch.Save(ctx))
	level, lastErr = f.orch.FailureState()
	assert.Equal(t, FailureNone, level)
	assert.Nil(t, lastErr)

	assert.Equal(t, []FailureLevel{FailureWarning, FailureCritical, FailureNone}, transitions)
}

func TestOrchestrator_Save_EncryptedAndSaltPinning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	td := testTodo("groceries", time.Now().UTC())
	f.snapshots.data[f.familyID] = &model.ExportedData{Todos: []model.Todo{td}}

	var written []byte
	f.provider.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		written = args.Get(1).([]byte)
	}).Return(nil)

	f.orch.EnableEncryption("family-pw")
	require.NoError(t, f.orch.Save(ctx))

	file, err := model.ParseSyncFile(written)
	require.NoError(t, err)
	require.True(t, file.Encrypted)

	packed, err := file.CipherData()
	require.NoError(t, err)
	env, err := crypto.UnpackEnvelope(packed)
	require.NoError(t, err)
	_, err = f.crypto.Decrypt(env, "family-pw")
	require.NoError(t, err)

	// Wrapping pins the DEK and its salt; every following save must keep
	// that salt so the wrapped key stays usable.
	dek := f.crypto.DeriveExtractableKey("family-pw", env.Salt)
	require.NoError(t, f.orch.ForceSaveAfterWrap(ctx, dek, env.Salt))
	require.NoError(t, f.orch.Save(ctx))

	file, err = model.ParseSyncFile(written)
	require.NoError(t, err)
	packed, err = file.CipherData()
	require.NoError(t, err)
	pinned, err := crypto.UnpackEnvelope(packed)
	require.NoError(t, err)
	assert.Equal(t, env.Salt, pinned.Salt)

	_, err = f.crypto.DecryptWithKey(pinned, dek)
	require.NoError(t, err)
}

func TestOrchestrator_Save_AttachesPasskeySecrets(t *testing.T) {
	wrapped := make([]byte, 48)
	wrapSalt := make([]byte, 16)
	_, err := rand.Read(wrapped)
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) {
		o.Passkeys = &memPasskeys{regs: []model.PasskeyRegistration{
			{CredentialID: "cred-1", PRFSupported: true, WrappedDEK: wrapped, WrapSalt: wrapSalt},
			{CredentialID: "cred-2", PRFSupported: false},
		}}
	})

	var written []byte
	f.provider.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		written = args.Get(1).([]byte)
	}).Return(nil)

	require.NoError(t, f.orch.Save(context.Background()))

	file, err := model.ParseSyncFile(written)
	require.NoError(t, err)
	require.Contains(t, file.PasskeySecrets, "cred-1")
	assert.NotContains(t, file.PasskeySecrets, "cred-2")
	assert.Equal(t, wrapped, file.PasskeySecrets["cred-1"].WrappedDEK)
}

func remoteFile(t *testing.T, data *model.ExportedData) []byte {
	t.Helper()
	file := &model.SyncFile{Version: model.SyncFileVersion, ExportedAt: time.Now().UTC()}
	require.NoError(t, file.SetPlainData(data))
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	return raw
}

func TestOrchestrator_Load_MergesAndSavesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	kept := testTodo("local only", now)
	deleted := testTodo("deleted remotely", now.Add(-time.Hour))
	remoteOnly := testTodo("remote only", now)

	f.snapshots.data[f.familyID] = &model.ExportedData{
		Todos: []model.Todo{kept, deleted},
		Settings: &model.Settings{
			Currency: "EUR", ActiveProvider: model.ProviderLocal,
			EncryptionEnabled: true, UpdatedAt: now.Add(-time.Hour),
		},
	}

	raw := remoteFile(t, &model.ExportedData{
		Todos: []model.Todo{remoteOnly},
		Settings: &model.Settings{
			Currency: "USD", ActiveProvider: model.ProviderDrive, UpdatedAt: now,
		},
		Tombstones: []model.Tombstone{{ID: deleted.ID, EntityType: model.EntityTodo, DeletedAt: now}},
	})

	f.provider.On("Read", mock.Anything).Return(raw, nil)
	f.provider.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, f.orch.Load(ctx, Credentials{}))

	stored, err := f.snapshots.LoadSnapshot(ctx, f.familyID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(stored.Todos))
	for _, td := range stored.Todos {
		ids = append(ids, td.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{kept.ID, remoteOnly.ID}, ids)

	// Remote settings won on UpdatedAt, but replica-local fields survive.
	assert.Equal(t, "USD", stored.Settings.Currency)
	assert.Equal(t, model.ProviderLocal, stored.Settings.ActiveProvider)
	assert.True(t, stored.Settings.EncryptionEnabled)

	f.provider.AssertNumberOfCalls(t, "Write", 1)
}

func TestOrchestrator_Load_NoSaveBackWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC().Truncate(time.Second)

	td := testTodo("shared", now)
	f.snapshots.data[f.familyID] = &model.ExportedData{Todos: []model.Todo{td}}
	raw := remoteFile(t, &model.ExportedData{Todos: []model.Todo{td}})

	f.provider.On("Read", mock.Anything).Return(raw, nil)

	require.NoError(t, f.orch.Load(context.Background(), Credentials{}))
	f.provider.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestOrchestrator_Load_EmptyRemote(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Read", mock.Anything).Return(nil, nil)

	require.NoError(t, f.orch.Load(context.Background(), Credentials{}))
	f.provider.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestOrchestrator_Load_DecryptChain(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC().Truncate(time.Second)
	td := testTodo("secret plans", now)

	payload, err := json.Marshal(&model.ExportedData{Todos: []model.Todo{td}})
	require.NoError(t, err)
	env, err := f.crypto.Encrypt(payload, "family-pw")
	require.NoError(t, err)

	file := &model.SyncFile{Version: model.SyncFileVersion, ExportedAt: now}
	require.NoError(t, file.SetCipherData(env.Pack()))
	raw, err := json.Marshal(file)
	require.NoError(t, err)

	f.provider.On("Read", mock.Anything).Return(raw, nil)

	t.Run("wrong password fails", func(t *testing.T) {
		err := f.orch.Load(context.Background(), Credentials{Password: "wrong"})
		assert.ErrorIs(t, err, model.ErrWrongKey)
	})

	t.Run("stale key falls back to password", func(t *testing.T) {
		staleRaw := make([]byte, crypto.KeyLen)
		_, err := rand.Read(staleRaw)
		require.NoError(t, err)
		stale, err := crypto.KeyFromRaw(staleRaw)
		require.NoError(t, err)

		f.provider.On("Write", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, f.orch.Load(context.Background(), Credentials{DEK: stale, Password: "family-pw"}))

		stored, err := f.snapshots.LoadSnapshot(context.Background(), f.familyID)
		require.NoError(t, err)
		require.Len(t, stored.Todos, 1)
		assert.Equal(t, td.ID, stored.Todos[0].ID)
	})
}

func TestOrchestrator_CurrentSalt_RecoveredFromFile(t *testing.T) {
	f := newFixture(t)

	env, err := f.crypto.Encrypt([]byte(`{}`), "pw")
	require.NoError(t, err)
	file := &model.SyncFile{Version: model.SyncFileVersion, ExportedAt: time.Now().UTC()}
	require.NoError(t, file.SetCipherData(env.Pack()))
	raw, err := json.Marshal(file)
	require.NoError(t, err)

	f.provider.On("Read", mock.Anything).Return(raw, nil)

	assert.Equal(t, env.Salt, f.orch.CurrentSalt(context.Background()))
	// Second call answers from memory.
	assert.Equal(t, env.Salt, f.orch.CurrentSalt(context.Background()))
	f.provider.AssertNumberOfCalls(t, "Read", 1)
}

func TestOrchestrator_RecordDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, f.orch.RecordDeletion(ctx, model.EntityTodo, id))
	require.NoError(t, f.orch.RecordDeletion(ctx, model.EntityTodo, id))

	tombs, err := f.snapshots.LoadTombstones(ctx, f.familyID)
	require.NoError(t, err)
	require.Len(t, tombs, 1, "a second deletion replaces the tombstone")
	assert.Equal(t, id, tombs[0].ID)
}

func TestOrchestrator_ScheduledSaveDebounces(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once

	f := newFixture(t, func(o *Options) { o.Debounce = 20 * time.Millisecond })
	f.provider.On("Write", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		once.Do(func() { close(done) })
	}).Return(nil)

	f.orch.ScheduleSave()
	f.orch.ScheduleSave()
	f.orch.ScheduleSave()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced save never fired")
	}
}

func TestOrchestrator_OnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Put the tracker in a failed state first.
	f.provider.On("Write", mock.Anything, mock.Anything).Return(errors.New("offline")).Once()
	require.Error(t, f.orch.Save(ctx))
	level, _ := f.orch.FailureState()
	require.Equal(t, FailureWarning, level)

	require.NoError(t, f.queueStore.PutPending(ctx, f.familyID, []byte("queued")))
	f.provider.On("Write", mock.Anything, []byte("queued")).Return(nil).Once()

	f.orch.OnReconnect(ctx)

	level, _ = f.orch.FailureState()
	assert.Equal(t, FailureNone, level)

	_, content, err := f.queueStore.GetPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, content, "slot cleared after a delivered write")
}

func TestOrchestrator_SignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queueStore.PutPending(ctx, f.familyID, []byte("queued")))
	require.NoError(t, f.log.Put(ctx, model.SettingsLogEntry{FamilyID: f.familyID}))
	f.provider.On("Disconnect").Return()

	f.orch.SignOut(ctx)

	_, content, err := f.queueStore.GetPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, content)

	entry, err := f.log.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry)
	f.provider.AssertCalled(t, "Disconnect")
}

func TestOrchestrator_RemoteChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("no remote file", func(t *testing.T) {
		f.provider.On("LastModified", mock.Anything).Return(nil, nil).Once()
		changed, err := f.orch.RemoteChanged(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("never synced", func(t *testing.T) {
		f.provider.On("LastModified", mock.Anything).Return(&now, nil).Once()
		changed, err := f.orch.RemoteChanged(ctx)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("remote older than last sync", func(t *testing.T) {
		synced := now.Add(time.Hour)
		f.snapshots.data[f.familyID] = &model.ExportedData{
			Settings: &model.Settings{LastSyncedAt: &synced},
		}
		f.provider.On("LastModified", mock.Anything).Return(&now, nil).Once()
		changed, err := f.orch.RemoteChanged(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}
