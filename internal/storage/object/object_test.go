package object

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hearthvault/hearthvault/internal/model"
	"github.com/hearthvault/hearthvault/internal/testutil"
)

// MockObjectAPI mocks the objectAPI interface
type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockObjectAPI) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Error(0)
}

func (m *MockObjectAPI) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func newTestProvider(api objectAPI) *Provider {
	return NewProviderWithAPI(api, "hearthvault-files", "family.json", nil, testutil.MakeNoopLogger())
}

func noSuchKey() error {
	return minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
}

func TestProvider_Write(t *testing.T) {
	api := &MockObjectAPI{}
	api.On("PutObject", mock.Anything, "hearthvault-files", "family.json", mock.Anything, int64(7), mock.Anything).
		Return(minio.UploadInfo{}, nil)

	p := newTestProvider(api)
	require.NoError(t, p.Write(context.Background(), []byte("content")))
	api.AssertExpectations(t)
}

func TestProvider_Write_Error(t *testing.T) {
	api := &MockObjectAPI{}
	api.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("connection refused"))

	p := newTestProvider(api)
	err := p.Write(context.Background(), []byte("content"))
	assert.True(t, model.IsIOError(err))
}

func TestProvider_Read(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(*MockObjectAPI)
		want      []byte
		wantErr   bool
	}{
		{
			name: "object exists",
			mockSetup: func(api *MockObjectAPI) {
				api.On("GetObject", mock.Anything, "hearthvault-files", "family.json", mock.Anything).
					Return(io.NopCloser(bytes.NewReader([]byte("stored"))), nil)
			},
			want: []byte("stored"),
		},
		{
			name: "missing object reads as empty",
			mockSetup: func(api *MockObjectAPI) {
				api.On("GetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, noSuchKey())
			},
			want: nil,
		},
		{
			name: "missing object detected on first read",
			mockSetup: func(api *MockObjectAPI) {
				// minio defers the error until the object is read.
				api.On("GetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(io.NopCloser(failingReader{err: noSuchKey()}), nil)
			},
			want: nil,
		},
		{
			name: "transport failure",
			mockSetup: func(api *MockObjectAPI) {
				api.On("GetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockObjectAPI{}
			tt.mockSetup(api)

			got, err := newTestProvider(api).Read(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, model.IsIOError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestProvider_LastModified(t *testing.T) {
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	api := &MockObjectAPI{}
	api.On("StatObject", mock.Anything, "hearthvault-files", "family.json", mock.Anything).
		Return(minio.ObjectInfo{LastModified: modified}, nil)

	got, err := newTestProvider(api).LastModified(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(modified))
}

func TestProvider_LastModified_Missing(t *testing.T) {
	api := &MockObjectAPI{}
	api.On("StatObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.ObjectInfo{}, noSuchKey())

	got, err := newTestProvider(api).LastModified(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProvider_RequestAccess(t *testing.T) {
	t.Run("bucket exists", func(t *testing.T) {
		api := &MockObjectAPI{}
		api.On("BucketExists", mock.Anything, "hearthvault-files").Return(true, nil)

		granted, err := newTestProvider(api).RequestAccess(context.Background())
		require.NoError(t, err)
		assert.True(t, granted)
		api.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bucket created on demand", func(t *testing.T) {
		api := &MockObjectAPI{}
		api.On("BucketExists", mock.Anything, "hearthvault-files").Return(false, nil)
		api.On("MakeBucket", mock.Anything, "hearthvault-files", mock.Anything).Return(nil)

		granted, err := newTestProvider(api).RequestAccess(context.Background())
		require.NoError(t, err)
		assert.True(t, granted)
		api.AssertExpectations(t)
	})
}

func TestProvider_Delete(t *testing.T) {
	api := &MockObjectAPI{}
	api.On("RemoveObject", mock.Anything, "hearthvault-files", "family.json", mock.Anything).Return(nil)

	require.NoError(t, newTestProvider(api).Delete(context.Background()))
	api.AssertExpectations(t)
}

func TestProvider_Persist(t *testing.T) {
	configs := &staticConfigs{}
	p := NewProviderWithAPI(&MockObjectAPI{}, "hearthvault-files", "family.json", configs, testutil.MakeNoopLogger())

	familyID := uuid.New()
	require.NoError(t, p.Persist(context.Background(), familyID))
	require.NotNil(t, configs.active)
	assert.Equal(t, model.ProviderObject, configs.active.Kind)
	assert.Equal(t, "hearthvault-files/family.json", configs.active.Location)
}

type staticConfigs struct {
	active *model.ProviderConfig
}

func (s *staticConfigs) SetActive(ctx context.Context, cfg model.ProviderConfig) error {
	s.active = &cfg
	return nil
}

func (s *staticConfigs) GetActive(ctx context.Context, familyID uuid.UUID) (*model.ProviderConfig, error) {
	return s.active, nil
}

func (s *staticConfigs) Clear(ctx context.Context, familyID uuid.UUID, kind model.ProviderKind) error {
	s.active = nil
	return nil
}
