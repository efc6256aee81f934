// Package object implements the storage provider backed by S3-compatible
// object storage, for self-hosted mirrors.
package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

// Internal adapter interface to enable mocking without a real object store.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Wrapper to adapt *minio.Client to objectAPI.
type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}
func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}
func (w minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}
func (w minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := w.c.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
func (w minioClientWrapper) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return w.c.RemoveObject(ctx, bucketName, objectName, opts)
}
func (w minioClientWrapper) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return w.c.StatObject(ctx, bucketName, objectName, opts)
}

var _ model.Provider = (*Provider)(nil)

// Provider stores the family file as a single object.
type Provider struct {
	api     objectAPI
	bucket  string
	key     string
	configs model.ProviderConfigStore
	logger  *logger.Logger
}

// NewProvider creates an object storage provider using a real *minio.Client.
func NewProvider(client *minio.Client, bucket, key string, configs model.ProviderConfigStore, logger *logger.Logger) *Provider {
	return NewProviderWithAPI(minioClientWrapper{c: client}, bucket, key, configs, logger)
}

// NewProviderWithAPI allows injecting a mockable API (used in tests).
func NewProviderWithAPI(api objectAPI, bucket, key string, configs model.ProviderConfigStore, logger *logger.Logger) *Provider {
	return &Provider{api: api, bucket: bucket, key: key, configs: configs, logger: logger}
}

func (p *Provider) Kind() model.ProviderKind { return model.ProviderObject }

func (p *Provider) Write(ctx context.Context, content []byte) error {
	_, err := p.api.PutObject(ctx, p.bucket, p.key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return model.NewIOError("write", err)
	}
	return nil
}

func (p *Provider) Read(ctx context.Context) ([]byte, error) {
	obj, err := p.api.GetObject(ctx, p.bucket, p.key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, model.NewIOError("read", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, model.NewIOError("read", err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

func (p *Provider) LastModified(ctx context.Context) (*time.Time, error) {
	info, err := p.api.StatObject(ctx, p.bucket, p.key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, model.NewIOError("stat", err)
	}
	t := info.LastModified
	return &t, nil
}

func (p *Provider) Ready(ctx context.Context) bool {
	exists, err := p.api.BucketExists(ctx, p.bucket)
	return err == nil && exists
}

// RequestAccess ensures the bucket exists, creating it when missing.
func (p *Provider) RequestAccess(ctx context.Context) (bool, error) {
	exists, err := p.api.BucketExists(ctx, p.bucket)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := p.api.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return false, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return true, nil
}

func (p *Provider) Persist(ctx context.Context, familyID uuid.UUID) error {
	return p.configs.SetActive(ctx, model.ProviderConfig{
		FamilyID:    familyID,
		Kind:        model.ProviderObject,
		Location:    p.bucket + "/" + p.key,
		DisplayName: p.key,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (p *Provider) ClearPersisted(ctx context.Context, familyID uuid.UUID) error {
	return p.configs.Clear(ctx, familyID, model.ProviderObject)
}

func (p *Provider) Disconnect() {}

// Delete removes the remote object. Used when a family is deleted.
func (p *Provider) Delete(ctx context.Context) error {
	if err := p.api.RemoveObject(ctx, p.bucket, p.key, minio.RemoveObjectOptions{}); err != nil {
		return model.NewIOError("delete", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
