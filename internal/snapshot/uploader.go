// Package snapshot archives the attested surface of a database root (the
// receipts directory and the manifest) and uploads it to S3-compatible
// storage. When S3 is not configured (empty bucket), the NoopUploader is
// used and the system stays local-only.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Maverick0351a/latticedb/internal/config"
)

// ErrNotConfigured is returned when S3 backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader uploads database backups and generates pre-signed download URLs.
type Uploader interface {
	// Upload archives the database root's attested surface and uploads it.
	Upload(ctx context.Context, root string) error

	// PresignedURL returns a pre-signed URL for downloading the backup.
	// Returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	opts := minio.PutObjectOptions{ContentType: "application/gzip"}
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, opts)
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// backupURLExpiry is how long a pre-signed download link stays valid.
const backupURLExpiry = 1 * time.Hour

// objectKey is the S3 object key for a root's backup archive.
const objectKey = "latticedb/backup/current.tar.gz"

// S3Uploader uploads backups to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload archives receipts/ and manifest.sqlite into a tar.gz and uploads it.
func (u *S3Uploader) Upload(ctx context.Context, root string) error {
	archive, err := Archive(root)
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	if err := u.client.FPutObject(ctx, u.bucket, objectKey, archive); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the backup archive.
func (u *S3Uploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, objectKey, backupURLExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(backupURLExpiry), nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload is a no-op when S3 is not configured.
func (u *NoopUploader) Upload(ctx context.Context, root string) error {
	return nil
}

// PresignedURL returns ErrNotConfigured when S3 is not configured.
func (u *NoopUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// Archive writes receipts/ and manifest.sqlite from the database root into a
// temp tar.gz and returns its path. The caller removes the file.
func Archive(root string) (string, error) {
	f, err := os.CreateTemp("", "latticedb-backup-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	fail := func(err error) (string, error) {
		tw.Close()
		gz.Close()
		f.Close()
		os.Remove(f.Name())
		return "", err
	}

	addFile := func(path, name string) error {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	}

	receiptsDir := filepath.Join(root, "receipts")
	entries, err := os.ReadDir(receiptsDir)
	if err != nil {
		return fail(fmt.Errorf("read receipts dir: %w", err))
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(filepath.Join(receiptsDir, entry.Name()), "receipts/"+entry.Name()); err != nil {
			return fail(fmt.Errorf("archive %s: %w", entry.Name(), err))
		}
	}
	manifestPath := filepath.Join(root, "manifest.sqlite")
	if _, err := os.Stat(manifestPath); err == nil {
		if err := addFile(manifestPath, "manifest.sqlite"); err != nil {
			return fail(fmt.Errorf("archive manifest: %w", err))
		}
	}

	if err := tw.Close(); err != nil {
		return fail(err)
	}
	if err := gz.Close(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
