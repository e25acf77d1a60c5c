package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rlmcpherson/s3gof3r"

	"github.com/havenfield/reductor/thunk"
)

// s3Conf matches the teacher's transmat settings for S3 access:
// parallel multipart upload/download, generous retry, HTTPS only.
var s3Conf = &s3gof3r.Config{
	Concurrency: 10,
	PartSize:    20 * 1024 * 1024,
	NTry:        10,
	Md5Check:    false,
	Scheme:      "https",
	Client:      s3gof3r.ClientWithTimeout(15 * time.Second),
}

// S3 is a Backend storing blobs as objects under Prefix in an S3
// bucket, keyed by hash.
type S3 struct {
	Bucket string
	Prefix string
	Keys   s3gof3r.Keys
}

var _ Backend = S3{}

func (s S3) Label() string { return "s3://" + s.Bucket + "/" + s.Prefix }

func (s S3) key(h thunk.Hash) string {
	return filepath.Join(s.Prefix, string(h))
}

func (s S3) bucket() *s3gof3r.Bucket {
	return s3gof3r.New("s3.amazonaws.com", s.Keys).Bucket(s.Bucket)
}

func (s S3) IsAvailable(ctx context.Context, h thunk.Hash) (bool, error) {
	_, _, err := s.bucket().GetReader(s.key(h), s3Conf)
	if err == nil {
		return true, nil
	}
	if respErr, ok := err.(*s3gof3r.RespError); ok && respErr.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("storage/s3: checking %s: %w", h, err)
}

func (s S3) Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	src, err := os.Open(store.BlobPath(h))
	if err != nil {
		return fmt.Errorf("storage/s3: opening local blob %s: %w", h, err)
	}
	defer src.Close()

	w, err := s.bucket().PutWriter(s.key(h), nil, s3Conf)
	if err != nil {
		return fmt.Errorf("storage/s3: opening upload for %s: %w", h, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("storage/s3: uploading %s: %w", h, err)
	}
	return w.Close()
}

func (s S3) Download(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	r, _, err := s.bucket().GetReader(s.key(h), s3Conf)
	if err != nil {
		if respErr, ok := err.(*s3gof3r.RespError); ok && respErr.Code == "NoSuchKey" {
			return ErrNotAvailable{Hash: h}
		}
		return fmt.Errorf("storage/s3: downloading %s: %w", h, err)
	}
	defer r.Close()

	dst := store.BlobPath(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("storage/s3: preparing local blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage/s3: staging local blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("storage/s3: copying %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage/s3: closing staged blob %s: %w", h, err)
	}
	return os.Rename(tmpName, dst)
}
