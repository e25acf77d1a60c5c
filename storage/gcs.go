package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/storage/v1"

	"github.com/havenfield/reductor/thunk"
)

// GCS is a Backend storing blobs as objects under Prefix in a Google
// Cloud Storage bucket, authenticated with a pre-fetched OAuth2
// token -- acquiring that token (env access token, or a service
// account JSON key) is left to the caller, mirroring how the teacher
// separates credential loading from the actual object service calls.
type GCS struct {
	Bucket string
	Prefix string
	Token  *oauth2.Token
}

var _ Backend = GCS{}

func (g GCS) Label() string { return "gs://" + g.Bucket + "/" + g.Prefix }

func (g GCS) key(h thunk.Hash) string {
	return filepath.Join(g.Prefix, string(h))
}

func (g GCS) objects() (*storage.ObjectsService, error) {
	client := &http.Client{Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(g.Token)}}
	svc, err := storage.New(client)
	if err != nil {
		return nil, fmt.Errorf("storage/gcs: building object service: %w", err)
	}
	return storage.NewObjectsService(svc), nil
}

func (g GCS) IsAvailable(ctx context.Context, h thunk.Hash) (bool, error) {
	objs, err := g.objects()
	if err != nil {
		return false, err
	}
	_, err = objs.Get(g.Bucket, g.key(h)).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("storage/gcs: checking %s: %w", h, err)
}

func (g GCS) Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	src, err := os.Open(store.BlobPath(h))
	if err != nil {
		return fmt.Errorf("storage/gcs: opening local blob %s: %w", h, err)
	}
	defer src.Close()

	objs, err := g.objects()
	if err != nil {
		return err
	}
	obj := &storage.Object{Name: g.key(h)}
	if _, err := objs.Insert(g.Bucket, obj).Context(ctx).Media(src).Do(); err != nil {
		return fmt.Errorf("storage/gcs: uploading %s: %w", h, err)
	}
	return nil
}

func (g GCS) Download(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	objs, err := g.objects()
	if err != nil {
		return err
	}
	resp, err := objs.Get(g.Bucket, g.key(h)).Context(ctx).Download()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == http.StatusNotFound {
			return ErrNotAvailable{Hash: h}
		}
		return fmt.Errorf("storage/gcs: downloading %s: %w", h, err)
	}
	defer resp.Body.Close()

	dst := store.BlobPath(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("storage/gcs: preparing local blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage/gcs: staging local blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("storage/gcs: copying %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage/gcs: closing staged blob %s: %w", h, err)
	}
	return os.Rename(tmpName, dst)
}
