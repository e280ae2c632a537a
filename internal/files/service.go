// Package files implements the user-facing file operations: upload, list,
// download, and delete, each composing the key scheme with the object store
// client.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/filegate/service/internal/objstore"
)

// Store is the object store surface the service needs. Implemented by
// *objstore.Client; swapped for a fake in tests.
type Store interface {
	Upload(ctx context.Context, key string, data []byte) (objstore.FileVersion, error)
	List(ctx context.Context, prefix string) ([]objstore.FileVersion, error)
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	LatestVersionID(ctx context.Context, key string) (string, error)
	DeleteVersion(ctx context.Context, key, versionID string) error
}

// Service contains the business logic for per-user file management.
type Service struct {
	store Store
}

// NewService creates a new file Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Upload stores data under the user's namespace as a new version of filename.
// Repeating the call is not an error; each call creates another version and
// the last write becomes the one listing and download see.
func (s *Service) Upload(ctx context.Context, user, filename string, data []byte) (objstore.FileVersion, error) {
	key, err := objstore.DeriveKey(user, filename)
	if err != nil {
		return objstore.FileVersion{}, err
	}
	fv, err := s.store.Upload(ctx, key, data)
	if err != nil {
		return objstore.FileVersion{}, fmt.Errorf("upload %q: %w", key, err)
	}
	return fv, nil
}

// List returns the user's file names relative to their namespace, in the
// store's enumeration order.
func (s *Service) List(ctx context.Context, user string) ([]string, error) {
	prefix, err := objstore.Prefix(user)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	names := make([]string, 0, len(versions))
	for _, v := range versions {
		if name, ok := objstore.RelativeName(v.Key, prefix); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Download streams the newest version of the user's file. The caller must
// close the returned reader; nothing is spooled to disk on the way through.
func (s *Service) Download(ctx context.Context, user, filename string) (io.ReadCloser, error) {
	key, err := objstore.DeriveKey(user, filename)
	if err != nil {
		return nil, err
	}
	rc, err := s.store.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", key, err)
	}
	return rc, nil
}

// Delete removes the newest version of the user's file. The store addresses
// deletion by (key, version id), so the current version is resolved first and
// then deleted. A version that disappears between the two steps means the
// object is already gone, which is the outcome the caller asked for, so that
// one not-found is treated as success.
func (s *Service) Delete(ctx context.Context, user, filename string) error {
	key, err := objstore.DeriveKey(user, filename)
	if err != nil {
		return err
	}

	versionID, err := s.store.LatestVersionID(ctx, key)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", key, err)
	}

	err = s.store.DeleteVersion(ctx, key, versionID)
	if errors.Is(err, objstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %q version %s: %w", key, versionID, err)
	}
	return nil
}
