package cache

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

// Binary is a byte store addressed by pre-derived keys, used for assets where
// no expiry concept applies. Values live as plain files so callers can hand
// paths to downstream tooling.
type Binary struct {
	directory string
	group     singleflight.Group
}

func NewBinary(directory string) (*Binary, error) {
	err := os.MkdirAll(directory, 0755)
	if err != nil {
		return nil, err
	}
	return &Binary{directory: directory}, nil
}

func (b *Binary) path(key string) string {
	return filepath.Join(b.directory, key)
}

func (b *Binary) Has(key string) bool {
	_, err := os.Stat(b.path(key))
	return err == nil
}

func (b *Binary) Get(key string) ([]byte, error) {
	contents, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contents, nil
}

// GetPath returns the on-disk location of a stored value.
func (b *Binary) GetPath(key string) (string, error) {
	if !b.Has(key) {
		return "", ErrNotFound
	}
	return b.path(key), nil
}

func (b *Binary) Set(key string, value []byte) error {
	// write-then-rename so a partial download never becomes visible
	tmp, err := os.CreateTemp(b.directory, ".tmp-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(value)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path(key))
}

func (b *Binary) GetOrSet(ctx context.Context, key string, factory func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	value, err, _ := b.group.Do(key, func() (any, error) {
		if existing, err := b.Get(key); err == nil {
			return existing, nil
		}
		produced, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		err = b.Set(key, produced)
		if err != nil {
			return nil, err
		}
		return produced, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}
