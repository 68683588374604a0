package ocrsession

import (
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"
)

// BlobStore is where the opaque image bytes live. The upload
// collaborator hands bytes in, the store hands a key back; nothing in
// the engine interprets the key.
type BlobStore interface {
	Save(data []byte) (key string, err error)
	Load(key string) ([]byte, error)
	Delete(key string) error
}

// FsBlobStore keeps blobs as flat files under one directory, keyed by
// ksuid so keys sort by creation time.
type FsBlobStore struct {
	dir string
}

func NewFsBlobStore(dir string) (*FsBlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FsBlobStore{dir: dir}, nil
}

func (s *FsBlobStore) Save(data []byte) (string, error) {
	key := ksuid.New().String() + ".img"
	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0600); err != nil {
		return "", err
	}
	return key, nil
}

func (s *FsBlobStore) Load(key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, key))
}

func (s *FsBlobStore) Delete(key string) error {
	return os.Remove(filepath.Join(s.dir, key))
}
