package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Storage is a blob store for history payloads and exported images
type Storage interface {
	// Put returns a writer to save an object. The object is visible after Close.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens an object, or fails with a model.TagNotFound error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client. Keys are stored under
// prefix when it is not empty.
func NewStorage(ctx context.Context, bucketName, prefix string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		client:     client,
	}, nil
}

func (s *storageClient) object(key string) *storage.ObjectHandle {
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return s.client.Bucket(s.bucketName).Object(key)
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.object(key).NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.New("object not found", goerr.T(model.TagNotFound), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

func (s *storageClient) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete from storage", goerr.V("key", key))
	}
	return nil
}

// fileStorage implements Storage on a local directory
type fileStorage struct {
	root string
}

// NewFileStorage stores objects as files under root
func NewFileStorage(root string) (Storage, error) {
	if root == "" {
		return nil, goerr.New("storage directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("root", root))
	}
	return &fileStorage{root: root}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.root, clean), nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create object directory", goerr.V("key", key))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create object file", goerr.V("key", key))
	}
	return &fileWriter{File: tmp, dst: path}, nil
}

// fileWriter renames the temporary file into place on Close so that readers
// never observe partially written objects
type fileWriter struct {
	*os.File
	dst    string
	closed bool
}

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.File.Close(); err != nil {
		os.Remove(w.File.Name())
		return goerr.Wrap(err, "failed to close object file")
	}
	if err := os.Rename(w.File.Name(), w.dst); err != nil {
		os.Remove(w.File.Name())
		return goerr.Wrap(err, "failed to move object file", goerr.V("dst", w.dst))
	}
	return nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, goerr.New("object not found", goerr.T(model.TagNotFound), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}
