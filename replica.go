package statdb

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/statdb/statdb/internal"
)

// ReplicaClient receives a copy of every backup artifact the engine
// produces. Replication is one-way and best-effort; the engine never
// blocks on a replica.
type ReplicaClient interface {
	// Name identifies the replica in logs.
	Name() string

	// UploadBackup stores the backup artifact under its file name.
	// Uploading the same name twice overwrites the previous copy.
	UploadBackup(ctx context.Context, name string, r io.Reader, size int64) error

	// Backups returns the artifact names held by the replica, newest
	// name first.
	Backups(ctx context.Context) ([]string, error)
}

var _ ReplicaClient = (*FileReplicaClient)(nil)

// FileReplicaClient is a reference implementation for ReplicaClient that
// mirrors artifacts into a local directory. This implementation is
// typically only used for testing.
type FileReplicaClient struct {
	mu   sync.Mutex
	path string
}

// NewFileReplicaClient returns a new instance of FileReplicaClient.
func NewFileReplicaClient(path string) *FileReplicaClient {
	return &FileReplicaClient{path: path}
}

// Open validates & creates the path the client was initialized with.
func (c *FileReplicaClient) Open() (err error) {
	if c.path == "" {
		return fmt.Errorf("replica path required")
	} else if c.path, err = filepath.Abs(c.path); err != nil {
		return err
	}
	return os.MkdirAll(c.path, 0o777)
}

// Name returns the file URL of the replica directory.
func (c *FileReplicaClient) Name() string {
	return (&url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(c.path),
	}).String()
}

// UploadBackup writes the artifact into the replica directory.
func (c *FileReplicaClient) UploadBackup(ctx context.Context, name string, r io.Reader, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := atomic.WriteFile(filepath.Join(c.path, name), r); err != nil {
		return err
	}
	return internal.Sync(c.path)
}

// Backups returns the artifact names in the replica directory.
func (c *FileReplicaClient) Backups(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ents, err := os.ReadDir(c.path)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
