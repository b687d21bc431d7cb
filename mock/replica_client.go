package mock

import (
	"context"
	"io"

	"github.com/statdb/statdb"
)

var _ statdb.ReplicaClient = (*ReplicaClient)(nil)

type ReplicaClient struct {
	NameFunc         func() string
	UploadBackupFunc func(ctx context.Context, name string, r io.Reader, size int64) error
	BackupsFunc      func(ctx context.Context) ([]string, error)
}

func (c *ReplicaClient) Name() string {
	return c.NameFunc()
}

func (c *ReplicaClient) UploadBackup(ctx context.Context, name string, r io.Reader, size int64) error {
	return c.UploadBackupFunc(ctx, name, r, size)
}

func (c *ReplicaClient) Backups(ctx context.Context) ([]string, error) {
	return c.BackupsFunc(ctx)
}
