// Package s3 provides a replica client backed by an S3-compatible object
// store such as AWS S3 or MinIO.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/statdb/statdb"
)

var _ statdb.ReplicaClient = (*ReplicaClient)(nil)

// ReplicaClient ships backup artifacts into a bucket. Fields must be set
// before the first call; the underlying connection is built lazily.
type ReplicaClient struct {
	mu     sync.Mutex
	client *minio.Client

	// Endpoint is the object store URL (e.g. "https://s3.example.com:9000").
	Endpoint string

	// Bucket receiving the artifacts. Must already exist.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	AccessKeyID     string
	SecretAccessKey string
}

// NewReplicaClient returns a new instance of ReplicaClient.
func NewReplicaClient() *ReplicaClient {
	return &ReplicaClient{}
}

// Name returns the bucket URL of the replica.
func (c *ReplicaClient) Name() string {
	return fmt.Sprintf("s3://%s/%s", c.Bucket, c.Prefix)
}

// Init eagerly builds the connection. Calling it is optional; the first
// upload or listing initializes on demand.
func (c *ReplicaClient) Init(ctx context.Context) error {
	_, err := c.connect()
	return err
}

func (c *ReplicaClient) connect() (*minio.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint scheme %q: must be http or https", u.Scheme)
	} else if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing hostname", c.Endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKeyID, c.SecretAccessKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.Host, err)
	}

	c.client = client
	return client, nil
}

// UploadBackup stores the artifact under the configured prefix.
func (c *ReplicaClient) UploadBackup(ctx context.Context, name string, r io.Reader, size int64) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	key := path.Join(c.Prefix, name)
	if _, err := client.PutObject(ctx, c.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Backups returns the artifact names under the configured prefix, newest
// name first.
func (c *ReplicaClient) Backups(ctx context.Context) ([]string, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	var names []string
	for object := range client.ListObjects(ctx, c.Bucket, minio.ListObjectsOptions{
		Prefix:    c.Prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s: %w", c.Bucket, object.Err)
		}
		names = append(names, path.Base(object.Key))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
