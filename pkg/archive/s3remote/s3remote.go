// Package s3remote implements archive.Archive over a single S3 object,
// grounded on the teacher's pkg/store/content/s3 (its S3ContentStore
// wraps an *s3.Client + bucket/key-prefix pair and fetches/stores whole
// objects with GetObject/PutObject). Unlike that store, a bulk-data
// archive is a single stream rather than a filesystem of named content, so
// this package fetches one object into memory on open and flushes one
// object on close instead of modeling multipart incremental writes.
package s3remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bulkdata/engine/pkg/archive"
)

// Config names the bucket, key, and client an Archive round-trips through.
type Config struct {
	Client *s3.Client
	Bucket string
	Key    string
}

func (c Config) uri() string { return fmt.Sprintf("s3://%s/%s", c.Bucket, c.Key) }

// Archive is an archive.Archive backed by a single S3 object. It embeds
// *archive.Memory for the Tell/Seek/Serialize* primitives — an S3 object
// has no byte-range write support, so every mutation happens against an
// in-memory buffer and only touches S3 on Open (one GetObject) and Close
// (one PutObject, save mode only).
type Archive struct {
	*archive.Memory

	cfg Config
}

// Open fetches the object at cfg.Key from cfg.Bucket and returns a
// load-mode Archive over its bytes.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	out, err := cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(cfg.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3remote: get object %s: %w", cfg.uri(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3remote: read object body %s: %w", cfg.uri(), err)
	}

	return &Archive{Memory: archive.NewMemoryFrom(data), cfg: cfg}, nil
}

// Create returns an empty save-mode Archive that uploads its buffered
// bytes to cfg.Key as a single PutObject on Close.
func Create(cfg Config) *Archive {
	return &Archive{Memory: archive.NewMemory(), cfg: cfg}
}

// Filename reports the s3:// URI backing this archive, overriding
// archive.Memory's Filename() (which always returns ""). The async-fetch
// reopen path (spec.md §4.3/§6) needs a non-empty, resolvable filename.
func (a *Archive) Filename() string { return a.cfg.uri() }

// Close uploads the buffered bytes to S3 if this archive is in save mode,
// then tears down the embedded Memory archive (detaching every attached
// Attachable). Upload uses a background context: Archive's Close() takes
// no context, matching every other archive.Archive implementation's
// synchronous teardown contract.
func (a *Archive) Close() error {
	if a.Memory.IsSaving() {
		if _, err := a.cfg.Client.PutObject(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(a.cfg.Bucket),
			Key:    aws.String(a.cfg.Key),
			Body:   bytes.NewReader(a.Memory.Bytes()),
		}); err != nil {
			return fmt.Errorf("s3remote: put object %s: %w", a.cfg.uri(), err)
		}
	}
	return a.Memory.Close()
}

// Opener returns a bulkdata.FileOpener-compatible function that opens
// "bucket/key" or "s3://bucket/key" paths (the form Filename reports)
// against client — the remote equivalent of
// bulkdata.DefaultFileOpener, for a host process whose BulkData instances
// are backed by S3 rather than local files.
func Opener(client *s3.Client) func(path string) (archive.Archive, error) {
	return func(path string) (archive.Archive, error) {
		bucket, key, err := splitBucketKey(strings.TrimPrefix(path, "s3://"))
		if err != nil {
			return nil, fmt.Errorf("s3remote: opener: %w", err)
		}
		return Open(context.Background(), Config{Client: client, Bucket: bucket, Key: key})
	}
}

func splitBucketKey(path string) (bucket, key string, err error) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("path %q is not in bucket/key form", path)
}
