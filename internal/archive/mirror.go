package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

var (
	// ErrNotConfigured is returned by Open when no bucket URL is set.
	ErrNotConfigured = errors.New("archive: no bucket configured")
	// ErrMismatch is returned when a mirrored object does not match the
	// uploaded file.
	ErrMismatch = errors.New("archive: mirrored object does not match")
)

// Metadata keys stored with every mirrored archive.
const (
	MetaProjectID = "project_id"
	MetaSourceURL = "source_url"
	MetaSHA256    = "sha256"
)

// Source describes where an archive came from.
type Source struct {
	ProjectID int64
	URL       string
}

// Object is a mirrored archive.
type Object struct {
	Key    string
	Size   int64
	SHA256 string
}

// ValidationResult reports how a mirrored object compares to expectations.
type ValidationResult struct {
	Valid   bool   // true if the object exists with the expected size and checksum
	Missing bool   // true if the object does not exist
	Size    int64  // size of the stored object
	SHA256  string // checksum recorded in the object's metadata
	Errors  []string
}

// Err returns nil for a valid result and an ErrMismatch listing the problems
// otherwise.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMismatch, strings.Join(r.Errors, "; "))
}

// Mirror copies downloaded archives into a gocloud bucket.
type Mirror struct {
	bucket *blob.Bucket
	prefix string
}

// Open opens the bucket at bucketURL. Supported schemes are file://, mem://,
// s3:// and gs://.
func Open(ctx context.Context, bucketURL, prefix string) (*Mirror, error) {
	if bucketURL == "" {
		return nil, ErrNotConfigured
	}
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("archive: open bucket: %w", err)
	}
	return New(bkt, prefix), nil
}

// New wraps an already open bucket. Objects are stored under prefix.
func New(bucket *blob.Bucket, prefix string) *Mirror {
	return &Mirror{bucket: bucket, prefix: prefix}
}

// Key returns the object key used for the local file at path.
func (m *Mirror) Key(path string) string {
	return m.prefix + filepath.Base(path)
}

// Put uploads the local archive at path and returns the stored object.
func (m *Mirror) Put(ctx context.Context, path string, src Source) (*Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	// Hash in a first pass so the checksum can travel as object metadata.
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("archive: hash %s: %w", path, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("archive: rewind %s: %w", path, err)
	}

	key := m.Key(path)
	w, err := m.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: "application/gzip",
		Metadata: map[string]string{
			MetaProjectID: strconv.FormatInt(src.ProjectID, 10),
			MetaSourceURL: src.URL,
			MetaSHA256:    sum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", key, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return nil, fmt.Errorf("archive: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: commit %s: %w", key, err)
	}

	return &Object{Key: key, Size: size, SHA256: sum}, nil
}

// Validate checks that the object at key exists and matches want.
//
// A missing object or a mismatch is reported in the result with Valid=false;
// the error is reserved for failures to reach the bucket.
func (m *Mirror) Validate(ctx context.Context, key string, want Object) (*ValidationResult, error) {
	attrs, err := m.bucket.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return &ValidationResult{Missing: true, Errors: []string{"object missing: " + key}}, nil
		}
		return nil, fmt.Errorf("archive: stat %s: %w", key, err)
	}

	result := &ValidationResult{
		Valid:  true,
		Size:   attrs.Size,
		SHA256: attrs.Metadata[MetaSHA256],
	}
	if attrs.Size != want.Size {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("size mismatch: expected %d, got %d", want.Size, attrs.Size))
	}
	if want.SHA256 != "" && result.SHA256 != want.SHA256 {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("checksum mismatch: expected %s, got %s", want.SHA256, result.SHA256))
	}
	return result, nil
}

// Close closes the underlying bucket.
func (m *Mirror) Close() error {
	return m.bucket.Close()
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
