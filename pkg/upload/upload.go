package upload

import "context"

// Summary describes a completed upload.
type Summary struct {
	Files  int
	Bytes  int64
	Prefix string
}

// Uploader publishes the dashboard output directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir under the configured remote
	// prefix, keeping their relative paths.
	Upload(ctx context.Context, localDir string) (*Summary, error)

	// Restore downloads the previously published object name into
	// localPath. It reports false when the object does not exist.
	Restore(ctx context.Context, name, localPath string) (bool, error)
}
