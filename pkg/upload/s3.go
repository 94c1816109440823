package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/testtrend/pkg/config"
	"github.com/ethpandaops/testtrend/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of files uploaded in parallel.
const defaultConcurrency = 4

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "dashboard"

// objectAPI is the subset of the S3 client used by the uploader.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client objectAPI
	owner  *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
// Restored files are chowned to owner when it is set.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
	owner *fsutil.OwnerConfig,
) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: newS3Client(cfg),
		owner:  owner,
	}, nil
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("testtrend write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.key(".testtrend-write-test")),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

type uploadTask struct {
	path string
	rel  string
	size int64
}

// Upload walks localDir and uploads all files to S3 under the configured prefix.
func (u *s3Uploader) Upload(ctx context.Context, localDir string) (*Summary, error) {
	tasks, err := u.collect(localDir)
	if err != nil {
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)

	var uploaded atomic.Int64

	for _, task := range tasks {
		task := task

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			if err := u.uploadFile(gCtx, task.path, u.key(task.rel)); err != nil {
				return fmt.Errorf("uploading %s: %w", task.rel, err)
			}

			uploaded.Add(task.size)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Files:  len(tasks),
		Bytes:  uploaded.Load(),
		Prefix: u.prefix(),
	}

	u.log.WithFields(logrus.Fields{
		"files":  summary.Files,
		"size":   units.HumanSize(float64(summary.Bytes)),
		"bucket": u.cfg.Bucket,
		"prefix": summary.Prefix,
	}).Info("Upload completed")

	return summary, nil
}

// collect lists the files of localDir that should be published.
func (u *s3Uploader) collect(localDir string) ([]uploadTask, error) {
	var tasks []uploadTask

	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != localDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if u.excluded(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		tasks = append(tasks, uploadTask{
			path: path,
			rel:  filepath.ToSlash(relPath),
			size: info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	return tasks, nil
}

// excluded reports whether a file is kept out of the upload. Hidden files
// (including in-flight temp files) are never published.
func (u *s3Uploader) excluded(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}

	for _, pattern := range u.cfg.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

// uploadFile uploads a single file to S3.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

// Restore downloads prefix/name into localPath.
func (u *s3Uploader) Restore(ctx context.Context, name, localPath string) (bool, error) {
	key := u.key(name)
	log := u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	})

	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			log.Info("No published copy to restore")

			return false, nil
		}

		return false, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, fmt.Errorf("reading object %q: %w", key, err)
	}

	if err := fsutil.WriteFile(localPath, data, 0o644, u.owner); err != nil {
		return false, fmt.Errorf("writing %s: %w", localPath, err)
	}

	log.WithField("size", units.HumanSize(float64(len(data)))).Info("Restored published copy")

	return true, nil
}

func (u *s3Uploader) prefix() string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return prefix
}

// key builds the object key of a file relative to the output directory.
func (u *s3Uploader) key(rel string) string {
	return u.prefix() + "/" + strings.TrimLeft(rel, "/")
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
