package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"savekeeper/internal/saves"
)

// s3API is the subset of the S3 client used by S3FileSystem.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Options configures the connection to an S3 compatible bucket.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, for S3 compatible services
	AccessKeyID     string // optional, falls back to the default credential chain
	SecretAccessKey string
}

// S3FileSystem stores files as objects of a bucket below a key prefix.
//
// Directories are represented by empty marker objects whose key ends with a
// slash, so that empty directories survive and can be listed.
type S3FileSystem struct {
	api      s3API
	uploader uploader
	bucket   string
	prefix   string
}

// deleteBatchSize is the maximum number of keys accepted by DeleteObjects.
const deleteBatchSize = 1000

// NewS3FileSystem connects to the bucket described by opts.
func NewS3FileSystem(ctx context.Context, opts S3Options) (*S3FileSystem, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 filesystem requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3FileSystem(client, manager.NewUploader(client), opts.Bucket, opts.Prefix), nil
}

func newS3FileSystem(api s3API, up uploader, bucket, prefix string) *S3FileSystem {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3FileSystem{api: api, uploader: up, bucket: bucket, prefix: prefix}
}

// key maps a logical file path to its object key.
func (f *S3FileSystem) key(p string) string {
	return f.prefix + strings.TrimPrefix(cleanPath(p), "/")
}

// dirKey maps a logical directory path to its marker key.
func (f *S3FileSystem) dirKey(p string) string {
	p = cleanPath(p)
	if p == "/" {
		return f.prefix
	}
	return f.key(p) + "/"
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (f *S3FileSystem) CreateDirectory(ctx context.Context, p string) error {
	p = cleanPath(p)
	var dirs []string
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		dirs = append(dirs, dir)
	}
	// Parents first, so a concurrent reader never sees a child without its parent.
	for i := len(dirs) - 1; i >= 0; i-- {
		_, err := f.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(f.dirKey(dirs[i])),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", dirs[i], err)
		}
	}
	return nil
}

func (f *S3FileSystem) DeleteDirectory(ctx context.Context, p string) error {
	keys, err := f.listKeys(ctx, f.dirKey(p))
	if err != nil {
		return fmt.Errorf("deleting directory %s: %w", p, err)
	}
	if len(keys) == 0 {
		return notExist("deletedir", p)
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := f.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(f.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting directory %s: %w", p, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("deleting directory %s: %d objects not deleted, first %s: %s",
				p, len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// listKeys returns every key below prefix, recursively.
func (f *S3FileSystem) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(f.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (f *S3FileSystem) ListDirectory(ctx context.Context, p string) ([]string, error) {
	prefix := f.dirKey(p)
	paginator := s3.NewListObjectsV2Paginator(f.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	found := false
	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing directory %s: %w", p, err)
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				names = append(names, name)
			}
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/"))
		}
	}
	if !found && cleanPath(p) != "/" {
		return nil, notExist("readdir", p)
	}
	sort.Strings(names)
	return names, nil
}

func (f *S3FileSystem) DirectoryExists(ctx context.Context, p string) (bool, error) {
	if cleanPath(p) == "/" {
		return true, nil
	}
	out, err := f.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(f.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("checking directory %s: %w", p, err)
	}
	return len(out.Contents) > 0, nil
}

func (f *S3FileSystem) WriteFile(ctx context.Context, p string, data []byte) error {
	exists, err := f.DirectoryExists(ctx, path.Dir(cleanPath(p)))
	if err != nil {
		return err
	}
	if !exists {
		return notExist("write", path.Dir(cleanPath(p)))
	}

	// An object becomes visible only once the upload completes.
	_, err = f.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(f.bucket),
		Key:         aws.String(f.key(p)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", p, err)
	}
	return nil
}

func (f *S3FileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, notExist("read", p)
		}
		return nil, fmt.Errorf("downloading %s: %w", p, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", p, err)
	}
	return data, nil
}

func (f *S3FileSystem) DeleteFile(ctx context.Context, p string) error {
	// DeleteObject succeeds for missing keys, so check first.
	exists, err := f.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		return notExist("remove", p)
	}
	_, err = f.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

func (f *S3FileSystem) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := f.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", p, err)
	}
	return true, nil
}

var _ saves.FileSystem = (*S3FileSystem)(nil)
