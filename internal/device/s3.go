package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"arc-go/internal/arc"
)

// S3API is the part of the S3 client the device uses.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options holds connection settings for an S3 device.
type S3Options struct {
	Region    string
	Profile   string
	Endpoint  string // S3-compatible endpoint; enables path-style addressing
	AccessKey string
	SecretKey string
}

// S3Device stores each volume as a set of objects under <prefix>/<label>/ in
// a bucket. The bucket is always attached, so it never waits for media.
type S3Device struct {
	name     string
	bucket   string
	prefix   string
	client   S3API
	uploader *manager.Uploader
}

// NewS3Device creates an S3 device using client.
func NewS3Device(name, bucket, prefix string, client S3API) *S3Device {
	return &S3Device{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3Client builds an S3 client from the shared AWS configuration,
// overridden by whatever opts sets.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("AWS config failed: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (d *S3Device) volumePrefix(v *arc.Volume) string {
	if d.prefix == "" {
		return v.Label() + "/"
	}
	return d.prefix + "/" + v.Label() + "/"
}

func (d *S3Device) key(v *arc.Volume, rel string) (string, error) {
	clean := path.Clean(rel)
	if rel == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid entry path: %q", rel)
	}
	return d.volumePrefix(v) + clean, nil
}

func (d *S3Device) Name() string              { return d.name }
func (d *S3Device) Kind() arc.MediumKind      { return arc.KindS3 }
func (d *S3Device) NeedsMedium(arc.Phase) bool { return false }
func (d *S3Device) Resumable() bool           { return true }

func (d *S3Device) Identify(context.Context) (string, error) {
	return "", nil
}

func (d *S3Device) Prepare(context.Context, *arc.Volume) error {
	return nil
}

// Create streams the entry into an upload. The object exists once the
// writer is closed without error; a short write aborts the upload.
func (d *S3Device) Create(ctx context.Context, v *arc.Volume, e arc.Entry) (io.WriteCloser, error) {
	key, err := d.key(v, e.RelativePath)
	if err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}
	if !e.Times.Modified.IsZero() {
		input.Metadata = map[string]string{"mtime": e.Times.Modified.UTC().Format(time.RFC3339Nano)}
	}

	pr, pw := io.Pipe()
	input.Body = pr
	done := make(chan error, 1)
	go func() {
		_, err := d.uploader.Upload(ctx, input)
		pr.CloseWithError(err)
		done <- err
	}()
	return &s3Entry{pw: pw, done: done, want: e.Size}, nil
}

// Remove deletes the entry's object. S3 reports success for a missing key.
func (d *S3Device) Remove(ctx context.Context, v *arc.Volume, e arc.Entry) error {
	key, err := d.key(v, e.RelativePath)
	if err != nil {
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// PreserveTimes is a no-op; the modification time is stored as object metadata.
func (d *S3Device) PreserveTimes(*arc.Volume, arc.Entry) error {
	return nil
}

func (d *S3Device) Seal(_ context.Context, _ *arc.Volume, progress func(int)) error {
	if progress != nil {
		progress(100)
	}
	return nil
}

func (d *S3Device) OpenSealed(ctx context.Context, v *arc.Volume) (io.ReadCloser, error) {
	return d.OpenMedium(ctx, v)
}

// OpenMedium frames every object of the volume, fetched lazily in key order.
func (d *S3Device) OpenMedium(ctx context.Context, v *arc.Volume) (io.ReadCloser, error) {
	prefix := d.volumePrefix(v)
	p := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})

	var entries []streamEntry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, streamEntry{
				path: strings.TrimPrefix(key, prefix),
				size: aws.ToInt64(obj.Size),
				open: func() (io.ReadCloser, error) {
					out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
						Bucket: aws.String(d.bucket),
						Key:    aws.String(key),
					})
					if err != nil {
						return nil, fmt.Errorf("fetching %s: %w", key, err)
					}
					return out.Body, nil
				},
			})
		}
	}
	return newVolumeStream(entries), nil
}

func (d *S3Device) Eject(context.Context) error {
	return nil
}

var errShortWrite = errors.New("object shorter than announced")

// s3Entry feeds an in-flight upload.
type s3Entry struct {
	pw      *io.PipeWriter
	done    chan error
	want    int64
	written int64
}

func (e *s3Entry) Write(p []byte) (int, error) {
	n, err := e.pw.Write(p)
	e.written += int64(n)
	return n, err
}

func (e *s3Entry) Close() error {
	if e.want >= 0 && e.written != e.want {
		e.pw.CloseWithError(errShortWrite)
		<-e.done
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", e.want, e.written)
	}
	e.pw.Close()
	if err := <-e.done; err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

// Compile-time check that S3Device implements arc.Device interface
var _ arc.Device = (*S3Device)(nil)
