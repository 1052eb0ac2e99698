package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"notesync-go/internal/notesync"
)

// Object metadata keys carrying the snapshot's own timestamp and version.
// HeadObject reads these so Metadata never downloads the blob, and the
// reported LastModified is the snapshot's timestamp rather than upload time.
const (
	metaKeyTimestamp = "snapshot-timestamp"
	metaKeyVersion   = "snapshot-version"
)

// S3 is an S3-backed implementation of the BlobChannel interface.
type S3 struct {
	name       string
	bucket     string
	key        string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	enc        notesync.Encryptor
}

// NewS3 creates an S3 blob channel. Credentials come from the standard AWS
// credential chain unless an explicit provider is given. enc may be nil for
// plaintext snapshots.
func NewS3(ctx context.Context, name, bucket, prefix, region string, creds aws.CredentialsProvider, enc notesync.Encryptor) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3{
		name:       name,
		bucket:     bucket,
		key:        path.Join(prefix, "snapshot.bin"),
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		enc:        enc,
	}, nil
}

// Metadata issues a HeadObject and reads the snapshot timestamp and version
// from the object's user metadata.
func (s *S3) Metadata(ctx context.Context) (*notesync.BlobMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return &notesync.BlobMeta{}, nil
		}
		return nil, classify(fmt.Errorf("head s3://%s/%s", s.bucket, s.key), err)
	}

	meta := &notesync.BlobMeta{Exists: true}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if raw, ok := out.Metadata[metaKeyTimestamp]; ok {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot timestamp %q: %w", raw, err)
		}
		meta.LastModified = ts
	} else if out.LastModified != nil {
		// Objects written by other tools fall back to the S3 mtime.
		meta.LastModified = *out.LastModified
	}
	if raw, ok := out.Metadata[metaKeyVersion]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot version %q: %w", raw, err)
		}
		meta.Version = v
	}
	return meta, nil
}

// Download fetches and decodes the snapshot object.
func (s *S3) Download(ctx context.Context) (*notesync.Snapshot, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("blob %s: %w", s.name, notesync.ErrNoSnapshot)
		}
		return nil, classify(fmt.Errorf("download s3://%s/%s", s.bucket, s.key), err)
	}
	return decodeSnapshot(buf.Bytes(), s.enc)
}

// Upload replaces the snapshot object.
func (s *S3) Upload(ctx context.Context, snap *notesync.Snapshot) (string, error) {
	data, err := encodeSnapshot(snap, s.enc)
	if err != nil {
		return "", err
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			metaKeyTimestamp: snap.Timestamp.UTC().Format(time.RFC3339Nano),
			metaKeyVersion:   strconv.FormatInt(snap.Version, 10),
		},
	})
	if err != nil {
		return "", classify(fmt.Errorf("upload s3://%s/%s", s.bucket, s.key), err)
	}

	if out.VersionID != nil {
		return *out.VersionID, nil
	}
	return s.key, nil
}

// classify maps an SDK error onto the sync error taxonomy: credential
// failures are fatal, everything else is treated as transient.
func classify(op error, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%v: %v: %w", op, err, notesync.ErrUnauthorized)
		}
	}
	return fmt.Errorf("%v: %v: %w", op, err, notesync.ErrNetwork)
}

// Compile-time check that S3 implements the BlobChannel interface
var _ notesync.BlobChannel = (*S3)(nil)
