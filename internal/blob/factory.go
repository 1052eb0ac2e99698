package blob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"notesync-go/internal/config"
	"notesync-go/internal/notesync"
)

// NewChannelFromConfig creates a BlobChannel implementation based on the
// blob config type. enc may be nil for plaintext snapshots.
func NewChannelFromConfig(ctx context.Context, cfg config.BlobConfig, enc notesync.Encryptor) (notesync.BlobChannel, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.Name, enc), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob channel requires fs_root to be set")
		}
		return NewFilesystem(cfg.Name, cfg.FSRoot, enc)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob channel requires s3_bucket to be set")
		}
		var creds aws.CredentialsProvider
		if cfg.S3AccessKeyID != "" {
			creds = credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
		}
		return NewS3(ctx, cfg.Name, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, creds, enc)
	default:
		return nil, fmt.Errorf("unknown blob channel type: %s", cfg.Type)
	}
}
