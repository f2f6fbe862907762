package delivery

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // S3-compatible endpoint; empty means AWS
	LinkTTL   time.Duration
}

// S3Offloader uploads oversized files and hands back a presigned GET link.
type S3Offloader struct {
	bucket   string
	ttl      time.Duration
	uploader *manager.Uploader
	presign  *s3.PresignClient
}

func NewS3Offloader(c S3Config) *S3Offloader {
	opts := s3.Options{
		Region:      c.Region,
		Credentials: credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
		opts.UsePathStyle = true
	}
	client := s3.New(opts)
	ttl := c.LinkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &S3Offloader{
		bucket:   c.Bucket,
		ttl:      ttl,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
	}
}

func (o *S3Offloader) Offload(ctx context.Context, filePath, name string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := path.Join("videos", ulid.Make().String(), name)
	if _, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/mp4"),
	}); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, o.bucket, err)
	}
	req, err := o.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(o.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	log.Info().Str("bucket", o.bucket).Str("key", key).Msg("offloaded oversized file")
	return req.URL, nil
}
