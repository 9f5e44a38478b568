package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/schema"
)

// S3Client abstracts the S3 API operations used by [S3]. The [s3.Client]
// type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ClientConfig configures the client built by NewS3Client.
type S3ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // S3-compatible endpoint (MinIO, R2); empty for AWS
}

// NewS3Client builds an [s3.Client]. Static credentials are used when both
// keys are set; a custom endpoint switches to path-style addressing.
func NewS3Client(cfg S3ClientConfig) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// S3 stores one JSON object per utterance under
// {prefix}/calls/{call_id}/utterances/{session_id}.json.
type S3 struct {
	client    S3Client
	bucket    string
	prefix    string
	validator *schema.Validator
	log       zerolog.Logger
}

// NewS3 creates an S3 sink. Prefix may be empty.
func NewS3(client S3Client, bucket, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, ErrMissingBucket
	}
	return &S3{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		validator: schema.New(),
		log:       logging.WithComponent("s3-sink"),
	}, nil
}

func (s *S3) Name() string { return "s3" }

// Key returns the object key for rec. Ids are escaped so each stays a
// single key segment.
func (s *S3) Key(rec models.UtteranceRecord) string {
	key := "calls/" + keySegment(rec.CallID) + "/utterances/" + keySegment(rec.SessionID) + ".json"
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func keySegment(id string) string {
	seg := url.PathEscape(id)
	if seg == "." || seg == ".." {
		return strings.ReplaceAll(seg, ".", "%2E")
	}
	return seg
}

func (s *S3) Upload(ctx context.Context, rec models.UtteranceRecord) error {
	if err := s.validator.Validate(rec); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := s.Key(rec)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	s.log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Stored utterance")
	return nil
}

func (s *S3) Close() error { return nil }
