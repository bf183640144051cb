// Package s3source is the external-collaborator S3 fetcher named in §6:
// it lists and downloads ALB access-log objects and hands raw bytes to
// ingestion.IngestBuffer. It is explicitly out of the core — wired only
// from cmd/ — but still carries the same structured logging and retry
// policy as the rest of the system.
package s3source

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
)

// Config configures a Source.
type Config struct {
	Bucket      string
	Prefix      string
	Region      string
	AssumeRole  string // optional ARN; empty means use ambient credentials
	MaxKeys     int32
}

// Source lists and fetches ALB access-log objects from S3.
type Source struct {
	client *s3.Client
	cfg    Config
	logger log.Logger
}

// New builds a Source. If cfg.AssumeRole is set, it wraps the default
// credential chain with an stscreds.AssumeRoleProvider, mirroring the
// teacher's per-account-id role assumption.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Source, error) {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 1000
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3source: load aws config: %w", err)
	}

	if cfg.AssumeRole != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRole)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return &Source{
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// List returns up to MaxKeys object keys under Bucket/Prefix.
func (s *Source) List(ctx context.Context) ([]string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.cfg.Bucket,
		Prefix:  &s.cfg.Prefix,
		MaxKeys: &s.cfg.MaxKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("s3source: list %s/%s: %w", s.cfg.Bucket, s.cfg.Prefix, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

// Fetch downloads one object's full body, retrying transient failures
// with the same backoff policy the pool uses for connection revalidation.
func (s *Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		MaxRetries: 5,
	})

	var lastErr error
	for b.Ongoing() {
		data, err := s.fetchOnce(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
		level.Warn(s.logger).Log("msg", "s3 fetch failed, retrying", "key", key, "err", err)
		b.Wait()
	}
	return nil, fmt.Errorf("s3source: fetch %s after retries: %w", key, lastErr)
}

func (s *Source) fetchOnce(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes an object, used after its batch has been durably stored.
func (s *Source) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
	})
	return err
}
