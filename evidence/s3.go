// Package evidence persists resolved result envelopes to S3 so that past
// answers can be audited against the sources that produced them.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/models"
)

const putTimeout = 15 * time.Second

// Store writes result envelopes to an S3 bucket. Writes are fire and forget:
// a failed upload is logged and counted but never surfaces to the caller.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log

	written int64
	errors  int64
}

// NewStore configures the AWS SDK and validates that credentials resolve.
// Returns nil without error when evidence storage is disabled.
func NewStore(cfg appconfig.S3Config, log *logger.Log) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("evidence_store").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Debug("evidence store initialized")

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

// Record uploads the envelope asynchronously. Safe to call on a nil Store.
func (s *Store) Record(result *models.Result) {
	if s == nil || result == nil {
		return
	}
	go s.put(result)
}

func (s *Store) put(result *models.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	body, err := json.Marshal(result)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.WithComponent("evidence_store").WithError(err).Warn("failed to encode result envelope")
		return
	}

	key := s.objectKey(result)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.WithComponent("evidence_store").WithError(err).WithFields(logger.Fields{
			"key": key,
		}).Warn("failed to upload result envelope")
		return
	}

	atomic.AddInt64(&s.written, 1)
}

func (s *Store) objectKey(result *models.Result) string {
	id := result.RequestID
	if id == "" {
		id = uuid.New().String()
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	key := fmt.Sprintf("%s/%s/%s-%s.json", result.Tool, result.Symbol, ts, id)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// Stats reports upload counters for diagnostics.
func (s *Store) Stats() (written, errors int64) {
	if s == nil {
		return 0, 0
	}
	return atomic.LoadInt64(&s.written), atomic.LoadInt64(&s.errors)
}
