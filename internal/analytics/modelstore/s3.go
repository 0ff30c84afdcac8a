package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store keeps each model as s3://<bucket>/<prefix>/<sensor>.model with metadata
// carried as object user metadata.
type S3Store struct {
	svc    s3API
	bucket string
	prefix string
}

// NewS3Client loads the default AWS config for region and returns an S3 client.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewS3Store wraps an S3 client.
func NewS3Store(svc s3API, bucket, prefix string) *S3Store {
	return &S3Store{svc: svc, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(st models.SensorType) string {
	if s.prefix == "" {
		return string(st) + ".model"
	}
	return s.prefix + "/" + string(st) + ".model"
}

func (s *S3Store) Put(ctx context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error {
	_, err := s.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(sensorType)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"contamination": strconv.FormatFloat(meta.Contamination, 'g', -1, 64),
			"random-seed":   strconv.FormatInt(meta.RandomSeed, 10),
			"sample-count":  strconv.Itoa(meta.SampleCount),
			"feature-count": strconv.Itoa(meta.FeatureCount),
			"trained-at":    meta.TrainedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload model %s to S3: %w", sensorType, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, sensorType models.SensorType) ([]byte, error) {
	out, err := s.svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sensorType)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to download model %s from S3: %w", sensorType, err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s body: %w", sensorType, err)
	}
	return blob, nil
}

func (s *S3Store) Stat(ctx context.Context, sensorType models.SensorType) (*ml.Metadata, error) {
	out, err := s.svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sensorType)),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to stat model %s in S3: %w", sensorType, err)
	}

	fields := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		fields[strings.ReplaceAll(strings.ToLower(k), "-", "_")] = v
	}
	return parseMetadata(fields)
}
