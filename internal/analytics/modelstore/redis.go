package modelstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisStore keeps blobs under <prefix>:<sensor> and metadata in the hash <prefix>:<sensor>:meta.
type RedisStore struct {
	client redisClient
	prefix string
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fieldsense:model"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) blobKey(st models.SensorType) string {
	return r.prefix + ":" + string(st)
}

func (r *RedisStore) metaKey(st models.SensorType) string {
	return r.prefix + ":" + string(st) + ":meta"
}

// Put replaces the blob and its metadata hash in one MULTI/EXEC transaction.
func (r *RedisStore) Put(ctx context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.blobKey(sensorType), blob, 0)
		pipe.HSet(ctx, r.metaKey(sensorType),
			"contamination", strconv.FormatFloat(meta.Contamination, 'g', -1, 64),
			"random_seed", strconv.FormatInt(meta.RandomSeed, 10),
			"sample_count", strconv.Itoa(meta.SampleCount),
			"feature_count", strconv.Itoa(meta.FeatureCount),
			"trained_at", meta.TrainedAt.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store model %s in redis: %w", sensorType, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, sensorType models.SensorType) ([]byte, error) {
	blob, err := r.client.Get(ctx, r.blobKey(sensorType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read model %s from redis: %w", sensorType, err)
	}
	return blob, nil
}

func (r *RedisStore) Stat(ctx context.Context, sensorType models.SensorType) (*ml.Metadata, error) {
	fields, err := r.client.HGetAll(ctx, r.metaKey(sensorType)).Result()
	if err != nil {
		return nil, fmt.Errorf("read model metadata %s from redis: %w", sensorType, err)
	}
	if len(fields) == 0 {
		return nil, ErrBlobNotFound
	}
	return parseMetadata(fields)
}

// parseMetadata decodes the string map shared by the Redis hash and S3 object metadata.
func parseMetadata(fields map[string]string) (*ml.Metadata, error) {
	var meta ml.Metadata
	var err error
	if meta.Contamination, err = strconv.ParseFloat(fields["contamination"], 64); err != nil {
		return nil, fmt.Errorf("parse contamination: %w", err)
	}
	if meta.RandomSeed, err = strconv.ParseInt(fields["random_seed"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse random_seed: %w", err)
	}
	if meta.SampleCount, err = strconv.Atoi(fields["sample_count"]); err != nil {
		return nil, fmt.Errorf("parse sample_count: %w", err)
	}
	if meta.FeatureCount, err = strconv.Atoi(fields["feature_count"]); err != nil {
		return nil, fmt.Errorf("parse feature_count: %w", err)
	}
	if meta.TrainedAt, err = time.Parse(time.RFC3339Nano, fields["trained_at"]); err != nil {
		return nil, fmt.Errorf("parse trained_at: %w", err)
	}
	return &meta, nil
}
