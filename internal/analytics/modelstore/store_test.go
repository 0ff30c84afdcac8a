package modelstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// fakeRedis implements redisClient over in-memory maps.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	hashes  map[string]map[string]string
	execErr error
}

// fakeTx queues writes and applies them only when the transaction commits.
type fakeTx struct {
	redis.Pipeliner
	f   *fakeRedis
	ops []func()
}

func (t *fakeTx) Set(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	t.ops = append(t.ops, func() { t.f.Set(ctx, key, value, exp) })
	return redis.NewStatusResult("QUEUED", nil)
}

func (t *fakeTx) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	t.ops = append(t.ops, func() { t.f.HSet(ctx, key, values...) })
	return redis.NewIntResult(0, nil)
}

func (f *fakeRedis) TxPipelined(_ context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	tx := &fakeTx{f: f}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	for _, op := range tx.ops {
		op()
	}
	return nil, nil
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) HGetAll(_ context.Context, key string) *redis.StringStringMapCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewStringStringMapResult(out, nil)
}

type fakeObject struct {
	body     []byte
	metadata map[string]string
}

// fakeS3 implements s3API over an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{body: body, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func sampleMetadata() ml.Metadata {
	return ml.Metadata{
		Contamination: 0.1,
		RandomSeed:    42,
		SampleCount:   100,
		FeatureCount:  5,
		TrainedAt:     time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
	}
}

// exerciseBlobStore runs the common BlobStore contract against store.
func exerciseBlobStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, models.SensorMoisture)
	assert.True(t, errors.Is(err, ErrBlobNotFound), "Get on empty store: %v", err)
	_, err = store.Stat(ctx, models.SensorMoisture)
	assert.True(t, errors.Is(err, ErrBlobNotFound), "Stat on empty store: %v", err)

	blob := []byte(`{"version":1}`)
	require.NoError(t, store.Put(ctx, models.SensorMoisture, blob, sampleMetadata()))

	got, err := store.Get(ctx, models.SensorMoisture)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	meta, err := store.Stat(ctx, models.SensorMoisture)
	require.NoError(t, err)
	want := sampleMetadata()
	assert.Equal(t, want.Contamination, meta.Contamination)
	assert.Equal(t, want.RandomSeed, meta.RandomSeed)
	assert.Equal(t, want.SampleCount, meta.SampleCount)
	assert.Equal(t, want.FeatureCount, meta.FeatureCount)
	assert.True(t, want.TrainedAt.Equal(meta.TrainedAt))

	// Overwrite replaces the blob.
	require.NoError(t, store.Put(ctx, models.SensorMoisture, []byte(`{"version":2}`), sampleMetadata()))
	got, err = store.Get(ctx, models.SensorMoisture)
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(got))

	// Other sensor types are unaffected.
	_, err = store.Get(ctx, models.SensorHumidity)
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestMemoryStore(t *testing.T) {
	exerciseBlobStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesBlob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	blob := []byte("abc")
	require.NoError(t, store.Put(ctx, models.SensorMoisture, blob, sampleMetadata()))
	blob[0] = 'z'

	got, err := store.Get(ctx, models.SensorMoisture)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseBlobStore(t, store)

	_, err = os.Stat(filepath.Join(dir, "moisture.model"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "moisture.meta.json"))
	assert.NoError(t, err)
}

func TestSQLStore(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	exerciseBlobStore(t, NewSQLStore(store))
}

func TestRedisStore(t *testing.T) {
	client := newFakeRedis()
	exerciseBlobStore(t, NewRedisStore(client, ""))

	_, ok := client.values["fieldsense:model:moisture"]
	assert.True(t, ok)
	assert.Equal(t, "100", client.hashes["fieldsense:model:moisture:meta"]["sample_count"])
}

func TestRedisStore_FailedPutKeepsPreviousModel(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewRedisStore(client, "")
	old := ml.Metadata{Contamination: 0.1, RandomSeed: 42, SampleCount: 50, FeatureCount: 5, TrainedAt: time.Now()}
	require.NoError(t, store.Put(ctx, models.SensorMoisture, []byte("v1"), old))

	client.execErr = errors.New("connection reset")
	next := old
	next.SampleCount = 90
	err := store.Put(ctx, models.SensorMoisture, []byte("v2"), next)
	require.Error(t, err)

	blob, err := store.Get(ctx, models.SensorMoisture)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
	meta, err := store.Stat(ctx, models.SensorMoisture)
	require.NoError(t, err)
	assert.Equal(t, 50, meta.SampleCount)
}

func TestS3Store(t *testing.T) {
	svc := newFakeS3()
	exerciseBlobStore(t, NewS3Store(svc, "models-bucket", "/fieldsense/"))

	_, ok := svc.objects["models-bucket/fieldsense/moisture.model"]
	assert.True(t, ok)
}

func TestRegistry_OverFileStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	reg := NewRegistry(store, ml.DefaultConfig(), nil)
	_, err = reg.Train(ctx, models.SensorHumidity, trainingMatrix(60, 5))
	require.NoError(t, err)

	restarted := NewRegistry(store, ml.DefaultConfig(), nil)
	s, err := restarted.Get(ctx, models.SensorHumidity)
	require.NoError(t, err)
	assert.Equal(t, 60, s.Metadata().SampleCount)
}
