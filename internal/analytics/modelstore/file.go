package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// FileStore keeps each model as <dir>/<sensor>.model with a <sensor>.meta.json sidecar.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) blobPath(st models.SensorType) string {
	return filepath.Join(f.dir, string(st)+".model")
}

func (f *FileStore) metaPath(st models.SensorType) string {
	return filepath.Join(f.dir, string(st)+".meta.json")
}

// Put writes the blob, then the metadata, each through a temp file and rename.
func (f *FileStore) Put(_ context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode model metadata: %w", err)
	}
	if err := writeFileAtomic(f.blobPath(sensorType), blob); err != nil {
		return fmt.Errorf("write model %s: %w", sensorType, err)
	}
	if err := writeFileAtomic(f.metaPath(sensorType), metaJSON); err != nil {
		return fmt.Errorf("write model metadata %s: %w", sensorType, err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, sensorType models.SensorType) ([]byte, error) {
	blob, err := os.ReadFile(f.blobPath(sensorType))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", sensorType, err)
	}
	return blob, nil
}

func (f *FileStore) Stat(_ context.Context, sensorType models.SensorType) (*ml.Metadata, error) {
	raw, err := os.ReadFile(f.metaPath(sensorType))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read model metadata %s: %w", sensorType, err)
	}
	var meta ml.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode model metadata %s: %w", sensorType, err)
	}
	return &meta, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
