package stores

import (
	"canvas-studio/core"
	"canvas-studio/stores/aws"
	"canvas-studio/stores/filesystem"
	"canvas-studio/stores/memory"
	"canvas-studio/stores/sqlite"
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Store holds shared documents and user canvases.
type Store interface {
	core.DocumentStore
	core.CanvasStore
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetStore picks the backend named by STORAGE_TYPE; anything unknown falls
// back to memory.
func GetStore(ctx context.Context) (Store, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	storageField := logrus.Fields{
		"storage_type": storageType,
	}

	var store Store
	switch storageType {
	case "filesystem":
		basePath := getenv("LOCAL_STORAGE_PATH", "./data")
		storageField["base_path"] = basePath
		fs, err := filesystem.NewStore(basePath)
		if err != nil {
			return nil, err
		}
		store = fs
	case "sqlite":
		dataSourceName := getenv("DATA_SOURCE_NAME", "canvas-studio.db")
		storageField["data_source_name"] = dataSourceName
		db, err := sqlite.NewStore(dataSourceName)
		if err != nil {
			return nil, err
		}
		store = db
	case "s3":
		bucket := os.Getenv("S3_BUCKET_NAME")
		if bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required for s3 storage")
		}
		storageField["bucket"] = bucket
		client, err := aws.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		store = aws.NewStore(client, bucket)
	default:
		store = memory.NewStore()
		storageField["storage_type"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}

// Sessions returns the snapshot and job stores for store, using an
// in-memory store when the backend keeps neither.
func Sessions(store Store) (core.SnapshotStore, core.JobStore) {
	var fallback *memory.Store
	mem := func() *memory.Store {
		if fallback == nil {
			fallback = memory.NewStore()
		}
		return fallback
	}

	snapshots, ok := store.(core.SnapshotStore)
	if !ok {
		snapshots = mem()
	}
	jobs, ok := store.(core.JobStore)
	if !ok {
		jobs = mem()
	}
	return snapshots, jobs
}
