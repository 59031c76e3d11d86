package aws

import (
	"bytes"
	"canvas-studio/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ObjectAPI is the part of *s3.Client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewClient loads the default AWS config. S3_ENDPOINT points the client at
// an S3-compatible server such as MinIO, with path-style addressing.
func NewClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	endpoint := os.Getenv("S3_ENDPOINT")
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Store keeps shared documents under documents/ and canvases under
// canvases/<user>/ in one bucket.
type Store struct {
	client ObjectAPI
	bucket string
}

func NewStore(client ObjectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Store) write(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	key, err := objectKey("documents", id)
	if err != nil {
		return nil, err
	}
	data, err := s.read(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, core.NotFound("document", id)
		}
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}
	return &core.Document{Data: data}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	if err := s.write(ctx, path.Join("documents", id), "application/json", document.Data); err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	logrus.WithFields(logrus.Fields{"document_id": id, "data_length": len(document.Data)}).Info("Document created successfully")
	return id, nil
}

// objectKey joins a prefix and ids, refusing ids that are paths.
func objectKey(prefix string, ids ...string) (string, error) {
	for _, id := range ids {
		if id == "" || id == "." || id == ".." {
			return "", fmt.Errorf("invalid id %q: must not be empty or a dot directory", id)
		}
		if path.Base(id) != id {
			return "", fmt.Errorf("invalid id %q: must not be a path", id)
		}
	}
	return path.Join(append([]string{prefix}, ids...)...), nil
}

// stored is the object body; core.Canvas hides UserID from JSON.
type stored struct {
	core.Canvas
	Data []byte `json:"data"`
}

func (s *Store) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	prefix, err := objectKey("canvases", userID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("user_id", userID)

	canvases := []*core.Canvas{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list canvases for user %s: %w", userID, err)
		}
		for _, object := range page.Contents {
			data, err := s.read(ctx, aws.ToString(object.Key))
			if err != nil {
				log.WithError(err).Warnf("Failed to get object %s, skipping", aws.ToString(object.Key))
				continue
			}
			var rec stored
			if err := json.Unmarshal(data, &rec); err != nil {
				log.WithError(err).Warnf("Failed to unmarshal canvas %s, skipping", aws.ToString(object.Key))
				continue
			}
			canvas := rec.Canvas
			canvas.UserID = userID
			canvas.Data = nil
			canvases = append(canvases, &canvas)
		}
	}
	return canvases, nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	key, err := objectKey("canvases", userID, id)
	if err != nil {
		return nil, err
	}
	data, err := s.read(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, core.NotFound("canvas", id)
		}
		return nil, fmt.Errorf("failed to get canvas %s: %w", id, err)
	}

	var rec stored
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal canvas data: %w", err)
	}
	canvas := rec.Canvas
	canvas.UserID = userID
	canvas.Data = rec.Data
	return &canvas, nil
}

func (s *Store) Save(ctx context.Context, canvas *core.Canvas) error {
	key, err := objectKey("canvases", canvas.UserID, canvas.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	canvas.CreatedAt = now
	if existing, err := s.Get(ctx, canvas.UserID, canvas.ID); err == nil {
		canvas.CreatedAt = existing.CreatedAt
	}
	canvas.UpdatedAt = now

	data, err := json.Marshal(stored{Canvas: *canvas, Data: canvas.Data})
	if err != nil {
		return fmt.Errorf("failed to marshal canvas: %w", err)
	}
	if err := s.write(ctx, key, "application/json", data); err != nil {
		return fmt.Errorf("failed to save canvas %s: %w", canvas.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	key, err := objectKey("canvases", userID, id)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete canvas %s: %w", id, err)
	}
	return nil
}
