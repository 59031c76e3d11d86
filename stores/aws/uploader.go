package aws

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const DefaultURLExpiry = time.Hour

type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Uploader puts job inputs in a bucket and hands back presigned GET URLs the
// execution endpoint can fetch.
type Uploader struct {
	client    ObjectAPI
	presigner Presigner
	bucket    string
	expiry    time.Duration
}

func NewUploader(client *s3.Client, bucket string) *Uploader {
	return NewUploaderWith(client, s3.NewPresignClient(client), bucket, DefaultURLExpiry)
}

func NewUploaderWith(client ObjectAPI, presigner Presigner, bucket string, expiry time.Duration) *Uploader {
	return &Uploader{client: client, presigner: presigner, bucket: bucket, expiry: expiry}
}

func (u *Uploader) Upload(ctx context.Context, blob []byte, filename string) (string, error) {
	key := path.Join("uploads", ulid.Make().String()+"-"+path.Base(filename))
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	req, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "size": len(blob)}).Debug("Uploaded job input")
	return req.URL, nil
}
