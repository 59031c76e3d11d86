package aws

import (
	"bytes"
	"canvas-studio/core"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	putError error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.putError != nil {
		return nil, b.putError
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[aws.ToString(in.Key)] = data
	b.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (b *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestDocuments(t *testing.T) {
	bucket := newFakeBucket()
	store := NewStore(bucket, "canvas")
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Data: []byte(`{"layers":[]}`)})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, ok := bucket.objects["documents/"+id]; !ok {
		t.Errorf("document not stored under documents/%s", id)
	}

	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Data) != `{"layers":[]}` {
		t.Errorf("got %q", doc.Data)
	}

	if _, err := store.FindID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := store.FindID(ctx, "../canvases/x"); err == nil {
		t.Error("FindID() should reject path ids")
	}
}

func TestCanvases(t *testing.T) {
	bucket := newFakeBucket()
	store := NewStore(bucket, "canvas")
	ctx := context.Background()

	c := &core.Canvas{ID: "c1", UserID: "u1", Name: "One", Data: []byte("v1")}
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	created := c.CreatedAt
	c.Data = []byte("v2")
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if !c.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: got %v, want %v", c.CreatedAt, created)
	}
	_ = store.Save(ctx, &core.Canvas{ID: "c2", UserID: "u2", Name: "Other"})

	got, err := store.Get(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got.Data) != "v2" || got.UserID != "u1" {
		t.Errorf("got %+v", got)
	}

	list, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "c1" || list[0].Data != nil {
		t.Errorf("got %+v", list)
	}

	if err := store.Delete(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "u1", "c1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := store.Save(ctx, &core.Canvas{ID: "a/b", UserID: "u1"}); err == nil {
		t.Error("Save() should reject path ids")
	}
}

type fakePresigner struct {
	expires time.Duration
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var o s3.PresignOptions
	for _, fn := range opts {
		fn(&o)
	}
	p.expires = o.Expires
	return &v4.PresignedHTTPRequest{
		URL:          "https://" + aws.ToString(in.Bucket) + ".s3.test/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig",
		Method:       http.MethodGet,
		SignedHeader: http.Header{},
	}, nil
}

func TestUploader_Upload(t *testing.T) {
	bucket := newFakeBucket()
	presigner := &fakePresigner{}
	up := NewUploaderWith(bucket, presigner, "inputs", 15*time.Minute)

	url, err := up.Upload(context.Background(), []byte("png"), "image.png")
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if !strings.HasPrefix(url, "https://inputs.s3.test/uploads/") || !strings.Contains(url, "-image.png?") {
		t.Errorf("got url %q", url)
	}
	if presigner.expires != 15*time.Minute {
		t.Errorf("got expiry %v, want %v", presigner.expires, 15*time.Minute)
	}
	for key, ct := range bucket.types {
		if ct != "image/png" {
			t.Errorf("object %s content type: got %q, want image/png", key, ct)
		}
	}
}

func TestUploader_PutError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putError = errors.New("access denied")
	up := NewUploaderWith(bucket, &fakePresigner{}, "inputs", time.Minute)

	if _, err := up.Upload(context.Background(), []byte("x"), "a.png"); err == nil {
		t.Fatal("Upload() should fail when the put fails")
	}
}
