package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	fail    bool
}

func (f *fakeS3) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("put rejected")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*params.Bucket+"/"+*params.Key] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	return &awss3.HeadBucketOutput{}, nil
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "vid_decrypted.mp4")
	if err := os.WriteFile(local, []byte("plain"), 0644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeS3{}
	m := NewWithClient(fake, "bucket", "channels/runs")

	if err := m.Upload(context.Background(), local); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, ok := fake.objects["bucket/channels/runs/vid_decrypted.mp4"]
	if !ok {
		t.Fatalf("object not stored, have %v", fake.objects)
	}
	if string(got) != "plain" {
		t.Errorf("object body = %q", got)
	}
}

func TestUploadAllStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.json")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fake := &fakeS3{fail: true}
	m := NewWithClient(fake, "bucket", "")
	if err := m.UploadAll(context.Background(), a, b); err == nil {
		t.Fatal("expected error from failing client")
	}
}

func TestUploadMissingFile(t *testing.T) {
	m := NewWithClient(&fakeS3{}, "bucket", "")
	if err := m.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected error for missing local file")
	}
}
