package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// mockS3 is an in-memory S3 implementation for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string]bool
	deleted []string
	delErr  error
}

func newMockS3(keys ...string) *mockS3 {
	m := &mockS3{objects: make(map[string]bool)}
	for _, k := range keys {
		m.objects[k] = true
	}
	return m
}

func (m *mockS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *params.Key)
	m.deleted = append(m.deleted, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.objects[*params.Key] {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Deleter_Delete(t *testing.T) {
	mock := newMockS3("media/Movies/X.mkv")
	d := NewS3Deleter(mock, "cold", "media", false, zap.NewNop())

	if err := d.Delete(context.Background(), testMarker); err != nil {
		t.Fatal(err)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != "media/Movies/X.mkv" {
		t.Errorf("deleted = %v", mock.deleted)
	}
	if mock.objects["media/Movies/X.mkv"] {
		t.Error("object should be gone")
	}
}

func TestS3Deleter_NoPrefix(t *testing.T) {
	mock := newMockS3()
	d := NewS3Deleter(mock, "cold", "", false, zap.NewNop())

	if err := d.Delete(context.Background(), testMarker); err != nil {
		t.Fatal(err)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != "Movies/X.mkv" {
		t.Errorf("deleted = %v", mock.deleted)
	}
}

func TestS3Deleter_DryRun(t *testing.T) {
	mock := newMockS3("Movies/X.mkv")
	d := NewS3Deleter(mock, "cold", "", true, zap.NewNop())

	if err := d.Delete(context.Background(), testMarker); err != nil {
		t.Fatal(err)
	}
	if len(mock.deleted) != 0 || !mock.objects["Movies/X.mkv"] {
		t.Error("dry run must not delete")
	}
}

func TestS3Deleter_Error(t *testing.T) {
	mock := newMockS3()
	mock.delErr = errors.New("access denied")
	d := NewS3Deleter(mock, "cold", "", false, zap.NewNop())

	if err := d.Delete(context.Background(), testMarker); !errors.Is(err, ErrTransfer) {
		t.Errorf("err = %v, want ErrTransfer", err)
	}
}
