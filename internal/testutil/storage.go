package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// StoredObject is an object held by FakeObjects.
type StoredObject struct {
	Data        []byte
	ContentType string
}

// FakeObjects is an in-memory object store.
type FakeObjects struct {
	mu        sync.Mutex
	objects   map[string]StoredObject
	deleted   []string
	UploadErr error
	DeleteErr error
}

// NewFakeObjects returns an empty FakeObjects.
func NewFakeObjects() *FakeObjects {
	return &FakeObjects{objects: map[string]StoredObject{}}
}

// UploadFile stores reader under objectKey.
func (f *FakeObjects) UploadFile(_ context.Context, objectKey string, reader io.Reader, _ int64, contentType string) error {
	if f.UploadErr != nil {
		return f.UploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey] = StoredObject{Data: data, ContentType: contentType}
	return nil
}

// GeneratePresignedURL returns a deterministic fake URL.
func (f *FakeObjects) GeneratePresignedURL(_ context.Context, objectKey string, duration time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?expires=%d", objectKey, int(duration.Seconds())), nil
}

// DeleteObject removes objectKey; missing keys are not an error.
func (f *FakeObjects) DeleteObject(_ context.Context, objectKey string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectKey)
	f.deleted = append(f.deleted, objectKey)
	return nil
}

// Object returns the stored object and whether it exists.
func (f *FakeObjects) Object(objectKey string) (StoredObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectKey]
	return obj, ok
}

// Keys lists stored object keys.
func (f *FakeObjects) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

// Deleted lists keys passed to DeleteObject.
func (f *FakeObjects) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
