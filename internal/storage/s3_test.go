package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// fakeS3 keeps objects in memory. Multipart calls are not implemented;
// test files stay below the part size.
type fakeS3 struct {
	manager.UploadAPIClient

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3DiskPutFileAs(t *testing.T) {
	client := newFakeS3()
	disk := NewS3DiskWithClient(client, S3Config{Disk: "s3", Bucket: "uploads", Prefix: "/media/"})
	ctx := context.Background()

	p, err := disk.PutFileAs(ctx, "img", scratchFile(t, "cat.png", []byte("one")), "cat.png")
	require.NoError(t, err)
	assert.Equal(t, "img/cat.png", p)

	p2, err := disk.PutFileAs(ctx, "img", scratchFile(t, "cat.png", []byte("two")), "cat.png")
	require.NoError(t, err)
	assert.Equal(t, "img/cat (1).png", p2)

	assert.Equal(t, []byte("one"), client.objects["media/img/cat.png"])
	assert.Equal(t, []byte("two"), client.objects["media/img/cat (1).png"])
	assert.Equal(t, "image/png", client.types["media/img/cat.png"])
	assert.Equal(t, "s3", disk.Disk())

	require.NoError(t, disk.Delete(ctx, p))
	assert.NotContains(t, client.objects, "media/img/cat.png")
}

func TestS3DiskConcurrentCommitsGetDistinctKeys(t *testing.T) {
	client := newFakeS3()
	disk := NewS3DiskWithClient(client, S3Config{Bucket: "uploads"})
	ctx := context.Background()

	const n = 8
	files := make([]core.FinishedFile, n)
	for i := range files {
		files[i] = scratchFile(t, "cat.png", []byte{byte(i)})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(file core.FinishedFile) {
			defer wg.Done()
			p, err := disk.PutFileAs(ctx, "img", file, "cat.png")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			paths[p] = true
			mu.Unlock()
		}(files[i])
	}
	wg.Wait()

	assert.Len(t, paths, n)
	assert.Len(t, client.objects, n)
	assert.Empty(t, disk.inflight, "reservations released")
}

func TestS3DiskHeadFailure(t *testing.T) {
	client := newFakeS3()
	client.headErr = errors.New("access denied")
	disk := NewS3DiskWithClient(client, S3Config{Bucket: "uploads"})

	_, err := disk.PutFileAs(context.Background(), "", scratchFile(t, "a.png", []byte("x")), "a.png")
	assert.ErrorContains(t, err, "access denied")
	assert.Empty(t, client.objects)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestLoadAWSConfigRequiresRegion(t *testing.T) {
	_, err := loadAWSConfig(context.Background(), "", "", "")
	assert.ErrorContains(t, err, "region must not be empty")
}
