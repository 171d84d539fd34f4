package upload

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
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/humangym/internal/protocol"
)

// MockObjectClient is a mock implementation of ObjectClient.
type MockObjectClient struct {
	mock.Mock

	mu     sync.Mutex
	bodies map[string][]byte
}

func (m *MockObjectClient) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.bodies == nil {
		m.bodies = map[string][]byte{}
	}
	m.bodies[aws.ToString(in.Key)] = data
	m.mu.Unlock()

	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockObjectClient) body(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[key]
}

// MockUploader is a mock implementation of Uploader.
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, req protocol.UploadRequest) (*Result, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

const recording = "{\"step\":1}\n{\"step\":2}\n"

func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode_0_user_u1")
	require.NoError(t, os.WriteFile(path, []byte(recording), 0o644))
	return path
}

func request(path string, compress bool) protocol.UploadRequest {
	return protocol.UploadRequest{
		ProjectID:   "proj",
		UserID:      "u1",
		File:        filepath.Base(path),
		FilePath:    path,
		StoragePath: protocol.StorageKey("proj", "u1", filepath.Base(path)),
		Bucket:      "bkt",
		Compress:    compress,
	}
}

func TestCompressFile(t *testing.T) {
	path := writeRecording(t)

	gz, err := CompressFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+".gz", gz)
	assert.FileExists(t, path)

	f, err := os.Open(gz)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, recording, string(data))

	_, err = CompressFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestS3UploaderCompressed(t *testing.T) {
	path := writeRecording(t)
	client := &MockObjectClient{}
	client.On("PutObject", "bkt", "proj/Trials/u1/episode_0_user_u1.gz").Return(&s3.PutObjectOutput{}, nil).Once()

	res, err := NewS3Uploader(client, nil).Upload(context.Background(), request(path, true))
	require.NoError(t, err)
	client.AssertExpectations(t)

	assert.Equal(t, "proj/Trials/u1/episode_0_user_u1.gz", res.Key)
	assert.Equal(t, path+".gz", res.Path)

	zr, err := gzip.NewReader(bytes.NewReader(client.body(res.Key)))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, recording, string(data))
}

func TestS3UploaderPlain(t *testing.T) {
	path := writeRecording(t)
	client := &MockObjectClient{}
	client.On("PutObject", "bkt", "proj/Trials/u1/episode_0_user_u1").Return(&s3.PutObjectOutput{}, nil).Once()

	res, err := NewS3Uploader(client, nil).Upload(context.Background(), request(path, false))
	require.NoError(t, err)
	assert.Equal(t, int64(len(recording)), res.Bytes)
	assert.Equal(t, recording, string(client.body(res.Key)))
	assert.NoFileExists(t, path+".gz")
}

func TestS3UploaderPutFails(t *testing.T) {
	path := writeRecording(t)
	client := &MockObjectClient{}
	client.On("PutObject", "bkt", mock.Anything).Return(nil, errors.New("access denied"))

	_, err := NewS3Uploader(client, nil).Upload(context.Background(), request(path, true))
	assert.ErrorContains(t, err, "access denied")
}

func TestS3UploaderRejectsInvalid(t *testing.T) {
	client := &MockObjectClient{}
	u := NewS3Uploader(client, nil)

	req := request("/tmp/x", false)
	req.Bucket = ""
	_, err := u.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = request("", false)
	_, err = u.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestObjectKey(t *testing.T) {
	req := protocol.UploadRequest{ProjectID: "p", UserID: "u", File: "trial_u"}
	assert.Equal(t, "p/Trials/u/trial_u", ObjectKey(req))
	req.Compress = true
	assert.Equal(t, "p/Trials/u/trial_u.gz", ObjectKey(req))
	req.StoragePath = "custom/key"
	assert.Equal(t, "custom/key.gz", ObjectKey(req))
}

func TestAsyncDispatch(t *testing.T) {
	up := &MockUploader{}
	req := request("/data/episode_0_user_u1", true)
	up.On("Upload", req).Return(&Result{Key: "k"}, nil).Once()

	a := NewAsync(up, nil)
	a.Dispatch(req)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	up.AssertExpectations(t)
}

func TestAsyncDispatchFailureIsContained(t *testing.T) {
	up := &MockUploader{}
	up.On("Upload", mock.Anything).Return(nil, errors.New("network down"))

	a := NewAsync(up, nil)
	a.Dispatch(request("/data/a", true))
	a.Dispatch(request("/data/b", true))
	require.NoError(t, a.Wait(context.Background()))
	up.AssertNumberOfCalls(t, "Upload", 2)
}

func TestAsyncDropsInvalid(t *testing.T) {
	up := &MockUploader{}
	a := NewAsync(up, nil)
	a.Dispatch(protocol.UploadRequest{FilePath: "/data/a"})
	require.NoError(t, a.Wait(context.Background()))
	up.AssertNotCalled(t, "Upload", mock.Anything)
}

func TestAsyncWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	up := &MockUploader{}
	up.On("Upload", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(&Result{}, nil)

	a := NewAsync(up, nil)
	a.Dispatch(request("/data/a", false))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, a.Wait(context.Background()))
}

func TestNoop(t *testing.T) {
	n := NewNoop(nil)
	n.Dispatch(request("/data/a", true))
	assert.NoError(t, n.Wait(context.Background()))
}
