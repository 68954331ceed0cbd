package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensandbox/poolmgr/pkg/types"
)

func sampleDocument() *Document {
	return &Document{
		VPCID:           "vpc-1",
		GatewayID:       "igw-1",
		RouteTableID:    "rtb-1",
		SubnetIDs:       []string{"subnet-a", "subnet-b"},
		SecurityGroupID: "sg-1",
		Instances:       []string{"i-1", "i-2"},
		InstanceState: map[string]types.Status{
			"i-1": types.StatusRunning,
			"i-2": types.StatusPending,
			"i-0": types.StatusCancelled,
		},
		Units: map[string]UnitMeta{
			"i-1": {Blocksize: 1, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			"i-2": {Blocksize: 1, CreatedAt: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC), Label: "w"},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	doc := sampleDocument()
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)
	assert.Equal(t, doc.Topology(), loaded.Topology())
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"vpcID\": "), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, store.Save(context.Background(), sampleDocument()))
	require.NoError(t, store.Save(context.Background(), &Document{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_Delete(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleDocument()))

	require.NoError(t, store.Delete(ctx))
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// second delete is fine
	require.NoError(t, store.Delete(ctx))
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	store := &S3Store{client: &fakeS3{objects: map[string][]byte{}}, bucket: "b", key: "pool/state.json"}
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	doc := sampleDocument()
	require.NoError(t, store.Save(ctx, doc))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "s3://b/pool/state.json", store.Location())
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.Error(t, err)
}

type fakeRedis struct {
	values map[string]string
	err    error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := &RedisStore{rdb: &fakeRedis{values: map[string]string{}}, addr: "localhost:6379", key: "pool:a"}
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	doc := sampleDocument()
	require.NoError(t, store.Save(ctx, doc))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	require.NoError(t, store.Delete(ctx))
	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "redis://localhost:6379/pool:a", store.Location())
	assert.NoError(t, store.Close())
}

func TestRedisStore_Errors(t *testing.T) {
	store := &RedisStore{rdb: &fakeRedis{err: errors.New("connection refused")}, addr: "r:6379", key: "k"}
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Error(t, store.Save(ctx, sampleDocument()))
}

func TestRedisStore_LoadCorrupt(t *testing.T) {
	store := &RedisStore{rdb: &fakeRedis{values: map[string]string{"k": "{"}}, key: "k"}
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", "")
	assert.Error(t, err)
}
