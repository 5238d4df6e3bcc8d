package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data     []byte
	modified time.Time
}

// fakeS3 is an in-memory bucket that returns one object per list page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	putErr  error
	listed  int
	clock   time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: map[string]fakeObject{},
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modified: f.clock}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{}
	if start < len(keys) {
		k := keys[start]
		out.Contents = []types.Object{{
			Key:          aws.String(k),
			LastModified: aws.Time(f.objects[k].modified),
			Size:         aws.Int64(int64(len(f.objects[k].data))),
		}}
	}
	if start+1 < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[start+1])
	}
	return out, nil
}

func TestCloudSink_DeliverAndFetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	sink := NewCloudSink(client, "bucket", "shop-1/")

	require.NoError(t, sink.Deliver(ctx, "b.json", []byte(`{"a":1}`)))
	assert.Contains(t, client.objects, "shop-1/b.json")

	data, err := sink.Fetch(ctx, "shop-1/b.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestCloudSink_ListPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	sink := NewCloudSink(client, "bucket", "shop-1/")

	for _, name := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, sink.Deliver(ctx, name, []byte("{}")))
	}
	client.objects["shop-1/readme.txt"] = fakeObject{data: []byte("x"), modified: client.clock}
	client.objects["shop-2/x.json"] = fakeObject{data: []byte("{}"), modified: client.clock}

	entries, err := sink.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c.json", entries[0].Name)
	assert.Equal(t, "shop-1/c.json", entries[0].Path)
	assert.Equal(t, "a.json", entries[2].Name)
	assert.Equal(t, int64(2), entries[0].Size)
	assert.Equal(t, 4, client.listed, "one request per page")
}

func TestCloudSink_Failures(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	client.putErr = errors.New("AccessDenied")
	sink := NewCloudSink(client, "bucket", "")

	err := sink.Deliver(ctx, "b.json", []byte("{}"))
	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cloud", se.Sink)
	assert.ErrorIs(t, err, client.putErr)

	_, err = sink.Fetch(ctx, "missing.json")
	var nsk *types.NoSuchKey
	assert.ErrorAs(t, err, &nsk)
	assert.ErrorIs(t, err, ErrSinkUnreachable)
}
