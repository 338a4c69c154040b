package repository

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	putInput  *s3.PutObjectInput
	headInput *s3.HeadObjectInput
	headOut   *s3.HeadObjectOutput
	headErr   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = params
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headInput = params
	if f.headErr != nil {
		return nil, f.headErr
	}
	return f.headOut, nil
}

func TestExists(t *testing.T) {
	fake := &fakeS3{headOut: &s3.HeadObjectOutput{}}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	exists, err := store.Exists(context.Background(), "user-1/github/acme/docs/README.md")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "kb-bucket", aws.ToString(fake.headInput.Bucket))
	assert.Equal(t, "user-1/github/acme/docs/README.md", aws.ToString(fake.headInput.Key))
}

func TestExistsMissingObject(t *testing.T) {
	fake := &fakeS3{headErr: &s3types.NotFound{}}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	exists, err := store.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExistsOtherError(t *testing.T) {
	fake := &fakeS3{headErr: errors.New("access denied")}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	_, err := store.Exists(context.Background(), "key")
	require.Error(t, err)
}

func TestPut(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	metadata := map[string]string{"quip-url": "https://github.com/acme/docs/blob/main/README.md"}
	require.NoError(t, store.Put(context.Background(), "key", []byte("body"), "text/markdown", metadata))

	require.NotNil(t, fake.putInput)
	assert.Equal(t, "kb-bucket", aws.ToString(fake.putInput.Bucket))
	assert.Equal(t, "text/markdown", aws.ToString(fake.putInput.ContentType))
	assert.Equal(t, metadata, fake.putInput.Metadata)

	body, err := io.ReadAll(fake.putInput.Body)
	require.NoError(t, err)
	assert.Equal(t, "body", string(body))
}

func TestPutOmitsEmptyContentType(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	require.NoError(t, store.Put(context.Background(), "key", nil, "", nil))
	assert.Nil(t, fake.putInput.ContentType)
}

func TestMetadataUsesExplicitBucket(t *testing.T) {
	fake := &fakeS3{headOut: &s3.HeadObjectOutput{Metadata: map[string]string{"quip-url": "https://example.com"}}}
	store := NewS3StoreWithClient(fake, "kb-bucket")

	md, err := store.Metadata(context.Background(), "other-bucket", "key")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", md["quip-url"])
	assert.Equal(t, "other-bucket", aws.ToString(fake.headInput.Bucket))
}
