package fetch

import (
    "context"
    "errors"
    "io"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/aws/aws-sdk-go-v2/service/s3"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type stringOpener map[string]string

func (s stringOpener) Open(_ context.Context, url string) (io.ReadCloser, error) {
    body, ok := s[url]
    if !ok { return nil, errors.New("missing " + url) }
    return io.NopCloser(strings.NewReader(body)), nil
}

type fakeS3 struct{ objects map[string]string }

func (f fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
    body, ok := f.objects[*in.Bucket+"/"+*in.Key]
    if !ok { return nil, errors.New("NoSuchKey") }
    return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestFetchRoutesByScheme(t *testing.T) {
    dir := t.TempDir()
    s3o := &S3Opener{client: fakeS3{objects: map[string]string{"raw/run1/a.fq.gz": "from-s3"}}}
    f := New(stringOpener{"files/b.fq.gz": "from-lims"}).Register("s3", s3o)

    n, err := f.Fetch(context.Background(), "s3://raw/run1/a.fq.gz", filepath.Join(dir, "a.fq.gz"))
    require.NoError(t, err)
    assert.EqualValues(t, len("from-s3"), n)
    b, err := os.ReadFile(filepath.Join(dir, "a.fq.gz"))
    require.NoError(t, err)
    assert.Equal(t, "from-s3", string(b))

    _, err = f.Fetch(context.Background(), "files/b.fq.gz", filepath.Join(dir, "sub", "b.fq.gz"))
    require.NoError(t, err)
    b, err = os.ReadFile(filepath.Join(dir, "sub", "b.fq.gz"))
    require.NoError(t, err)
    assert.Equal(t, "from-lims", string(b))
}

func TestFetchFailureLeavesNoFile(t *testing.T) {
    dir := t.TempDir()
    f := New(stringOpener{})
    _, err := f.Fetch(context.Background(), "files/missing", filepath.Join(dir, "x.fq.gz"))
    require.Error(t, err)
    entries, err := os.ReadDir(dir)
    require.NoError(t, err)
    assert.Empty(t, entries)
}

func TestParseS3URL(t *testing.T) {
    b, k, err := ParseS3URL("s3://bucket/path/to/key.fq.gz")
    require.NoError(t, err)
    assert.Equal(t, "bucket", b)
    assert.Equal(t, "path/to/key.fq.gz", k)

    for _, bad := range []string{"http://x/y", "s3://bucket", "s3:///key"} {
        _, _, err := ParseS3URL(bad)
        assert.Error(t, err, bad)
    }
}
