package netx

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMultipart_RoundTripsFieldsAndFile(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "clip.mp4")
	payload := bytes.Repeat([]byte("0123456789abcdef"), 3*ChunkSize/16+7) // spans several chunks
	require.NoError(t, os.WriteFile(media, payload, 0o600))

	body, err := BuildMultipart(dir,
		[]Field{{Name: "thing", Value: "42"}, {Name: "technique", Value: "T"}},
		[]FileField{{Name: "file", Path: media, MimeType: "video/mp4"}},
	)
	require.NoError(t, err)

	st, err := os.Stat(body.Path)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), body.Size)

	mediaType, params, err := mime.ParseMediaType(body.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	assert.True(t, strings.HasPrefix(params["boundary"], "orbit-"))

	f, err := os.Open(body.Path)
	require.NoError(t, err)
	defer f.Close()

	r := multipart.NewReader(f, params["boundary"])
	got := map[string][]byte{}
	var fileName, fileType string
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		got[p.FormName()] = b
		if p.FileName() != "" {
			fileName = p.FileName()
			fileType = p.Header.Get("Content-Type")
		}
	}

	assert.Equal(t, "42", string(got["thing"]))
	assert.Equal(t, "T", string(got["technique"]))
	assert.Equal(t, payload, got["file"])
	assert.Equal(t, "clip.mp4", fileName)
	assert.Equal(t, "video/mp4", fileType)
}

func TestBuildMultipart_BoundaryIsPerRequest(t *testing.T) {
	dir := t.TempDir()
	a, err := BuildMultipart(dir, []Field{{Name: "x", Value: "1"}}, nil)
	require.NoError(t, err)
	b, err := BuildMultipart(dir, []Field{{Name: "x", Value: "1"}}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ContentType, b.ContentType)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestBuildMultipart_MissingFileLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildMultipart(dir, nil, []FileField{{Name: "file", Path: filepath.Join(dir, "nope.mp4")}})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProgressReader(t *testing.T) {
	var reports []int64
	pr := NewProgressReader(strings.NewReader("hello world"), func(n int64) { reports = append(reports, n) })

	buf := make([]byte, 4)
	for {
		_, err := pr.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, int64(11), pr.Sent())
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(11), reports[len(reports)-1])
}
