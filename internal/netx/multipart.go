// Package netx holds HTTP body helpers: a disk-backed multipart builder for
// large uploads and a progress-reporting reader.
package netx

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ChunkSize bounds how much of a file is held in memory while copying it
// into a multipart body.
const ChunkSize = 16 * 1024

// Field is a plain form value.
type Field struct {
	Name  string
	Value string
}

// FileField is a form file streamed from disk.
type FileField struct {
	Name     string
	Path     string
	MimeType string
}

// MultipartBody is a finished multipart/form-data document on disk.
type MultipartBody struct {
	ContentType string
	Path        string
	Size        int64
}

// BuildMultipart streams fields and files into a new file under dir and
// returns its content type and location. The caller owns the file.
func BuildMultipart(dir string, fields []Field, files []FileField) (*MultipartBody, error) {
	out, err := os.CreateTemp(dir, "upload-*.multipart")
	if err != nil {
		return nil, fmt.Errorf("create body file: %w", err)
	}

	body, err := writeMultipart(out, fields, files)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close body file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(out.Name())
		return nil, err
	}

	body.Path = out.Name()
	return body, nil
}

func writeMultipart(out *os.File, fields []Field, files []FileField) (*MultipartBody, error) {
	w := multipart.NewWriter(out)
	if err := w.SetBoundary(newBoundary()); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}

	buf := make([]byte, ChunkSize)
	for _, f := range files {
		if err := copyFilePart(w, f, buf); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart: %w", err)
	}

	st, err := out.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat body file: %w", err)
	}

	return &MultipartBody{ContentType: w.FormDataContentType(), Size: st.Size()}, nil
}

func copyFilePart(w *multipart.Writer, f FileField, buf []byte) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(f.Name), escapeQuotes(filepath.Base(f.Path))))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", f.Name, err)
	}
	if _, err := io.CopyBuffer(part, onlyReader{src}, buf); err != nil {
		return fmt.Errorf("copy %s: %w", f.Path, err)
	}
	return nil
}

// newBoundary returns a random boundary token, unique per request.
func newBoundary() string {
	return "orbit-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// onlyReader hides WriterTo/ReaderFrom so io.CopyBuffer really goes through buf.
type onlyReader struct {
	io.Reader
}
