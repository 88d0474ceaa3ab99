package attach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// UploadPath is the server endpoint that stores attachments.
const UploadPath = "/upload"

// File is a file chosen for upload.
type File struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// LocalFile describes a file on disk. The content type is guessed from the
// extension.
func LocalFile(path string) File {
	return File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesFile describes an in-memory file.
func BytesFile(name string, data []byte) File {
	return File{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// HTTPUploader posts files as multipart form data to {base}/upload.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

func NewHTTPUploader(baseURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{
		endpoint: strings.TrimRight(baseURL, "/") + UploadPath,
		client:   client,
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload sends one request with a single "file" field and returns the url
// from the JSON reply.
func (u *HTTPUploader) Upload(ctx context.Context, file File) (string, error) {
	body, contentType, err := encodeMultipart(file)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed,
			sowerrors.NewIOError(sowerrors.ErrCodeUploadTransport, "cannot read "+file.Name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed,
			sowerrors.NewNetworkError(sowerrors.ErrCodeUploadTransport, "could not reach server", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: %w", ErrUploadFailed,
			sowerrors.NewNetworkError(sowerrors.ErrCodeUploadServer,
				fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil).
				WithContext("status", resp.StatusCode))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: invalid response: %w", ErrUploadFailed, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: response has no url", ErrUploadFailed)
	}

	return out.URL, nil
}

func encodeMultipart(file File) (*bytes.Buffer, string, error) {
	if file.Open == nil {
		return nil, "", fmt.Errorf("file %q has no content", file.Name)
	}
	src, err := file.Open()
	if err != nil {
		return nil, "", err
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
