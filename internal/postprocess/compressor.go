// Package postprocess sends finished images to a resmush-compatible
// compression service and replaces the local file with the result.
//
// Post-processing is best effort: every failure is reported in the returned
// core.Outcome and the original file is left untouched.
package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// maxResponseBytes bounds the JSON reply of the compression service.
const maxResponseBytes = 1 << 20

// Config configures a Compressor.
type Config struct {
	Enabled        bool
	Endpoint       string
	Quality        int
	ConnectTimeout time.Duration
	Timeout        time.Duration
	Retries        int
	MimeTypes      []string
}

// Compressor is a core.PostProcessor backed by an HTTP compression service.
type Compressor struct {
	cfg     Config
	client  *retryablehttp.Client
	allowed map[string]bool
}

// New creates a Compressor.
func New(cfg Config) *Compressor {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 4,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport}
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = slog.Default().With("component", "postprocess")

	allowed := make(map[string]bool, len(cfg.MimeTypes))
	for _, m := range cfg.MimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = true
	}

	return &Compressor{cfg: cfg, client: client, allowed: allowed}
}

// Process compresses file in place when its MIME type is eligible.
func (c *Compressor) Process(ctx context.Context, file core.FinishedFile) core.Outcome {
	if !c.cfg.Enabled || !c.allowed[strings.ToLower(file.MimeType)] {
		return core.Outcome{}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	dir := filepath.Dir(file.Path)

	scratch := filepath.Join(dir, uuid.NewString())
	if file.Extension != "" {
		scratch += "." + file.Extension
	}
	defer os.Remove(scratch)

	if err := copyFile(file.Path, scratch); err != nil {
		return failed("copy", err)
	}

	dest, err := c.submit(ctx, scratch, file)
	if err != nil {
		return failed("submit", err)
	}

	downloaded := filepath.Join(dir, uuid.NewString()+".download")
	defer os.Remove(downloaded)

	if err := c.download(ctx, dest, downloaded); err != nil {
		return failed("download", err)
	}
	if err := verify(downloaded, file); err != nil {
		return failed("download", err)
	}
	if err := os.Rename(downloaded, file.Path); err != nil {
		return failed("replace", err)
	}

	return core.Outcome{Replaced: true}
}

func failed(stage string, err error) core.Outcome {
	return core.Outcome{Err: &core.PostProcessingError{Stage: stage, Err: err}}
}

// resmushResponse is the subset of the service reply we use.
type resmushResponse struct {
	Dest      string `json:"dest"`
	SrcSize   int64  `json:"src_size"`
	DestSize  int64  `json:"dest_size"`
	Error     int    `json:"error"`
	ErrorLong string `json:"error_long"`
}

// submit uploads the scratch copy and returns the URL of the result.
func (c *Compressor) submit(ctx context.Context, path string, file core.FinishedFile) (string, error) {
	body, contentType, err := multipartBody(path, file)
	if err != nil {
		return "", err
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("qlty", strconv.Itoa(c.cfg.Quality))
	endpoint.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var res resmushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if res.Dest == "" {
		if res.ErrorLong != "" {
			return "", fmt.Errorf("service error %d: %s", res.Error, res.ErrorLong)
		}
		return "", errors.New("response carries no dest")
	}

	u, err := url.Parse(res.Dest)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid dest %q", res.Dest)
	}

	slog.Debug("compression accepted",
		"file", file.ClientName,
		"src_size", res.SrcSize,
		"dest_size", res.DestSize,
	)
	return res.Dest, nil
}

// download fetches the compressed result into dest.
func (c *Compressor) download(ctx context.Context, src, dest string) error {
	g := got.New()
	g.Client = c.client.StandardClient()
	return g.Do(got.NewDownload(ctx, src, dest))
}

// verify rejects a result that is empty or no longer the upload's type.
func verify(path string, file core.FinishedFile) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("compressed result is empty")
	}
	if got := core.SniffMimeType(path, file.Extension, ""); got != file.MimeType {
		return fmt.Errorf("compressed result is %s, want %s", got, file.MimeType)
	}
	return nil
}

// multipartBody encodes the file as the "files" field with its MIME type.
func multipartBody(path string, file core.FinishedFile) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.ClientName))
	h.Set("Content-Type", file.MimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
