package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newUploadRequest builds a multipart POST carrying fields and, when
// fileField is not empty, one file part.
func newUploadRequest(t *testing.T, fields map[string]string, fileField, fileName string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())
	return r
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// memBackend is an in-memory StorageBackend.
type memBackend struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string][]byte)}
}

func (b *memBackend) PutFileAs(_ context.Context, folder string, file FinishedFile, name string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p := NormalizePath(path.Join(folder, name))
	if _, exists := b.files[p]; exists {
		ext := path.Ext(name)
		p = NormalizePath(path.Join(folder, fmt.Sprintf("%s (1)%s", name[:len(name)-len(ext)], ext)))
	}
	b.files[p] = data
	return p, nil
}

func (b *memBackend) Delete(_ context.Context, p string) error {
	b.mu.Lock()
	delete(b.files, p)
	b.mu.Unlock()
	return nil
}

func (b *memBackend) Disk() string { return "public" }

func (b *memBackend) get(p string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[p]
	return data, ok
}

// mapTranslator resolves keys from a fixed table regardless of language.
type mapTranslator map[string]string

func (m mapTranslator) Translate(_, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

var testMessages = mapTranslator{
	MsgUploadSuccess:    "The file was uploaded.",
	MsgUploadValidation: "The file could not be validated.",
}

// funcPostProcessor adapts a function to PostProcessor.
type funcPostProcessor func(ctx context.Context, file FinishedFile) Outcome

func (f funcPostProcessor) Process(ctx context.Context, file FinishedFile) Outcome {
	return f(ctx, file)
}

type testUploader struct {
	*Uploader
	backend   *memBackend
	assembler *Assembler
	store     *MemoryStore
	hooks     *Hooks
	scratch   string
}

type uploaderOption func(*UploaderDeps, *Rules)

func withPostProcessor(p PostProcessor) uploaderOption {
	return func(d *UploaderDeps, _ *Rules) { d.PostProcessor = p }
}

func withRules(fn func(*Rules)) uploaderOption {
	return func(_ *UploaderDeps, r *Rules) { fn(r) }
}

func withLimiter(l *FinalizeLimiter) uploaderOption {
	return func(d *UploaderDeps, _ *Rules) { d.Limiter = l }
}

func newTestUploader(t *testing.T, opts ...uploaderOption) *testUploader {
	t.Helper()

	scratch := t.TempDir()
	store := NewMemoryStore()
	assembler, err := NewAssembler(store, scratch, time.Hour)
	require.NoError(t, err)

	deps := UploaderDeps{Assembler: assembler, LogPostProcessFailures: true}
	rules := Rules{MaxFileSize: 10 << 20, AllowedPaths: []string{"**"}}
	for _, opt := range opts {
		opt(&deps, &rules)
	}

	validator, err := NewRuleValidator(rules, DecodeConfigInspector{})
	require.NoError(t, err)

	backend := newMemBackend()
	hooks := &Hooks{}
	deps.Receiver = NewReceiver(scratch, 0, validator)
	deps.Committer = NewCommitter(backend, validator, hooks, testMessages)

	return &testUploader{
		Uploader:  NewUploader(deps),
		backend:   backend,
		assembler: assembler,
		store:     store,
		hooks:     hooks,
		scratch:   scratch,
	}
}

// scratchEntries lists the file names left in the scratch directory.
func scratchEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// chunkOf builds an IncomingChunk over data[offset:offset+size].
func chunkOf(data []byte, offset, size int64, totalParts int, last bool) IncomingChunk {
	return IncomingChunk{
		Protocol:   ProtocolContentRange,
		Index:      -1,
		Offset:     offset,
		Size:       size,
		TotalParts: totalParts,
		TotalSize:  int64(len(data)),
		Last:       last,
		Body:       bytes.NewReader(data[offset : offset+size]),
		FileName:   "data.bin",
		Extension:  "bin",
	}
}

// failingReader returns err after n bytes.
type failingReader struct {
	r   io.Reader
	n   int
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, f.err
	}
	if len(p) > f.n {
		p = p[:f.n]
	}
	n, err := f.r.Read(p)
	f.n -= n
	return n, err
}

var errBoom = errors.New("boom")
