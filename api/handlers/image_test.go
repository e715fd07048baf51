package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/imagitext/api"
	"github.com/BaSui01/imagitext/internal/cache"
	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// stubProvider 可配置的 Provider
type stubProvider struct {
	mu          sync.Mutex
	name        string
	configured  bool
	err         error
	block       chan struct{}
	lastBlob    image.ImageBlob
	lastRequest *image.GenerateRequest
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }

func (s *stubProvider) Analyze(ctx context.Context, blob image.ImageBlob) (*image.AnalysisResult, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.lastBlob = blob
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &image.AnalysisResult{English: "a red fox", Chinese: "一只红狐狸"}, nil
}

func (s *stubProvider) Generate(_ context.Context, req *image.GenerateRequest) (*image.GenerationResult, error) {
	s.mu.Lock()
	s.lastRequest = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &image.GenerationResult{
		Image:     "data:image/png;base64,AAAA",
		Provider:  s.name,
		Model:     req.Model,
		CreatedAt: time.Now(),
	}, nil
}

type stubFetcher struct {
	err    error
	gotURL string
}

func (f *stubFetcher) FetchImage(_ context.Context, rawURL string) ([]byte, string, error) {
	f.gotURL = rawURL
	if f.err != nil {
		return nil, "", f.err
	}
	return pngBytes, "image/png", nil
}

// countingJobs 记录任务上报
type countingJobs struct {
	mu      sync.Mutex
	ops     map[string]int
	started int
	active  int
}

func (c *countingJobs) RecordOperation(op string, err error, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = map[string]int{}
	}
	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
	}
	c.ops[op+"/"+status]++
}

func (c *countingJobs) JobStarted() {
	c.mu.Lock()
	c.started++
	c.active++
	c.mu.Unlock()
}

func (c *countingJobs) JobFinished() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

type testEnv struct {
	handler    *ImageHandler
	analysis   *stubProvider
	generation *stubProvider
	fetcher    *stubFetcher
	session    *cache.Session
}

func newTestEnv(t *testing.T, cfg ImageHandlerConfig) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	env := &testEnv{
		analysis:   &stubProvider{name: "vision-llm", configured: true},
		generation: &stubProvider{name: "image-api", configured: true},
		fetcher:    &stubFetcher{},
		session:    cache.NewSession(cache.NewMemoryStore(0), logger),
	}
	svc := image.NewService(env.analysis, env.generation, env.fetcher, logger)
	env.handler = NewImageHandler(svc, env.session, cfg, logger)
	return env
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func newMultipartRequest(t *testing.T, target string, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, target, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func newJSONRequest(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// =============================================================================
// 🧪 /api/analyze-image
// =============================================================================

func TestImageHandler_AnalyzeImage(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})

	w := httptest.NewRecorder()
	env.handler.HandleAnalyzeImage(w, newMultipartRequest(t, "/api/analyze-image", nil,
		filePart{field: "image", filename: "fox.png", contentType: "image/png", data: pngBytes}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"english":"a red fox","chinese":"一只红狐狸"}`, w.Body.String())
	assert.Equal(t, "image/png", env.analysis.lastBlob.MimeType)
	assert.Equal(t, pngBytes, env.analysis.lastBlob.Data)

	snap, err := env.session.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.LastAnalysis)
	assert.Equal(t, "a red fox", snap.LastAnalysis.English)
}

func TestImageHandler_AnalyzeImage_SniffsOctetStream(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})

	w := httptest.NewRecorder()
	env.handler.HandleAnalyzeImage(w, newMultipartRequest(t, "/api/analyze-image", nil,
		filePart{field: "image", filename: "fox", contentType: "application/octet-stream", data: pngBytes}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", env.analysis.lastBlob.MimeType)
}

func TestImageHandler_AnalyzeImage_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		request  func(t *testing.T) *http.Request
		wantCode int
		wantMsg  string
	}{
		{
			name: "no file",
			request: func(t *testing.T) *http.Request {
				return newMultipartRequest(t, "/api/analyze-image", map[string]string{"other": "x"})
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "No image file provided",
		},
		{
			name: "wrong type",
			request: func(t *testing.T) *http.Request {
				return newMultipartRequest(t, "/api/analyze-image", nil,
					filePart{field: "image", filename: "a.svg", contentType: "image/svg+xml", data: []byte("<svg/>")})
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid file type. Only JPEG, PNG, WEBP, and GIF images are allowed.",
		},
		{
			name: "too large",
			request: func(t *testing.T) *http.Request {
				return newMultipartRequest(t, "/api/analyze-image", nil,
					filePart{field: "image", filename: "big.png", contentType: "image/png", data: bytes.Repeat([]byte{1}, 2048)})
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "File size exceeds 1024 bytes limit",
		},
		{
			name: "not multipart",
			request: func(t *testing.T) *http.Request {
				return newJSONRequest("/api/analyze-image", `{}`)
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "Content-Type must be multipart/form-data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, ImageHandlerConfig{MaxUploadBytes: 1024})

			w := httptest.NewRecorder()
			env.handler.HandleAnalyzeImage(w, tt.request(t))

			assert.Equal(t, tt.wantCode, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantMsg, resp.Error)
			assert.Equal(t, string(types.ErrBadRequest), resp.Code)
			assert.Nil(t, env.analysis.lastBlob.Data)
		})
	}
}

func TestImageHandler_AnalyzeImage_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(p *stubProvider)
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"rate limited", func(p *stubProvider) { p.err = types.NewError(types.ErrRateLimited, "quota") }, 429, types.ErrRateLimited},
		{"unauthorized", func(p *stubProvider) { p.err = types.NewError(types.ErrUnauthorized, "bad key") }, 401, types.ErrUnauthorized},
		{"upstream 5xx", func(p *stubProvider) { p.err = types.NewError(types.ErrServerError, "boom") }, 502, types.ErrServerError},
		{"missing key", func(p *stubProvider) { p.configured = false }, 500, types.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, ImageHandlerConfig{})
			tt.configure(env.analysis)

			w := httptest.NewRecorder()
			env.handler.HandleAnalyzeImage(w, newMultipartRequest(t, "/api/analyze-image", nil,
				filePart{field: "image", filename: "fox.png", contentType: "image/png", data: pngBytes}))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, w).Code)

			snap, err := env.session.Snapshot(context.Background())
			require.NoError(t, err)
			assert.Nil(t, snap.LastAnalysis)
		})
	}
}

// =============================================================================
// 🧪 /api/analyze-image-url
// =============================================================================

func TestImageHandler_AnalyzeImageURL(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})

	w := httptest.NewRecorder()
	env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url",
		`{"imageUrl":"https://images.example.com/fox.png"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://images.example.com/fox.png", env.fetcher.gotURL)
	assert.Equal(t, "image/png", env.analysis.lastBlob.MimeType)
}

func TestImageHandler_AnalyzeImageURL_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		env := newTestEnv(t, ImageHandlerConfig{})
		w := httptest.NewRecorder()
		env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"imageUrl":"  "}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Image URL is required", decodeError(t, w).Error)
	})

	t.Run("unsafe url", func(t *testing.T) {
		env := newTestEnv(t, ImageHandlerConfig{})
		env.fetcher.err = types.NewError(types.ErrUnsafeURL, "Access to private IP addresses is not allowed")

		w := httptest.NewRecorder()
		env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"imageUrl":"https://10.0.0.1/a.png"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, string(types.ErrUnsafeURL), resp.Code)
		assert.Nil(t, env.analysis.lastBlob.Data)
	})

	t.Run("fetch timeout", func(t *testing.T) {
		env := newTestEnv(t, ImageHandlerConfig{})
		env.fetcher.err = types.NewError(types.ErrFetchTimeout, "Request timeout: Image fetch took too long")

		w := httptest.NewRecorder()
		env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"imageUrl":"https://slow.example.com/a.png"}`))

		assert.Equal(t, http.StatusRequestTimeout, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		env := newTestEnv(t, ImageHandlerConfig{})
		w := httptest.NewRecorder()
		env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"url":"https://a.example/x.png"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// 🧪 /api/generate-image
// =============================================================================

func TestImageHandler_GenerateImage_JSON(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})
	ctx := context.Background()

	// 旧结果在新的生成开始时被清掉
	env.session.RecordImage(ctx, cache.LastImage{Image: "data:image/png;base64,OLD=", Prompt: "old"})

	w := httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image",
		`{"prompt":"a fox","aspectRatio":"16:9","style":"watercolor","model":"dall-e-3"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.GenerateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "data:image/png;base64,AAAA", resp.URL)
	assert.Equal(t, "dall-e-3", resp.Model)
	assert.Equal(t, "image-api", resp.Provider)

	req := env.generation.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, "a fox, art style: watercolor, high quality, detailed", req.Prompt)
	assert.Equal(t, image.AspectWide, req.AspectRatio)
	assert.Nil(t, req.ReferenceImage)

	snap, err := env.session.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.LastImage)
	assert.Equal(t, "a fox", snap.LastImage.Prompt)
	assert.Equal(t, "16:9", snap.LastImage.AspectRatio)
}

func TestImageHandler_GenerateImage_JSONReference(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})

	ref := image.ImageBlob{Data: pngBytes, MimeType: "image/png"}.DataURL()
	w := httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image",
		fmt.Sprintf(`{"prompt":"a fox","referenceImage":%q}`, ref)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, env.generation.lastRequest.ReferenceImage)
	assert.Equal(t, pngBytes, env.generation.lastRequest.ReferenceImage.Data)
}

func TestImageHandler_GenerateImage_Multipart(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})

	w := httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newMultipartRequest(t, "/api/generate-image",
		map[string]string{"prompt": "a fox", "aspectRatio": "3:4", "style": "none"},
		filePart{field: "referenceImage", filename: "ref.png", contentType: "image/png", data: pngBytes}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	req := env.generation.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, "a fox", req.Prompt)
	assert.Equal(t, image.AspectPortrait, req.AspectRatio)
	require.NotNil(t, req.ReferenceImage)
	assert.Equal(t, "image/png", req.ReferenceImage.MimeType)
}

func TestImageHandler_GenerateImage_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"missing prompt", `{"prompt":"   "}`, 400, "Prompt is required"},
		{"bad aspect ratio", `{"prompt":"a fox","aspectRatio":"2:1"}`, 400, "unsupported aspect ratio: 2:1"},
		{"bad reference", `{"prompt":"a fox","referenceImage":"https://example.com/x.png"}`, 400,
			"referenceImage must be a JPEG, PNG, WEBP or GIF data URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, ImageHandlerConfig{})

			w := httptest.NewRecorder()
			env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image", tt.body))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, w).Error)
		})
	}
}

func TestImageHandler_GenerateImage_UnsupportedKeepsSessionClear(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})
	env.generation.err = types.NewError(types.ErrUnsupported, "I cannot draw that")
	ctx := context.Background()
	env.session.RecordImage(ctx, cache.LastImage{Image: "data:image/png;base64,OLD="})

	w := httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image", `{"prompt":"a fox"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "I cannot draw that", decodeError(t, w).Error)

	snap, err := env.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.LastImage)
}

// =============================================================================
// 🧪 并发与观察者
// =============================================================================

func TestImageHandler_ConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{MaxConcurrentJobs: 1})
	env.analysis.block = make(chan struct{})
	jobs := &countingJobs{}
	env.handler.SetObserver(jobs)

	firstDone := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"imageUrl":"https://a.example/1.png"}`))
		firstDone <- w.Code
	}()

	// 等第一个请求占住槽位
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return jobs.active == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	env.handler.HandleAnalyzeImageURL(w, newJSONRequest("/api/analyze-image-url", `{"imageUrl":"https://a.example/2.png"}`).WithContext(ctx))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrRateLimited), decodeError(t, w).Code)

	close(env.analysis.block)
	assert.Equal(t, http.StatusOK, <-firstDone)
}

func TestImageHandler_Observer(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{MaxConcurrentJobs: 2})
	jobs := &countingJobs{}
	env.handler.SetObserver(jobs)

	w := httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image", `{"prompt":"a fox"}`))
	require.Equal(t, http.StatusOK, w.Code)

	env.generation.err = types.NewError(types.ErrEmptyResponse, "no image")
	w = httptest.NewRecorder()
	env.handler.HandleGenerateImage(w, newJSONRequest("/api/generate-image", `{"prompt":"a fox"}`))
	require.Equal(t, http.StatusBadGateway, w.Code)

	assert.Equal(t, 1, jobs.ops["generate/ok"])
	assert.Equal(t, 1, jobs.ops["generate/EMPTY_RESPONSE"])
	assert.Equal(t, 2, jobs.started)
	assert.Equal(t, 0, jobs.active)
}

// =============================================================================
// 🧪 /api/config 与 /api/session
// =============================================================================

func TestImageHandler_Config(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{
		Models:   []string{"gemini-2.5-flash-image", "imagen-3"},
		Provider: "vision-llm",
	})

	w := httptest.NewRecorder()
	env.handler.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["gemini-2.5-flash-image","imagen-3"],"defaultModel":"gemini-2.5-flash-image","provider":"vision-llm"}`,
		w.Body.String())
}

func TestModelOptions(t *testing.T) {
	tests := []struct {
		name       string
		generation []string
		analysis   string
		family     string
		want       []string
	}{
		{"explicit list", []string{"a", "b"}, "gpt-4o", "image-api", []string{"a", "b"}},
		{"inherited gemini text model", []string{"gemini-2.5-flash"}, "gemini-2.5-flash", "vision-llm", []string{"gemini-2.5-flash-image"}},
		{"normalized duplicates collapse", []string{"gemini-2.5-flash", "gemini-2.5-flash-image", "imagen-3"}, "", "vision-llm", []string{"gemini-2.5-flash-image", "imagen-3"}},
		{"image-capable analysis model", nil, "gemini-2.5-flash-image", "vision-llm", []string{"gemini-2.5-flash-image"}},
		{"dall analysis model", nil, "DALL-E-3", "image-api", []string{"DALL-E-3"}},
		{"vision-llm default", nil, "gemini-2.5-flash", "vision-llm", []string{"gemini-2.5-flash-image"}},
		{"image-api default", nil, "gpt-4o", "openai", []string{"dall-e-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModelOptions(tt.generation, tt.analysis, tt.family))
		})
	}
}

func TestImageHandler_Session(t *testing.T) {
	env := newTestEnv(t, ImageHandlerConfig{})
	ctx := context.Background()
	env.session.RecordAnalysis(ctx, &image.AnalysisResult{English: "e", Chinese: "c"})

	w := httptest.NewRecorder()
	env.handler.HandleSession(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap cache.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	require.NotNil(t, snap.LastAnalysis)
	assert.Equal(t, "e", snap.LastAnalysis.English)
	assert.Nil(t, snap.LastImage)

	w = httptest.NewRecorder()
	env.handler.HandleSession(w, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	after, err := env.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, after.LastAnalysis)
}

func TestImageHandler_SessionDisabled(t *testing.T) {
	svc := image.NewService(&stubProvider{configured: true}, &stubProvider{configured: true}, nil, nil)
	h := NewImageHandler(svc, nil, ImageHandlerConfig{}, nil)

	w := httptest.NewRecorder()
	h.HandleSession(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lastAnalysis":null,"lastImage":null}`, w.Body.String())

	w = httptest.NewRecorder()
	h.HandleGenerateImage(w, newJSONRequest("/api/generate-image", `{"prompt":"a fox"}`))
	assert.Equal(t, http.StatusOK, w.Code)
}
