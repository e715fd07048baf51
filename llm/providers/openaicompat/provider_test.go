package openaicompat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/llm/providers"
	"github.com/BaSui01/imagitext/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	paths  []string
	bodies map[string][]byte
}

func newGateway(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.bodies[r.URL.Path] = body
		rec.mu.Unlock()

		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if h, ok := routes[r.URL.Path]; ok {
			h(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid URL (POST ` + r.URL.Path + `)"}}`))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func reply(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestProvider(baseURL, model string) *Provider {
	return New(Config{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "sk-test",
		BaseURL: baseURL,
		Model:   model,
	}}, zap.NewNop())
}

var testBlob = image.ImageBlob{Data: []byte("jpegbytes"), MimeType: "image/jpeg"}

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	require.NotNil(t, p)
	assert.Equal(t, "image-api", p.Name())
	assert.False(t, p.Configured())
	assert.NotNil(t, p.Client)
	assert.NotNil(t, p.Logger)
	assert.NotNil(t, p.Cfg.BuildHeaders)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	p.Cfg.BuildHeaders(req, "k")
	assert.Equal(t, "Bearer k", req.Header.Get("Authorization"))
}

func TestNew_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "custom-k", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/a.png"}]}`))
	}))
	defer srv.Close()

	p := New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "custom-k", BaseURL: srv.URL + "#"},
		BuildHeaders: func(r *http.Request, key string) {
			r.Header.Set("api-key", key)
			r.Header.Set("Content-Type", "application/json")
		},
	}, nil)

	got, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "x", AspectRatio: image.AspectSquare})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", got.Image)
}

// ---------------------------------------------------------------------------
// Analyze
// ---------------------------------------------------------------------------

func TestAnalyze_Success(t *testing.T) {
	rec, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/v1/chat/completions": reply(200, `{"choices":[{"message":{"role":"assistant","content":"{\"english\":\"a cat\",\"chinese\":\"一只猫\"}"}}]}`),
	})

	p := newTestProvider(srv.URL, "")
	got, err := p.Analyze(context.Background(), testBlob)
	require.NoError(t, err)
	assert.Equal(t, &image.AnalysisResult{English: "a cat", Chinese: "一只猫"}, got)

	body := rec.bodies["/v1/chat/completions"]
	assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, image.JSONSystemMessage, gjson.GetBytes(body, "messages.0.content").String())
	assert.Equal(t, image.SystemPrompt, gjson.GetBytes(body, "messages.1.content.0.text").String())
	assert.Equal(t, testBlob.DataURL(), gjson.GetBytes(body, "messages.1.content.1.image_url.url").String())
	assert.Equal(t, "json_object", gjson.GetBytes(body, "response_format.type").String())
}

func TestAnalyze_FencedContentAndFallback(t *testing.T) {
	rec, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/chat/completions": reply(200, `{"choices":[{"message":{"content":"`+"```json\\n{\\\"english\\\":\\\"e\\\",\\\"chinese\\\":\\\"c\\\"}\\n```"+`"}}]}`),
	})

	p := newTestProvider(srv.URL, "gpt-4o-mini")
	got, err := p.Analyze(context.Background(), testBlob)
	require.NoError(t, err)
	assert.Equal(t, "e", got.English)
	assert.Equal(t, "c", got.Chinese)
	assert.Equal(t, []string{"/v1/chat/completions", "/chat/completions"}, rec.paths)
}

func TestAnalyze_EmptyAndParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want types.ErrorCode
	}{
		{"no choices", `{"choices":[]}`, types.ErrEmptyResponse},
		{"not json", `{"choices":[{"message":{"content":"I see a cat"}}]}`, types.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newGateway(t, map[string]func(http.ResponseWriter){
				"/x": reply(200, tt.body),
			})
			p := newTestProvider(srv.URL+"/x#", "")
			_, err := p.Analyze(context.Background(), testBlob)
			assert.Equal(t, tt.want, types.GetErrorCode(err))
		})
	}
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate_ImagesEndpoint(t *testing.T) {
	rec, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/v1/images/generations": reply(200, `{"created":1,"data":[{"b64_json":"QUJD"}]}`),
	})

	p := newTestProvider(srv.URL, "")
	got, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "a fox", AspectRatio: image.AspectTall})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", got.Image)
	assert.Equal(t, "dall-e-3", got.Model)
	assert.Equal(t, []string{"/v1/images/generations"}, rec.paths)

	body := rec.bodies["/v1/images/generations"]
	assert.Equal(t, "a fox", gjson.GetBytes(body, "prompt").String())
	assert.Equal(t, "1024x1792", gjson.GetBytes(body, "size").String())
	assert.Equal(t, "b64_json", gjson.GetBytes(body, "response_format").String())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "n").Int())
}

func TestGenerate_IgnoreVersionOrder(t *testing.T) {
	rec, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/chat/completions": reply(200, `{"choices":[{"message":{"content":"data:image/webp;base64,V0VCUA=="}}]}`),
	})

	p := newTestProvider(srv.URL+"/", "flux-pro")
	got, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "a fox", AspectRatio: image.AspectSquare})
	require.NoError(t, err)
	assert.Equal(t, "data:image/webp;base64,V0VCUA==", got.Image)
	assert.Equal(t, []string{"/images/generations", "/chat/completions"}, rec.paths)

	chat := rec.bodies["/chat/completions"]
	assert.Equal(t, "flux-pro", gjson.GetBytes(chat, "model").String())
	assert.Equal(t, "a fox", gjson.GetBytes(chat, "messages.0.content.0.text").String())
}

func TestGenerate_ReferenceImageUsesChatFirst(t *testing.T) {
	rec, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/v1/chat/completions": reply(200, `{"choices":[{"message":{"content":"data:image/png;base64,UkVG"}}]}`),
	})

	p := newTestProvider(srv.URL, "")
	ref := &image.ImageBlob{Data: []byte("ref"), MimeType: "image/png"}
	got, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "in winter", AspectRatio: image.AspectSquare, ReferenceImage: ref})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,UkVG", got.Image)
	assert.Equal(t, []string{"/v1/chat/completions"}, rec.paths)

	body := rec.bodies["/v1/chat/completions"]
	assert.Equal(t, ref.DataURL(), gjson.GetBytes(body, "messages.0.content.0.image_url.url").String())
	assert.Equal(t, "Based on this reference image, in winter", gjson.GetBytes(body, "messages.0.content.1.text").String())
}

func TestGenerate_AllFailReturnsLastError(t *testing.T) {
	_, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/v1/images/generations": reply(500, `{"error":{"message":"first"}}`),
		"/v1/chat/completions":   reply(429, `{"error":{"message":"second"}}`),
		"/images/generations":    reply(403, `{"error":{"message":"third"}}`),
		"/chat/completions":      reply(401, `{"error":{"message":"Incorrect API key provided"}}`),
	})

	p := newTestProvider(srv.URL, "")
	_, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "x", AspectRatio: image.AspectSquare})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnauthorized, e.Code)
	assert.Equal(t, "Incorrect API key provided", e.Message)
	assert.Equal(t, "image-api", e.Provider)
}

func TestGenerate_NoImageData(t *testing.T) {
	_, srv := newGateway(t, map[string]func(http.ResponseWriter){
		"/draw": reply(200, `{"choices":[{"message":{"content":"here is a description instead"}}]}`),
	})

	p := newTestProvider(srv.URL+"/draw#", "")
	_, err := p.Generate(context.Background(), &image.GenerateRequest{Prompt: "x", AspectRatio: image.AspectSquare})
	assert.Equal(t, types.ErrEmptyResponse, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// ExtractImage
// ---------------------------------------------------------------------------

func TestExtractImage(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"b64 wins over url", `{"data":[{"b64_json":"QQ==","url":"https://x/y.png"}]}`, "data:image/png;base64,QQ==", true},
		{"hosted url", `{"data":[{"url":"https://x/y.png"}]}`, "https://x/y.png", true},
		{"chat data url", `{"choices":[{"message":{"content":"data:image/png;base64,Qg=="}}]}`, "data:image/png;base64,Qg==", true},
		{"chat plain text", `{"choices":[{"message":{"content":"no image"}}]}`, "", false},
		{"empty", `{}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractImage([]byte(tt.body))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
