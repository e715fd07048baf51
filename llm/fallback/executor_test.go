package fallback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/imagitext/llm/endpoint"
	"github.com/BaSui01/imagitext/llm/providers"
	"github.com/BaSui01/imagitext/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func candidates(urls ...string) endpoint.Candidates {
	out := make(endpoint.Candidates, len(urls))
	for i, u := range urls {
		out[i] = endpoint.Candidate{URL: u, Shape: endpoint.ShapeChatCompletions}
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	codes    []types.ErrorCode
}

func (o *recordingObserver) ObserveAttempt(_, _ string, outcome string, code types.ErrorCode, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	o.codes = append(o.codes, code)
}

// ============================================================
// 基本语义
// ============================================================

func TestExecute_StopsAtFirstSuccess(t *testing.T) {
	var called []string
	invoke := func(_ context.Context, c endpoint.Candidate) (string, error) {
		called = append(called, c.URL)
		if c.URL == "b" {
			return "ok-from-b", nil
		}
		return "", providers.MapHTTPError(http.StatusNotFound, "missing", "image-api")
	}

	got, err := Execute(context.Background(), candidates("a", "b", "c", "d"), invoke, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, "ok-from-b", got)
	assert.Equal(t, []string{"a", "b"}, called)
}

func TestExecute_ReturnsLastError(t *testing.T) {
	invoke := func(_ context.Context, c endpoint.Candidate) (int, error) {
		switch c.URL {
		case "a":
			return 0, providers.MapHTTPError(http.StatusInternalServerError, "first", "image-api")
		case "b":
			return 0, providers.MapHTTPError(http.StatusTooManyRequests, "second", "image-api")
		default:
			return 0, providers.MapHTTPError(http.StatusUnauthorized, "third", "image-api")
		}
	}

	_, err := Execute(context.Background(), candidates("a", "b", "c"), invoke, Options{Family: "image-api"})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnauthorized, e.Code)
	assert.Equal(t, "third", e.Message)
}

func TestExecute_UnauthorizedStillFallsBack(t *testing.T) {
	calls := 0
	invoke := func(_ context.Context, c endpoint.Candidate) (string, error) {
		calls++
		if c.URL == "a" {
			return "", providers.MapHTTPError(http.StatusUnauthorized, "bad key", "vision-llm")
		}
		return "done", nil
	}

	got, err := Execute(context.Background(), candidates("a", "b"), invoke, Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 2, calls)
}

func TestExecute_ClassifiesPlainErrors(t *testing.T) {
	invoke := func(_ context.Context, _ endpoint.Candidate) (string, error) {
		return "", errors.New("upstream said 403 forbidden")
	}

	_, err := Execute(context.Background(), candidates("only"), invoke, Options{Family: "image-api"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrForbidden, e.Code)
	assert.Equal(t, "image-api", e.Provider)
}

func TestExecute_ConfigurationErrorStopsImmediately(t *testing.T) {
	calls := 0
	invoke := func(_ context.Context, _ endpoint.Candidate) (string, error) {
		calls++
		return "", types.NewError(types.ErrConfiguration, "missing key")
	}

	_, err := Execute(context.Background(), candidates("a", "b"), invoke, Options{})
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	assert.Equal(t, 1, calls)
}

func TestExecute_EmptyCandidates(t *testing.T) {
	_, err := Execute(context.Background(), nil, func(context.Context, endpoint.Candidate) (string, error) {
		t.Fatal("invoke must not be called")
		return "", nil
	}, Options{})
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	invoke := func(_ context.Context, _ endpoint.Candidate) (string, error) {
		calls++
		cancel()
		return "", providers.MapHTTPError(http.StatusBadGateway, "gw", "image-api")
	}

	_, err := Execute(ctx, candidates("a", "b", "c"), invoke, Options{})
	assert.Equal(t, types.ErrNetwork, types.GetErrorCode(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// ============================================================
// 可观测性
// ============================================================

func TestExecute_SpansAndObserver(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	obs := &recordingObserver{}
	invoke := func(_ context.Context, c endpoint.Candidate) (string, error) {
		if c.URL == "a" {
			return "", providers.MapHTTPError(http.StatusNotFound, "nf", "image-api")
		}
		return "ok", nil
	}

	_, err := Execute(context.Background(), candidates("a", "b"), invoke, Options{
		Family:    "image-api",
		Operation: "generate",
		Tracer:    tp.Tracer("test"),
		Observer:  obs,
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "imagitext.endpoint_attempt", spans[0].Name())

	assert.Equal(t, []string{OutcomeFailure, OutcomeSuccess}, obs.outcomes)
	assert.Equal(t, []types.ErrorCode{types.ErrBadRequest, ""}, obs.codes)
}

// ============================================================
// 属性测试
// ============================================================

// TestProperty_Execute_FirstSuccessWins 成功位置之后的候选永不调用；全部失败时返回最后一个错误
func TestProperty_Execute_FirstSuccessWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		// -1 表示全部失败
		successAt := rapid.IntRange(-1, n-1).Draw(rt, "successAt")

		urls := make([]string, n)
		for i := range urls {
			urls[i] = fmt.Sprintf("https://gw.example.com/%d", i)
		}

		calls := 0
		invoke := func(_ context.Context, c endpoint.Candidate) (int, error) {
			idx := calls
			calls++
			if c.URL != urls[idx] {
				rt.Fatalf("candidate %d attempted out of order: %s", idx, c.URL)
			}
			if idx == successAt {
				return idx, nil
			}
			return 0, providers.MapHTTPError(500, fmt.Sprintf("fail-%d", idx), "p")
		}

		got, err := Execute(context.Background(), candidates(urls...), invoke, Options{})
		if successAt >= 0 {
			if err != nil || got != successAt {
				rt.Fatalf("expected success at %d, got %d, %v", successAt, got, err)
			}
			if calls != successAt+1 {
				rt.Fatalf("expected %d calls, got %d", successAt+1, calls)
			}
			return
		}

		if calls != n {
			rt.Fatalf("expected all %d candidates tried, got %d", n, calls)
		}
		e, ok := types.AsError(err)
		if !ok || e.Message != fmt.Sprintf("fail-%d", n-1) {
			rt.Fatalf("expected last error, got %v", err)
		}
	})
}
