package fallback

import (
	"context"
	"time"

	"github.com/BaSui01/imagitext/llm/endpoint"
	"github.com/BaSui01/imagitext/llm/providers"
	"github.com/BaSui01/imagitext/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/imagitext/llm/fallback"

// 尝试结果标签
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Observer 接收每次端点尝试的结果（用于指标上报）。
type Observer interface {
	ObserveAttempt(family, operation, outcome string, code types.ErrorCode, duration time.Duration)
}

// InvokeFunc 针对单个候选端点执行一次调用。
type InvokeFunc[T any] func(ctx context.Context, candidate endpoint.Candidate) (T, error)

// Options 执行参数。零值可用。
type Options struct {
	Family    string
	Operation string
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Observer  Observer
}

// Execute 按顺序依次尝试候选端点，首个成功即返回。
//
// 语义：
//   - 严格串行，前一次尝试完成（成功或失败）后才开始下一次，永不并发
//   - 成功后不再调用后续候选
//   - 全部失败时返回最后一个候选的分类错误（不聚合）
//   - CONFIGURATION 错误立即返回，不进入回退
//   - 每次调用独立走完整链路，不记忆上次可用端点
func Execute[T any](ctx context.Context, candidates endpoint.Candidates, invoke InvokeFunc[T], opts Options) (T, error) {
	var zero T

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	if len(candidates) == 0 {
		return zero, types.NewError(types.ErrConfiguration, "no candidate endpoints").WithProvider(opts.Family)
	}

	var lastErr *types.Error
	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, providers.NetworkError(err, opts.Family)
		}

		result, err := attempt(ctx, tracer, cand, i, invoke, opts)
		if err == nil {
			if i > 0 {
				logger.Info("fallback endpoint succeeded",
					zap.String("family", opts.Family),
					zap.String("operation", opts.Operation),
					zap.String("endpoint", cand.URL),
					zap.Int("attempt", i+1),
				)
			}
			return result, nil
		}

		lastErr = err
		if err.Code == types.ErrConfiguration {
			return zero, err
		}

		logger.Warn("endpoint attempt failed",
			zap.String("family", opts.Family),
			zap.String("operation", opts.Operation),
			zap.String("endpoint", cand.URL),
			zap.String("shape", string(cand.Shape)),
			zap.Int("attempt", i+1),
			zap.Int("remaining", len(candidates)-i-1),
			zap.String("code", string(err.Code)),
			zap.Error(err),
		)
	}

	return zero, lastErr
}

// attempt 执行一次带 span 与指标的调用，失败时返回分类错误。
func attempt[T any](ctx context.Context, tracer trace.Tracer, cand endpoint.Candidate, index int,
	invoke InvokeFunc[T], opts Options) (T, *types.Error) {

	ctx, span := tracer.Start(ctx, "imagitext.endpoint_attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("imagitext.family", opts.Family),
			attribute.String("imagitext.operation", opts.Operation),
			attribute.String("imagitext.endpoint", cand.URL),
			attribute.String("imagitext.shape", string(cand.Shape)),
			attribute.Int("imagitext.attempt", index+1),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := invoke(ctx, cand)
	duration := time.Since(start)

	if err == nil {
		span.SetStatus(codes.Ok, "")
		if opts.Observer != nil {
			opts.Observer.ObserveAttempt(opts.Family, opts.Operation, OutcomeSuccess, "", duration)
		}
		return result, nil
	}

	classified := providers.Classify(err, opts.Family)
	span.RecordError(classified)
	span.SetStatus(codes.Error, string(classified.Code))
	if opts.Observer != nil {
		opts.Observer.ObserveAttempt(opts.Family, opts.Operation, OutcomeFailure, classified.Code, duration)
	}

	var zero T
	return zero, classified
}
