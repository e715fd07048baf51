package cache

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/imagitext/llm/image"
	"go.uber.org/zap"
)

// LastImage 最近一次生成的图片及其参数
type LastImage struct {
	Image       string    `json:"image"`
	Prompt      string    `json:"prompt"`
	AspectRatio string    `json:"aspectRatio,omitempty"`
	Style       string    `json:"style,omitempty"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Snapshot 会话快照，缺失项为 nil
type Snapshot struct {
	LastAnalysis *image.AnalysisResult `json:"lastAnalysis"`
	LastImage    *LastImage            `json:"lastImage"`
}

// Session 在 Store 之上读写固定会话键。
// 存储失败只记录日志，不影响主流程。
type Session struct {
	store  Store
	logger *zap.Logger
}

// NewSession 创建会话记录器
func NewSession(store Store, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{store: store, logger: logger.With(zap.String("component", "session"))}
}

// RecordAnalysis 保存最近一次分析结果
func (s *Session) RecordAnalysis(ctx context.Context, res *image.AnalysisResult) {
	if res == nil {
		return
	}
	if err := s.store.SetJSON(ctx, KeyLastAnalysis, res); err != nil {
		s.logger.Warn("failed to persist analysis", zap.Error(err))
	}
}

// RecordImage 保存最近一次生成结果
func (s *Session) RecordImage(ctx context.Context, img LastImage) {
	if img.Image == "" {
		return
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	if err := s.store.SetJSON(ctx, KeyLastImage, img); err != nil {
		s.logger.Warn("failed to persist image", zap.Error(err))
	}
}

// ClearImage 新的生成开始前清掉旧结果
func (s *Session) ClearImage(ctx context.Context) {
	if err := s.store.Delete(ctx, KeyLastImage); err != nil {
		s.logger.Warn("failed to clear image", zap.Error(err))
	}
}

// Clear 删除全部会话键
func (s *Session) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, KeyLastAnalysis, KeyLastImage)
}

// Snapshot 读取当前会话
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	var analysis image.AnalysisResult
	switch err := s.store.GetJSON(ctx, KeyLastAnalysis, &analysis); {
	case err == nil:
		snap.LastAnalysis = &analysis
	case !errors.Is(err, ErrCacheMiss):
		return nil, err
	}

	var img LastImage
	switch err := s.store.GetJSON(ctx, KeyLastImage, &img); {
	case err == nil:
		snap.LastImage = &img
	case !errors.Is(err, ErrCacheMiss):
		return nil, err
	}

	return snap, nil
}

// Ping 检查底层存储
func (s *Session) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
