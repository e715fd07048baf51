package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/imagitext/api"
	"github.com/BaSui01/imagitext/internal/cache"
	"github.com/BaSui01/imagitext/llm/factory"
	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// multipart 表单在文件之外的余量
	multipartOverhead = 1 << 20
	// 超过此大小的上传落盘为临时文件
	multipartMemory = 8 << 20

	opAnalyze  = "analyze"
	opGenerate = "generate"
)

// allowedUploadTypes 上传图片的 MIME 白名单
var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// =============================================================================
// 🖼️ 图像 Handler
// =============================================================================

// JobObserver 接收分析/生成任务的结果，metrics.Collector 实现了该接口
type JobObserver interface {
	RecordOperation(operation string, err error, duration time.Duration)
	JobStarted()
	JobFinished()
}

// ImageHandlerConfig 图像 Handler 配置
type ImageHandlerConfig struct {
	// 单张上传图片上限
	MaxUploadBytes int64
	// 同时进行的上游任务数，<=0 表示不限制
	MaxConcurrentJobs int64
	// /api/config 公布的生成模型列表，第一个为默认
	Models []string
	// 生成协议族标签
	Provider string
}

// ImageHandler 处理分析、生成、配置与会话端点
type ImageHandler struct {
	service  *image.Service
	session  *cache.Session
	jobs     *semaphore.Weighted
	observer JobObserver
	cfg      ImageHandlerConfig
	logger   *zap.Logger
}

// NewImageHandler 创建图像 Handler。session 为 nil 时不记录会话。
func NewImageHandler(service *image.Service, session *cache.Session, cfg ImageHandlerConfig, logger *zap.Logger) *ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	h := &ImageHandler{
		service: service,
		session: session,
		cfg:     cfg,
		logger:  logger.With(zap.String("handler", "image")),
	}
	if cfg.MaxConcurrentJobs > 0 {
		h.jobs = semaphore.NewWeighted(cfg.MaxConcurrentJobs)
	}
	return h
}

// SetObserver 设置任务观察者
func (h *ImageHandler) SetObserver(o JobObserver) {
	h.observer = o
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleAnalyzeImage 处理 POST /api/analyze-image（multipart 字段 image）
func (h *ImageHandler) HandleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseMultipart(w, r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	defer form.RemoveAll()

	blob, err := h.readUpload(form, "image")
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if blob == nil {
		WriteErrorMessage(w, types.ErrBadRequest, "No image file provided", h.logger)
		return
	}

	var result *image.AnalysisResult
	err = h.runJob(r.Context(), opAnalyze, func(ctx context.Context) error {
		var err error
		result, err = h.service.Analyze(ctx, *blob)
		return err
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.recordAnalysis(r.Context(), result)
	WriteJSON(w, http.StatusOK, result)
}

// HandleAnalyzeImageURL 处理 POST /api/analyze-image-url
func (h *ImageHandler) HandleAnalyzeImageURL(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyzeURLRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		WriteErrorMessage(w, types.ErrBadRequest, "Image URL is required", h.logger)
		return
	}

	var result *image.AnalysisResult
	err := h.runJob(r.Context(), opAnalyze, func(ctx context.Context) error {
		var err error
		result, err = h.service.AnalyzeURL(ctx, req.ImageURL)
		return err
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.recordAnalysis(r.Context(), result)
	WriteJSON(w, http.StatusOK, result)
}

// HandleGenerateImage 处理 POST /api/generate-image。
// 接受 JSON，或带可选 referenceImage 文件的 multipart。
func (h *ImageHandler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var (
		req       api.GenerateRequest
		reference *image.ImageBlob
	)

	if isMultipart(r) {
		form, err := h.parseMultipart(w, r)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		defer form.RemoveAll()

		req = api.GenerateRequest{
			Prompt:      formValue(form, "prompt"),
			AspectRatio: formValue(form, "aspectRatio"),
			Style:       formValue(form, "style"),
			Model:       formValue(form, "model"),
		}
		if reference, err = h.readUpload(form, "referenceImage"); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	} else {
		// base64 参考图比原始文件大约三分之一
		limit := h.cfg.MaxUploadBytes/3*4 + multipartOverhead
		if err := DecodeJSONBodyLimit(w, r, &req, limit, h.logger); err != nil {
			return
		}
		if req.ReferenceImage != "" {
			blob, err := image.ParseDataURL(req.ReferenceImage)
			if err != nil || !allowedUploadTypes[blob.MimeType] {
				WriteErrorMessage(w, types.ErrBadRequest, "referenceImage must be a JPEG, PNG, WEBP or GIF data URL", h.logger)
				return
			}
			if int64(len(blob.Data)) > h.cfg.MaxUploadBytes {
				WriteError(w, h.tooLarge(), h.logger)
				return
			}
			reference = &blob
		}
	}

	if strings.TrimSpace(req.Prompt) == "" {
		WriteErrorMessage(w, types.ErrBadRequest, "Prompt is required", h.logger)
		return
	}

	opts := image.GenerationOptions{
		AspectRatio:    image.AspectRatio(req.AspectRatio),
		Style:          req.Style,
		ReferenceImage: reference,
		Model:          req.Model,
	}

	// 新的生成开始前清掉上一张
	if h.session != nil {
		h.session.ClearImage(r.Context())
	}

	var result *image.GenerationResult
	err := h.runJob(r.Context(), opGenerate, func(ctx context.Context) error {
		var err error
		result, err = h.service.Generate(ctx, req.Prompt, opts)
		return err
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if h.session != nil {
		h.session.RecordImage(r.Context(), cache.LastImage{
			Image:       result.Image,
			Prompt:      req.Prompt,
			AspectRatio: req.AspectRatio,
			Style:       req.Style,
			Model:       result.Model,
			Provider:    result.Provider,
			CreatedAt:   result.CreatedAt,
		})
	}

	WriteJSON(w, http.StatusOK, api.GenerateResponse{
		URL:      result.Image,
		Model:    result.Model,
		Provider: result.Provider,
	})
}

// HandleConfig 处理 GET /api/config
func (h *ImageHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	models := h.cfg.Models
	if models == nil {
		models = []string{}
	}
	resp := api.ConfigResponse{Models: models, Provider: h.cfg.Provider}
	if len(models) > 0 {
		resp.DefaultModel = models[0]
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleSession 处理 GET / DELETE /api/session
func (h *ImageHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		WriteJSON(w, http.StatusOK, cache.Snapshot{})
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.session.Clear(r.Context()); err != nil {
			WriteError(w, types.NewError(types.ErrInternalError, "failed to clear session").WithCause(err), h.logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		snap, err := h.session.Snapshot(r.Context())
		if err != nil {
			WriteError(w, types.NewError(types.ErrInternalError, "failed to read session").WithCause(err), h.logger)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// ModelOptions 计算 /api/config 公布的生成模型列表：
// 优先生成模型列表（IMG_GEN_MODEL，未设置时为 MODEL，按协议族归一化），其次名字里带 image / dall 的分析模型，最后是协议族默认生成模型。
func ModelOptions(generationModels []string, analysisModel, family string) []string {
	if len(generationModels) > 0 {
		out := make([]string, 0, len(generationModels))
		seen := make(map[string]bool, len(generationModels))
		for _, m := range generationModels {
			m = factory.GenerationModel(family, m)
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
		return out
	}
	lower := strings.ToLower(analysisModel)
	if strings.Contains(lower, "image") || strings.Contains(lower, "dall") {
		return []string{analysisModel}
	}
	_, generation := factory.DefaultModels(family)
	return []string{generation}
}

// runJob 占用并发槽位后执行上游任务，并上报耗时与结果
func (h *ImageHandler) runJob(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if h.jobs != nil {
		if err := h.jobs.Acquire(ctx, 1); err != nil {
			return types.NewError(types.ErrRateLimited, "server is busy, please retry").WithCause(err)
		}
		defer h.jobs.Release(1)
	}
	if h.observer != nil {
		h.observer.JobStarted()
		defer h.observer.JobFinished()
	}

	start := time.Now()
	err := fn(ctx)
	if h.observer != nil {
		h.observer.RecordOperation(op, err, time.Since(start))
	}
	return err
}

func (h *ImageHandler) recordAnalysis(ctx context.Context, result *image.AnalysisResult) {
	if h.session != nil {
		h.session.RecordAnalysis(ctx, result)
	}
}

// parseMultipart 解析 multipart 表单，调用方负责 RemoveAll
func (h *ImageHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	if !isMultipart(r) {
		return nil, types.NewError(types.ErrBadRequest, "Content-Type must be multipart/form-data")
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, h.tooLarge()
		}
		return nil, types.NewError(types.ErrBadRequest, "invalid multipart form").WithCause(err)
	}
	return r.MultipartForm, nil
}

// readUpload 读取表单中的图片文件，字段缺失时返回 nil, nil
func (h *ImageHandler) readUpload(form *multipart.Form, field string) (*image.ImageBlob, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]
	if header.Size > h.cfg.MaxUploadBytes {
		return nil, h.tooLarge()
	}

	f, err := header.Open()
	if err != nil {
		return nil, types.NewError(types.ErrBadRequest, "failed to read uploaded file").WithCause(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrBadRequest, "failed to read uploaded file").WithCause(err)
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		return nil, h.tooLarge()
	}
	if len(data) == 0 {
		return nil, nil
	}

	mimeType := uploadMIME(header.Header.Get("Content-Type"), data)
	if !allowedUploadTypes[mimeType] {
		return nil, types.NewError(types.ErrBadRequest,
			"Invalid file type. Only JPEG, PNG, WEBP, and GIF images are allowed.")
	}
	return &image.ImageBlob{Data: data, MimeType: mimeType}, nil
}

func (h *ImageHandler) tooLarge() *types.Error {
	limit := fmt.Sprintf("%d bytes", h.cfg.MaxUploadBytes)
	if h.cfg.MaxUploadBytes%(1<<20) == 0 {
		limit = fmt.Sprintf("%dMB", h.cfg.MaxUploadBytes>>20)
	}
	return types.NewError(types.ErrBadRequest, "File size exceeds "+limit+" limit")
}

// uploadMIME 优先使用声明的类型，缺失或为 octet-stream 时按内容嗅探
func uploadMIME(declared string, data []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
