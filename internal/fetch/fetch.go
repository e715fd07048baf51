package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/imagitext/internal/safeurl"
	"github.com/BaSui01/imagitext/internal/tlsutil"
	"github.com/BaSui01/imagitext/types"
	"go.uber.org/zap"
)

// 默认限制
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBytes     = 10 << 20
	DefaultMaxRedirects = 3
	DefaultUserAgent    = "ImagiText/1.0"
)

// Config 抓取限制
type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Observer 接收每次抓取的结果，metrics.Collector 实现了该接口
type Observer interface {
	ObserveFetch(outcome string, bytes int, duration time.Duration)
}

// Fetcher 远程图片下载器
type Fetcher struct {
	cfg      Config
	client   *http.Client
	validate func(string) safeurl.Result
	observer Observer
	logger   *zap.Logger
}

// New 创建 Fetcher。
// 每次请求与每次重定向都会经过 safeurl.Check，连接时再用 safeurl.DialGuard 校验解析后的地址。
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	f := &Fetcher{
		cfg:      cfg,
		validate: safeurl.Check,
		logger:   logger.With(zap.String("component", "fetch")),
	}
	f.client = &http.Client{
		Timeout:       cfg.Timeout,
		Transport:     tlsutil.GuardedTransport(safeurl.DialGuard),
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// SetObserver 设置抓取指标观察者
func (f *Fetcher) SetObserver(o Observer) {
	f.observer = o
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", f.cfg.MaxRedirects)
	}
	if res := f.validate(req.URL.String()); !res.Safe {
		return types.NewError(types.ErrUnsafeURL, "redirect target rejected: "+res.Error)
	}
	return nil
}

// FetchImage 下载图片，返回数据与去掉参数后的 MIME 类型
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	start := time.Now()
	data, mimeType, err := f.fetch(ctx, rawURL)
	if f.observer != nil {
		outcome := "success"
		if err != nil {
			outcome = strings.ToLower(string(types.GetErrorCode(err)))
		}
		f.observer.ObserveFetch(outcome, len(data), time.Since(start))
	}
	if err != nil {
		f.logger.Warn("image fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, "", err
	}
	f.logger.Debug("image fetched",
		zap.String("url", rawURL),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return data, mimeType, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, "", types.NewError(types.ErrBadRequest, "Image URL is required")
	}
	if res := f.validate(rawURL); !res.Safe {
		return nil, "", types.NewError(types.ErrUnsafeURL, res.Error)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", types.NewError(types.ErrBadRequest, "Invalid URL format").WithCause(err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", f.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", types.NewError(types.ErrBadRequest,
			"Failed to fetch image: HTTP "+strconv.Itoa(resp.StatusCode)).WithHTTPStatus(resp.StatusCode)
	}

	mimeType, ok := imageMIME(resp.Header.Get("Content-Type"))
	if !ok {
		return nil, "", types.NewError(types.ErrBadRequest, "URL does not point to a valid image")
	}

	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, "", f.tooLarge()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", f.transportError(err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, "", f.tooLarge()
	}
	if len(data) == 0 {
		return nil, "", types.NewError(types.ErrBadRequest, "Fetched image is empty")
	}

	return data, mimeType, nil
}

func (f *Fetcher) tooLarge() *types.Error {
	limit := fmt.Sprintf("%d bytes", f.cfg.MaxBytes)
	if f.cfg.MaxBytes >= 1<<20 && f.cfg.MaxBytes%(1<<20) == 0 {
		limit = fmt.Sprintf("%dMB", f.cfg.MaxBytes>>20)
	}
	return types.NewError(types.ErrBadRequest, "Image size exceeds "+limit+" limit")
}

// transportError 区分超时、被拒绝的重定向与普通网络失败
func (f *Fetcher) transportError(err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return types.NewError(types.ErrFetchTimeout, "Request timeout: Image fetch took too long").WithCause(err)
	}
	return types.NewError(types.ErrBadRequest, "Failed to fetch image from URL").WithCause(err)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// imageMIME 解析 Content-Type，仅接受 image/*
func imageMIME(contentType string) (string, bool) {
	if contentType == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", false
	}
	return mediaType, true
}
