package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/imagitext/config"
	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧰 命令行子命令：analyze / analyze-url / generate
// =============================================================================

// cliFlags 所有子命令共享的参数
type cliFlags struct {
	configPath string
	envFile    string
	verbose    bool
}

func (f *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Path to .env file (ignored when missing)")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging to stderr")
}

// cliEnv 命令行模式的运行环境：日志写 stderr，结果写 stdout
type cliEnv struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *image.Service
	stdout  io.Writer
}

func newCLIEnv(flags cliFlags) (*cliEnv, error) {
	cfg, err := loadConfig(flags.configPath, flags.envFile)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.Format = "console"
	if !flags.verbose {
		logCfg.Level = "warn"
	}
	logger := initLogger(logCfg)

	service, err := newImageService(cfg, observers{}, logger)
	if err != nil {
		return nil, err
	}
	return &cliEnv{cfg: cfg, logger: logger, service: service, stdout: os.Stdout}, nil
}

func cliContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// reportError 打印错误类别与消息，返回退出码
func reportError(err error) int {
	if e, ok := types.AsError(err); ok {
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Code, e.Message)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// =============================================================================
// 🔍 analyze
// =============================================================================

func runAnalyze(args []string) int {
	var flags cliFlags
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	flags.register(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: imagitext analyze [options] <image-file>")
		return 2
	}

	env, err := newCLIEnv(flags)
	if err != nil {
		return reportError(err)
	}
	defer func() { _ = env.logger.Sync() }()

	blob, err := readImageFile(fs.Arg(0), env.cfg.Server.MaxUploadBytes)
	if err != nil {
		return reportError(err)
	}

	ctx, stop := cliContext()
	defer stop()

	result, err := env.service.Analyze(ctx, *blob)
	if err != nil {
		return reportError(err)
	}
	if err := printJSON(env.stdout, result); err != nil {
		return reportError(err)
	}
	return 0
}

func runAnalyzeURL(args []string) int {
	var flags cliFlags
	fs := flag.NewFlagSet("analyze-url", flag.ExitOnError)
	flags.register(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: imagitext analyze-url [options] <image-url>")
		return 2
	}

	env, err := newCLIEnv(flags)
	if err != nil {
		return reportError(err)
	}
	defer func() { _ = env.logger.Sync() }()

	ctx, stop := cliContext()
	defer stop()

	result, err := env.service.AnalyzeURL(ctx, fs.Arg(0))
	if err != nil {
		return reportError(err)
	}
	if err := printJSON(env.stdout, result); err != nil {
		return reportError(err)
	}
	return 0
}

// =============================================================================
// 🎨 generate
// =============================================================================

func runGenerate(args []string) int {
	var flags cliFlags
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	flags.register(fs)
	aspect := fs.String("aspect", "1:1", "Aspect ratio: 1:1, 16:9, 9:16, 4:3, 3:4")
	style := fs.String("style", "", "Style suffix, empty or none for no style")
	model := fs.String("model", "", "Generation model override")
	reference := fs.String("reference", "", "Reference image file")
	out := fs.String("out", "", "Output file for inline images (default imagitext-<time>.<ext>)")
	_ = fs.Parse(args)

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: imagitext generate [options] <prompt>")
		return 2
	}
	ratio, ok := image.ParseAspectRatio(*aspect)
	if !ok {
		return reportError(types.NewError(types.ErrBadRequest, fmt.Sprintf("unsupported aspect ratio %q", *aspect)))
	}

	env, err := newCLIEnv(flags)
	if err != nil {
		return reportError(err)
	}
	defer func() { _ = env.logger.Sync() }()

	opts := image.GenerationOptions{AspectRatio: ratio, Style: *style, Model: *model}
	if *reference != "" {
		ref, err := readImageFile(*reference, env.cfg.Server.MaxUploadBytes)
		if err != nil {
			return reportError(err)
		}
		opts.ReferenceImage = ref
	}

	ctx, stop := cliContext()
	defer stop()

	result, err := env.service.Generate(ctx, prompt, opts)
	if err != nil {
		return reportError(err)
	}

	output := map[string]string{
		"provider": result.Provider,
		"model":    result.Model,
	}
	if blob, err := image.ParseDataURL(result.Image); err == nil {
		path := *out
		if path == "" {
			path = defaultOutputName(blob.MimeType, time.Now())
		}
		if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
			return reportError(fmt.Errorf("write %s: %w", path, err))
		}
		output["file"] = path
	} else {
		output["url"] = result.Image
	}
	if err := printJSON(env.stdout, output); err != nil {
		return reportError(err)
	}
	return 0
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// readImageFile 读取本地图片并按内容嗅探类型
func readImageFile(path string, maxBytes int64) (*image.ImageBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("cannot read %s", path)).WithCause(err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, types.NewError(types.ErrBadRequest,
			fmt.Sprintf("%s is %d bytes, limit is %d", filepath.Base(path), info.Size(), maxBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("cannot read %s", path)).WithCause(err)
	}
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	switch mimeType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
	default:
		return nil, types.NewError(types.ErrBadRequest,
			"Invalid file type. Only JPEG, PNG, WEBP, and GIF images are allowed.")
	}
	return &image.ImageBlob{Data: data, MimeType: mimeType}, nil
}

func defaultOutputName(mimeType string, now time.Time) string {
	ext := "png"
	switch mimeType {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	case "image/gif":
		ext = "gif"
	}
	return fmt.Sprintf("imagitext-%s.%s", now.Format("20060102-150405"), ext)
}
