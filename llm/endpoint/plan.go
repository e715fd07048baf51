package endpoint

import (
	"fmt"
	"strings"
)

// Family 标识 Provider 协议族。
type Family string

const (
	// FamilyVisionLLM 多模态 LLM 协议族（generateContent，x-goog-api-key）
	FamilyVisionLLM Family = "vision-llm"
	// FamilyImageAPI 图像 API 协议族（chat/completions + images/generations，Bearer）
	FamilyImageAPI Family = "image-api"
)

// ParseFamily 解析协议族名称，接受 gemini / openai 别名。
func ParseFamily(name string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(FamilyVisionLLM), "gemini", "google":
		return FamilyVisionLLM, true
	case string(FamilyImageAPI), "openai":
		return FamilyImageAPI, true
	default:
		return "", false
	}
}

// Operation 是操作类型。
type Operation string

const (
	OpAnalyze  Operation = "analyze"
	OpGenerate Operation = "generate"
)

// Shape 描述候选端点所使用的请求/响应信封。
type Shape string

const (
	ShapeGenerateContent  Shape = "generate_content"
	ShapeChatCompletions  Shape = "chat_completions"
	ShapeImageGenerations Shape = "image_generations"
)

// Candidate 是一个待尝试的完整端点。
type Candidate struct {
	URL   string `json:"url"`
	Shape Shape  `json:"shape"`
}

// Candidates 是有序的候选列表，顺序即优先级。
type Candidates []Candidate

// URLs 返回候选 URL 列表。
func (c Candidates) URLs() []string {
	urls := make([]string, len(c))
	for i, cand := range c {
		urls[i] = cand.URL
	}
	return urls
}

// PlanOptions 规划参数。
type PlanOptions struct {
	// Model 用于 vision-llm 的 /models/{model}:generateContent 路径
	Model string
	// HasReference 生成时携带参考图。image-api 下只有 chat 信封能携带图片，
	// 因此 chat 路径提前。
	HasReference bool
}

// 路径表
const (
	geminiVersion = "/v1beta"
	openAIVersion = "/v1"

	pathChat   = "/chat/completions"
	pathImages = "/images/generations"
)

type route struct {
	path  string
	shape Shape
}

// Plan 生成有序候选端点列表，结果永不为空。
func Plan(resolved ResolvedBaseURL, defaultBase string, family Family, op Operation, opts PlanOptions) Candidates {
	routes, version := routesFor(family, op, opts)

	// 1. ForceExact：调用方声明这已是完整端点
	if resolved.ForceExact && resolved.CleanURL != "" {
		return Candidates{{URL: resolved.CleanURL, Shape: routes[0].shape}}
	}

	// 2. 选择 base
	base := resolved.CleanURL
	if base == "" {
		base = strings.TrimRight(defaultBase, "/")
	}

	candidates := make(Candidates, 0, len(routes)*2)

	// 3. IgnoreVersion：只输出无版本路径
	if resolved.IgnoreVersion {
		for _, r := range routes {
			candidates = append(candidates, Candidate{URL: base + r.path, Shape: r.shape})
		}
		return candidates
	}

	// 4. 带版本优先，然后无版本兜底
	for _, r := range routes {
		candidates = append(candidates, Candidate{URL: base + version + r.path, Shape: r.shape})
	}
	for _, r := range routes {
		candidates = append(candidates, Candidate{URL: base + r.path, Shape: r.shape})
	}
	return candidates
}

func routesFor(family Family, op Operation, opts PlanOptions) ([]route, string) {
	if family == FamilyVisionLLM {
		return []route{{
			path:  fmt.Sprintf("/models/%s:generateContent", opts.Model),
			shape: ShapeGenerateContent,
		}}, geminiVersion
	}

	// image-api（未知协议族由上层 factory 拦截，这里按 image-api 处理）
	if op == OpAnalyze {
		return []route{{path: pathChat, shape: ShapeChatCompletions}}, openAIVersion
	}
	if opts.HasReference {
		return []route{
			{path: pathChat, shape: ShapeChatCompletions},
			{path: pathImages, shape: ShapeImageGenerations},
		}, openAIVersion
	}
	return []route{
		{path: pathImages, shape: ShapeImageGenerations},
		{path: pathChat, shape: ShapeChatCompletions},
	}, openAIVersion
}
