package image

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt 是图像分析的指令文本，要求输出严格的 english/chinese 两键 JSON。
const SystemPrompt = `
Act as an expert prompt engineer for AI image generators like Midjourney, Stable Diffusion, and DALL-E 3.
Analyze the uploaded image in extreme detail.

1. Write a high-quality, descriptive text prompt in English that would recreate this exact image.
2. Translate that exact prompt into high-quality Simplified Chinese (zh-CN).

Include details about:
- Subject matter (characters, objects, scene).
- Art style (e.g., photorealistic, oil painting, 3D render, anime, cinematic).
- Lighting (e.g., natural, volumetric, studio, neon).
- Color palette.
- Composition and camera angle.
- Mood and atmosphere.

Output MUST be a strict JSON object with keys "english" and "chinese".
`

// JSONSystemMessage 用于不支持结构化输出约束的 chat 协议。
const JSONSystemMessage = "You are a helpful assistant that outputs strictly valid JSON."

// ReferencePrefix 携带参考图时的提示词前缀。
const ReferencePrefix = "Based on this reference image, "

// StyleNone 表示不追加风格后缀。
const StyleNone = "none"

// ComposePrompt 追加风格后缀。
func ComposePrompt(prompt, style string) string {
	if style == "" || style == StyleNone {
		return prompt
	}
	return fmt.Sprintf("%s, art style: %s, high quality, detailed", prompt, style)
}

// StripCodeFence 去掉 ```json ... ``` 包裹。
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// 去掉语言标记（json / JSON / 空）
		if lang := strings.TrimSpace(s[:nl]); lang == "" || strings.EqualFold(lang, "json") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ErrMissingKeys 解析结果缺少 english 与 chinese。
var ErrMissingKeys = fmt.Errorf("response JSON lacks both %q and %q", "english", "chinese")

// ParseAnalysis 解析模型输出文本。先去掉代码围栏，再按 JSON 解码；
// 两个键都缺失时返回 ErrMissingKeys。
func ParseAnalysis(text string) (*AnalysisResult, error) {
	cleaned := StripCodeFence(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}

	_, hasEnglish := raw["english"]
	_, hasChinese := raw["chinese"]
	if !hasEnglish && !hasChinese {
		return nil, ErrMissingKeys
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	return &result, nil
}
