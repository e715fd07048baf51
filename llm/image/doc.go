// 版权所有 2024 ImagiText Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 image 提供图像理解（图 → 提示词）与图像生成（提示词 → 图）的统一抽象。

# 概述

Provider 接口有两个实现，分别位于 llm/providers/gemini（vision-llm 协议族）
与 llm/providers/openaicompat（image-api 协议族），由 llm/factory 按配置选择。
Service 负责参数校验、风格后缀组合与日志，把真正的网络调用交给 Provider。

# 核心类型

  - Provider：协议族能力接口（Analyze / Generate）
  - Service：编排入口，Analyze / AnalyzeURL / Generate
  - AnalysisResult：english / chinese 两键结果
  - GenerationOptions：宽高比、风格、参考图、模型覆盖
  - AspectRatio：1:1 / 16:9 / 9:16 / 4:3 / 3:4，PixelSize 映射离散尺寸

# 辅助函数

  - ComposePrompt："<prompt>, art style: <style>, high quality, detailed"
  - StripCodeFence：去掉 ```json 围栏
  - ParseAnalysis：解析分析结果 JSON
*/
package image
