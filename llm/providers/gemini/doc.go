// Copyright 2026 ImagiText Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 gemini 提供 vision-llm 协议族的 Provider 实现。该包直接对接
generateContent REST 接口（默认 generativelanguage.googleapis.com），
自行构建请求、用 gjson 解析响应，不依赖官方 SDK，以便支持 "#" 原样 URL
与 "/" 省略版本段两种网关约定。

# 核心结构体

  - Provider：持有 http.Client 与 Config；使用 x-goog-api-key 请求头认证
  - generateContentRequest / content / part：原生请求结构

# 构造函数

  - New(cfg, logger)：默认分析模型 gemini-2.5-flash，生成模型 gemini-2.5-flash-image

# 支持能力

  - 图像分析：inlineData + 指令文本，responseSchema 约束 english/chinese
  - 图像生成：responseModalities [TEXT, IMAGE]，imageConfig.aspectRatio
  - 参考图生成：参考图分片 + "Based on this reference image, " 前缀
*/
package gemini
