// Copyright 2026 ImagiText Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是两个协议族（gemini、openaicompat）共享的基础层：
基础配置、HTTP 调用与错误分类。

# 核心类型

  - BaseProviderConfig：APIKey、BaseURL、Model、Timeout 四个共享字段

# 核心函数

  - MapHTTPError：按 HTTP 状态码映射错误类别，其余 4xx 归为 BAD_REQUEST
  - Classify / ClassifyMessage：未带状态码的错误按消息子串兜底分类
  - NetworkError / EmptyResponseError：传输失败与空响应的标准错误
  - ReadErrorMessage / ErrorMessageFromBytes：用 gjson 提取上游错误消息
  - PostJSON：发送 JSON 请求并返回响应体，非 2xx 时返回分类错误
  - BearerTokenHeaders / GoogleAPIKeyHeaders：两种鉴权头
  - ChooseModel：按优先级选择模型（请求 > 配置 > 兜底）
*/
package providers
