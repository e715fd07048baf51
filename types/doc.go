// Copyright (c) ImagiText Authors.
// Licensed under the MIT License.

/*
Package types 提供 ImagiText 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api、cmd 等上层模块
提供统一的错误契约与 context 传播工具，避免循环依赖。

# 核心类型

  - Error / ErrorCode：分类错误体系（BAD_REQUEST、UNAUTHORIZED、FORBIDDEN、
    RATE_LIMITED、SERVER_ERROR、NETWORK、EMPTY_RESPONSE、UNSUPPORTED、
    PARSE_ERROR、CONFIGURATION），带上游 HTTP 状态码与 Provider 标签

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsErrorCode / StatusFor
  - Context 传播：WithTraceID / WithRequestID
*/
package types
