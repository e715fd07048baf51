// 版权所有 2026 ImagiText Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 是 ImagiText 的上游模型接入层，本身不含代码，只组织下列子包。

# 概述

同一份配置（API Key、基础 URL、模型）需要同时适配两种上游协议族：

  - vision-llm：Gemini 风格 generateContent，图片理解与出图共用一个接口
  - image-api：OpenAI 风格 chat/completions 与 images/generations

每次调用先由 endpoint 展开成有序的候选 URL，再由 fallback 依次尝试，
直到第一个成功或全部失败（返回最后一个错误）。

# 子包

  - endpoint：基础 URL 解析（"#" 原样使用、"/" 结尾忽略版本段）与候选规划
  - fallback：顺序故障转移执行器，逐次尝试上报 Observer 并创建 span
  - image：Provider 接口、提示词组合、分析结果解析与编排服务
  - providers：两个协议族的共享 HTTP 工具与错误映射
  - providers/gemini、providers/openaicompat：协议族实现
  - factory：按配置中的协议族名称创建 Provider
*/
package llm
