package llm

import "errors"

// LLM 调用失败的三类错误，调用方据此降级处理。
var (
	// ErrUnavailable 表示传输失败、超时或服务端错误。
	ErrUnavailable = errors.New("llm unavailable")
	// ErrSchemaMismatch 表示响应缺少键、多出键或不是字符串映射。
	ErrSchemaMismatch = errors.New("llm schema mismatch")
	// ErrQuotaExceeded 表示本地或上游配额耗尽。
	ErrQuotaExceeded = errors.New("llm quota exceeded")
)
