package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cvSync/internal/cv"
	"cvSync/internal/metrics"
)

// Cached 为 Translator 增加带过期的 LRU 结果缓存；只缓存成功结果。
type Cached struct {
	next  Translator
	cache *expirable.LRU[string, map[string]string]
}

// NewCached 包装 next；size <= 0 时直接返回 next。
func NewCached(next Translator, size int, ttl time.Duration) Translator {
	if size <= 0 {
		return next
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, map[string]string](size, nil, ttl),
	}
}

func (c *Cached) Polish(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error) {
	key := cacheKey("polish", lang, lang, texts)
	return c.lookup(key, func() (map[string]string, error) {
		return c.next.Polish(ctx, lang, texts)
	})
}

func (c *Cached) Translate(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error) {
	key := cacheKey("translate", from, to, texts)
	return c.lookup(key, func() (map[string]string, error) {
		return c.next.Translate(ctx, from, to, texts)
	})
}

func (c *Cached) lookup(key string, load func() (map[string]string, error)) (map[string]string, error) {
	if cached, ok := c.cache.Get(key); ok {
		metrics.ObserveLLMCache(true)
		return copyTexts(cached), nil
	}
	metrics.ObserveLLMCache(false)
	out, err := load()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, copyTexts(out))
	return out, nil
}

func cacheKey(op string, from, to cv.Language, texts map[string]string) string {
	payload, _ := json.Marshal(texts)
	sum := sha256.Sum256([]byte(op + "|" + string(from) + "|" + string(to) + "|" + string(payload)))
	return hex.EncodeToString(sum[:])
}

func copyTexts(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
