package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"cvSync/internal/cv"
)

// languageResolver 按 请求体 → 查询参数 → Accept-Language → 默认语言 的顺序选择编辑语言。
type languageResolver struct {
	supported  []cv.Language
	candidates []cv.Language
	fallback   cv.Language
	matcher    language.Matcher
}

func newLanguageResolver(supported []cv.Language) *languageResolver {
	fallback := cv.DefaultLanguage
	if !cv.Contains(supported, fallback) && len(supported) > 0 {
		fallback = supported[0]
	}
	// 默认语言放在首位，匹配失败时 Matcher 返回下标 0。
	candidates := []cv.Language{fallback}
	for _, lang := range supported {
		if lang != fallback {
			candidates = append(candidates, lang)
		}
	}
	tags := make([]language.Tag, 0, len(candidates))
	for _, lang := range candidates {
		tags = append(tags, language.Make(string(lang)))
	}
	return &languageResolver{
		supported:  supported,
		candidates: candidates,
		fallback:   fallback,
		matcher:    language.NewMatcher(tags),
	}
}

func (r *languageResolver) resolve(c *gin.Context, explicit string) (cv.Language, error) {
	for _, raw := range []string{explicit, c.Query("language"), c.Query("lang")} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return r.parse(raw)
	}

	header := c.GetHeader("Accept-Language")
	if header == "" {
		return r.fallback, nil
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return r.fallback, nil
	}
	_, index, confidence := r.matcher.Match(tags...)
	if confidence == language.No {
		return r.fallback, nil
	}
	return r.candidates[index], nil
}

func (r *languageResolver) parse(raw string) (cv.Language, error) {
	lang, err := cv.ParseLanguage(raw)
	if err != nil || !cv.Contains(r.supported, lang) {
		return "", fmt.Errorf("unsupported language %q", raw)
	}
	return lang, nil
}
