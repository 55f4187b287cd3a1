package cv

import (
	"fmt"
	"strings"
)

// Language 表示受支持的内容语言代码。
type Language string

const (
	Turkish Language = "tr"
	English Language = "en"
	Spanish Language = "es"
	Chinese Language = "zh"
	Arabic  Language = "ar"
	Hindi   Language = "hi"
	German  Language = "de"
)

// DefaultLanguage 是没有任何语言偏好时的回落语言。
const DefaultLanguage = English

// AllLanguages 按固定顺序列出全部已知语言。
var AllLanguages = []Language{Turkish, English, Spanish, Chinese, Arabic, Hindi, German}

var languageNames = map[Language]string{
	Turkish: "Turkish",
	English: "English",
	Spanish: "Spanish",
	Chinese: "Chinese (Simplified)",
	Arabic:  "Arabic",
	Hindi:   "Hindi",
	German:  "German",
}

// Name 返回语言的英文名称，用于 LLM 指令。
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return string(l)
}

// Known 判断语言代码是否属于已知集合。
func (l Language) Known() bool {
	_, ok := languageNames[l]
	return ok
}

// ParseLanguage 规范化并校验语言代码。
func ParseLanguage(raw string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(raw)))
	if !lang.Known() {
		return "", fmt.Errorf("unsupported language %q", raw)
	}
	return lang, nil
}

// ParseLanguages 解析逗号分隔的语言列表，去重并保持顺序。
func ParseLanguages(raw []string) ([]Language, error) {
	seen := make(map[Language]struct{}, len(raw))
	out := make([]Language, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			lang, err := ParseLanguage(part)
			if err != nil {
				return nil, err
			}
			if _, ok := seen[lang]; ok {
				continue
			}
			seen[lang] = struct{}{}
			out = append(out, lang)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no languages configured")
	}
	return out, nil
}

// Contains 判断 langs 中是否包含 lang。
func Contains(langs []Language, lang Language) bool {
	for _, l := range langs {
		if l == lang {
			return true
		}
	}
	return false
}
