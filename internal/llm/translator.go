// Package llm 封装对外部大语言模型的调用：润色与翻译扁平文本映射。
package llm

import (
	"context"
	"fmt"

	"cvSync/internal/cv"
)

// Translator 是润色与翻译两类调用的抽象。
// 入参与返回值均为 "路径 -> 文本" 的扁平映射，返回值的键集合必须与入参一致。
type Translator interface {
	Polish(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error)
	Translate(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error)
}

// Disabled 在未配置 API Key 时使用，所有调用返回 ErrUnavailable。
type Disabled struct{}

func (Disabled) Polish(context.Context, cv.Language, map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("%w: no api key configured", ErrUnavailable)
}

func (Disabled) Translate(context.Context, cv.Language, cv.Language, map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("%w: no api key configured", ErrUnavailable)
}

func polishPrompt(lang cv.Language) string {
	return fmt.Sprintf(
		"You correct grammar and spelling of CV text written in %s. "+
			"The user message is a JSON object mapping keys to text. "+
			"Reply with a JSON object that has exactly the same keys, each value the corrected text in %s. "+
			"Preserve the JSON shape, do not translate, do not add or remove keys.",
		lang.Name(), lang.Name(),
	)
}

func translatePrompt(from, to cv.Language) string {
	return fmt.Sprintf(
		"You translate CV text from %s to %s. "+
			"The user message is a JSON object mapping keys to text. "+
			"Reply with a JSON object that has exactly the same keys, each value translated to %s. "+
			"Keep proper nouns, company names and product names unchanged. Do not add or remove keys.",
		from.Name(), to.Name(), to.Name(),
	)
}
