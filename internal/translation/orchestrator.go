// Package translation 负责把一次编辑同步到所有支持的语言：字段级 diff、润色、按语言批量翻译。
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/llm"
)

// ErrUnsupportedLanguage 表示编辑语言不在支持列表中。
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Source 是编排器读取当前状态所需的存储能力。
type Source interface {
	Load(ctx context.Context, id uint) (*database.CV, error)
	ListTranslations(ctx context.Context, cvID uint) ([]cvstore.Translation, error)
}

// Result 是一次 Reconcile 的结果。
type Result struct {
	// Content 包含每个支持语言编辑后的完整七字段内容。
	Content map[cv.Language]cv.Content
	// Dirty 列出需要写回的语言，按支持语言的顺序排列。
	Dirty []cv.Language
	// Changed 是与基线不同的字段。
	Changed []cv.Slot
	// PolishErr 记录润色失败的原因；为 nil 表示润色成功或无需润色。
	PolishErr error
	// Failures 记录翻译失败的语言，这些语言保留原有内容。
	Failures map[cv.Language]error
}

// IsDirty 判断 lang 是否需要写回。
func (r *Result) IsDirty(lang cv.Language) bool {
	return cv.Contains(r.Dirty, lang)
}

// Orchestrator 驱动 LLM 完成润色与翻译。
type Orchestrator struct {
	source      Source
	translator  llm.Translator
	languages   []cv.Language
	concurrency int
	logger      *slog.Logger
}

// Config 配置 Orchestrator。
type Config struct {
	Languages   []cv.Language
	Concurrency int
	Logger      *slog.Logger
}

// New 创建编排器。
func New(source Source, translator llm.Translator, cfg Config) *Orchestrator {
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = cv.AllLanguages
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = len(languages)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		source:      source,
		translator:  translator,
		languages:   languages,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Languages 返回支持的语言列表。
func (o *Orchestrator) Languages() []cv.Language {
	return o.languages
}

// Reconcile 计算在 editorLang 下应用 newValues 后每种语言的内容。
// LLM 故障不会返回错误，只会体现在 Result.PolishErr 与 Result.Failures 中。
func (o *Orchestrator) Reconcile(ctx context.Context, cvID uint, editorLang cv.Language, newValues cv.Content) (*Result, error) {
	if !cv.Contains(o.languages, editorLang) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, editorLang)
	}
	patch := newValues.Clone()
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	record, err := o.source.Load(ctx, cvID)
	if err != nil {
		return nil, err
	}
	rows, err := o.source.ListTranslations(ctx, cvID)
	if err != nil {
		return nil, err
	}
	prior := make(map[cv.Language]cv.Content, len(rows))
	for _, row := range rows {
		prior[row.Language] = row.Content
	}

	baseline, hasEditorRow := prior[editorLang]
	if !hasEditorRow {
		baseline, err = cvstore.CanonicalContent(record)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cvstore.ErrStoreUnavailable, err)
		}
	}

	logger := o.logger.With(slog.Uint64("cv_id", uint64(cvID)), slog.String("editor_lang", string(editorLang)))
	result := &Result{
		Content:  make(map[cv.Language]cv.Content, len(o.languages)),
		Failures: make(map[cv.Language]error),
		Changed:  cv.Diff(baseline, patch),
	}

	if len(result.Changed) == 0 {
		result.Content[editorLang] = baseline.Clone().Complete()
		if !hasEditorRow {
			result.Dirty = append(result.Dirty, editorLang)
		}
		for _, lang := range o.languages {
			if lang == editorLang {
				continue
			}
			if content, ok := prior[lang]; ok {
				result.Content[lang] = content.Clone().Complete()
				continue
			}
			result.Content[lang] = baseline.Clone().Complete()
			result.Dirty = append(result.Dirty, lang)
		}
		result.Dirty = o.ordered(result.Dirty)
		return result, nil
	}

	changedTexts := cv.Extract(patch, result.Changed)
	polished, polishErr := o.polish(ctx, editorLang, changedTexts)
	if polishErr != nil {
		result.PolishErr = polishErr
		logger.Warn("polish pass failed, using raw input", slog.Any("error", polishErr))
		polished = changedTexts
	}
	source := cv.Merge(baseline, cv.Splice(patch, result.Changed, polished)).Complete()
	result.Content[editorLang] = source
	result.Dirty = append(result.Dirty, editorLang)

	skipTranslate := polishErr != nil && !errors.Is(polishErr, llm.ErrSchemaMismatch)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.concurrency)
	for _, lang := range o.languages {
		if lang == editorLang {
			continue
		}
		content, exists := prior[lang]

		if skipTranslate {
			mu.Lock()
			result.Failures[lang] = polishErr
			if exists {
				result.Content[lang] = content.Clone().Complete()
			} else {
				result.Content[lang] = source.Clone()
				result.Dirty = append(result.Dirty, lang)
			}
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			var (
				next cv.Content
				err  error
			)
			if exists {
				next, err = o.translateSlots(ctx, editorLang, lang, source, result.Changed, polished, content)
			} else {
				next, err = o.translateSlots(ctx, editorLang, lang, source, cv.Slots, cv.Extract(source, cv.Slots), source)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Content[lang] = next
				result.Dirty = append(result.Dirty, lang)
			case exists:
				result.Failures[lang] = err
				result.Content[lang] = content.Clone().Complete()
			default:
				result.Failures[lang] = err
				result.Content[lang] = source.Clone()
				result.Dirty = append(result.Dirty, lang)
			}
			if err != nil {
				logger.Warn("translate pass failed, keeping prior content",
					slog.String("target_lang", string(lang)),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Dirty = o.ordered(result.Dirty)
	return result, nil
}

// translateSlots 翻译 slots 中的文本，并把结果拼接到 base 上。
func (o *Orchestrator) translateSlots(ctx context.Context, from, to cv.Language, source cv.Content, slots []cv.Slot, texts map[string]string, base cv.Content) (cv.Content, error) {
	translated := map[string]string{}
	if len(texts) > 0 {
		out, err := o.translator.Translate(ctx, from, to, texts)
		if err != nil {
			return nil, err
		}
		if !cv.SameKeys(texts, out) {
			return nil, fmt.Errorf("%w: translate %s->%s returned %d keys, want %d", llm.ErrSchemaMismatch, from, to, len(out), len(texts))
		}
		translated = out
	}
	return cv.Merge(base, cv.Splice(source, slots, translated)).Complete(), nil
}

func (o *Orchestrator) polish(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error) {
	if len(texts) == 0 {
		return texts, nil
	}
	out, err := o.translator.Polish(ctx, lang, texts)
	if err != nil {
		return nil, err
	}
	if !cv.SameKeys(texts, out) {
		return nil, fmt.Errorf("%w: polish returned %d keys, want %d", llm.ErrSchemaMismatch, len(out), len(texts))
	}
	return out, nil
}

// Project 把 from 语言的完整内容翻译为 targets 中的每种语言，每种语言一次调用。
// 失败的语言记录在返回的错误映射中，不出现在内容映射里。
func (o *Orchestrator) Project(ctx context.Context, from cv.Language, content cv.Content, targets []cv.Language) (map[cv.Language]cv.Content, map[cv.Language]error) {
	source := content.Clone().Complete()
	texts := cv.Extract(source, cv.Slots)

	var (
		mu       sync.Mutex
		g        errgroup.Group
		out      = make(map[cv.Language]cv.Content, len(targets))
		failures = make(map[cv.Language]error)
	)
	g.SetLimit(o.concurrency)
	for _, lang := range targets {
		if lang == from {
			mu.Lock()
			out[lang] = source.Clone()
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			next, err := o.translateSlots(ctx, from, lang, source, cv.Slots, texts, source)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[lang] = err
				o.logger.Warn("projection failed",
					slog.String("from", string(from)),
					slog.String("target_lang", string(lang)),
					slog.Any("error", err),
				)
				return nil
			}
			out[lang] = next
			return nil
		})
	}
	_ = g.Wait()
	return out, failures
}

// ordered 按支持语言的顺序排列并去重。
func (o *Orchestrator) ordered(langs []cv.Language) []cv.Language {
	out := make([]cv.Language, 0, len(langs))
	for _, lang := range o.languages {
		if cv.Contains(langs, lang) {
			out = append(out, lang)
		}
	}
	return out
}
