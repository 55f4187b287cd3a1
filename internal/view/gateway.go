// Package view 提供简历的读取路径：匿名分享视图与编辑者读取（含缺失语言补齐与语言漂移修复）。
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cvSync/internal/cv"
	"cvSync/internal/cvlock"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/translation"
)

// ErrForbidden 表示读取者不是简历的所有者。
var ErrForbidden = errors.New("reader does not own cv")

// Projector 把完整内容翻译为一组目标语言。
type Projector interface {
	Project(ctx context.Context, from cv.Language, content cv.Content, targets []cv.Language) (map[cv.Language]cv.Content, map[cv.Language]error)
}

// Gateway 负责把 (id, share_key, language) 解析为投影。
type Gateway struct {
	store     *cvstore.Store
	projector Projector
	languages []cv.Language
	clock     *cv.Clock
	locks     *cvlock.Locks
	logger    *slog.Logger
}

// NewGateway 创建读取网关。locks 须与编辑协调器共用，补齐与修复在同一把简历锁下进行。
func NewGateway(store *cvstore.Store, projector Projector, languages []cv.Language, clock *cv.Clock, locks *cvlock.Locks, logger *slog.Logger) *Gateway {
	if len(languages) == 0 {
		languages = cv.AllLanguages
	}
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = cvlock.New()
	}
	return &Gateway{store: store, projector: projector, languages: languages, clock: clock, locks: locks, logger: logger}
}

// GetView 返回匿名视图。语言回退顺序为 lang → en → ErrNotFound。
func (g *Gateway) GetView(ctx context.Context, id uint, shareKey string, lang cv.Language, templateID string) (*cv.Projection, error) {
	record, err := g.store.LoadForViewer(ctx, id, shareKey)
	if err != nil {
		return nil, err
	}

	row, err := g.store.GetTranslation(ctx, id, lang)
	if errors.Is(err, cvstore.ErrNotFound) && lang != cv.DefaultLanguage {
		row, err = g.store.GetTranslation(ctx, id, cv.DefaultLanguage)
	}
	if err != nil {
		return nil, err
	}

	group := cv.GroupKey{TemplateID: templateID, CVID: record.ID, ShareKey: record.ShareKey, Language: lang}
	return cv.NewProjection(cvstore.Meta(record), group, row.Language, row.Content, cv.ActionInitial, g.clock), nil
}

// Retrieve 为所有者读取简历：缺少 lang 的翻译时先补齐全部缺失语言，随后检查并修复语言漂移。
func (g *Gateway) Retrieve(ctx context.Context, editorID, id uint, lang cv.Language, templateID string) (*cv.Projection, error) {
	record, err := g.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.UserID != editorID {
		return nil, ErrForbidden
	}
	logger := g.logger.With(slog.Uint64("cv_id", uint64(id)), slog.String("language", string(lang)))

	rows, err := g.translations(ctx, id)
	if err != nil {
		return nil, err
	}
	if needsFix(rows, lang) {
		if rows, err = g.fix(ctx, id, lang, logger); err != nil {
			return nil, err
		}
	}

	if record, err = g.store.Load(ctx, id); err != nil {
		return nil, err
	}
	content, ok := rows[lang]
	if !ok {
		content, ok = rows[cv.DefaultLanguage]
	}
	if !ok {
		if content, err = cvstore.CanonicalContent(record); err != nil {
			return nil, fmt.Errorf("%w: %v", cvstore.ErrStoreUnavailable, err)
		}
	}
	group := cv.GroupKey{TemplateID: templateID, CVID: record.ID, ShareKey: record.ShareKey, Language: lang}
	return cv.NewProjection(cvstore.Meta(record), group, lang, content, cv.ActionInitial, g.clock), nil
}

func needsFix(rows map[cv.Language]cv.Content, lang cv.Language) bool {
	current, ok := rows[lang]
	if !ok {
		return true
	}
	_, drifted := translation.Drifted(current, lang)
	return drifted
}

// fix 持有简历锁，重新读取记录与翻译后再补齐缺失语言、修复语言漂移，避免以过期内容覆盖并发的编辑。
func (g *Gateway) fix(ctx context.Context, id uint, lang cv.Language, logger *slog.Logger) (map[cv.Language]cv.Content, error) {
	release := g.locks.Lock(id)
	defer release()

	record, err := g.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := g.translations(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := rows[lang]; !ok {
		if err := g.seed(ctx, record, rows); err != nil {
			return nil, err
		}
		if rows, err = g.translations(ctx, id); err != nil {
			return nil, err
		}
	}

	if current, ok := rows[lang]; ok {
		if detected, drifted := translation.Drifted(current, lang); drifted {
			logger.Info("language drift detected, re-projecting", slog.String("detected", string(detected)))
			if err := g.repair(ctx, id, lang, rows); err != nil {
				return nil, err
			}
			if rows, err = g.translations(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// seed 以规范字段为来源，一次性补齐所有缺失语言。翻译失败的语言以来源内容占位。
func (g *Gateway) seed(ctx context.Context, record *database.CV, rows map[cv.Language]cv.Content) error {
	source, err := cvstore.CanonicalContent(record)
	if err != nil {
		return fmt.Errorf("%w: %v", cvstore.ErrStoreUnavailable, err)
	}
	from := cv.Language(record.SourceLanguage)
	if !from.Known() {
		from = cv.DefaultLanguage
	}

	var missing []cv.Language
	for _, lang := range g.languages {
		if _, ok := rows[lang]; !ok {
			missing = append(missing, lang)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	projected, failures := g.projector.Project(ctx, from, source, missing)
	for lang, err := range failures {
		g.logger.Warn("seeding translation failed, storing source content",
			slog.Uint64("cv_id", uint64(record.ID)),
			slog.String("target_lang", string(lang)),
			slog.Any("error", err),
		)
		projected[lang] = source.Clone()
	}
	return g.store.WithTx(ctx, func(tx *cvstore.Store) error {
		for _, lang := range missing {
			if err := tx.PutTranslation(ctx, record.ID, lang, projected[lang]); err != nil {
				return err
			}
		}
		return nil
	})
}

// repair 以英文行（或当前行）为来源重新投影到其他所有语言，只写回投影成功的语言。
func (g *Gateway) repair(ctx context.Context, id uint, lang cv.Language, rows map[cv.Language]cv.Content) error {
	source, ok := rows[cv.DefaultLanguage]
	if !ok {
		source = rows[lang]
	}
	from, detected := translation.DetectLanguage(source)
	if !detected {
		from = cv.DefaultLanguage
	}

	var targets []cv.Language
	for _, l := range g.languages {
		if l != from {
			targets = append(targets, l)
		}
	}
	projected, failures := g.projector.Project(ctx, from, source, targets)
	if len(failures) > 0 {
		g.logger.Warn("drift repair incomplete", slog.Uint64("cv_id", uint64(id)), slog.Int("failed_languages", len(failures)))
	}
	if len(projected) == 0 {
		return nil
	}
	return g.store.WithTx(ctx, func(tx *cvstore.Store) error {
		for _, l := range targets {
			content, ok := projected[l]
			if !ok {
				continue
			}
			if err := tx.PutTranslation(ctx, id, l, content); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) translations(ctx context.Context, id uint) (map[cv.Language]cv.Content, error) {
	list, err := g.store.ListTranslations(ctx, id)
	if err != nil {
		return nil, err
	}
	rows := make(map[cv.Language]cv.Content, len(list))
	for _, row := range list {
		rows[row.Language] = row.Content
	}
	return rows, nil
}
