// Package editing 是编辑的事务入口：鉴权、按简历串行化、调用翻译编排、持久化并发布更新。
package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cvSync/internal/cv"
	"cvSync/internal/cvlock"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/realtime"
	"cvSync/internal/translation"
)

// ErrForbidden 表示编辑者不是简历的所有者。
var ErrForbidden = errors.New("editor does not own cv")

// ErrInvalidStep 表示 current_step 超出 [0, 6]。
var ErrInvalidStep = errors.New("current_step out of range")

const maxStep = 6

// Edit 描述一次编辑请求。
type Edit struct {
	EditorID    uint
	CVID        uint
	Language    cv.Language
	Patch       cv.Content
	CurrentStep *int
	TemplateID  string
}

// Reconciler 计算编辑后的多语言内容。
type Reconciler interface {
	Reconcile(ctx context.Context, cvID uint, editorLang cv.Language, newValues cv.Content) (*translation.Result, error)
}

// Publisher 向实时总线发布事件。
type Publisher interface {
	Publish(group string, ev realtime.Event) int
	HasSubscribers(group string) bool
}

// Coordinator 串行化同一简历的编辑，并在持久化成功后发布投影。
type Coordinator struct {
	store      *cvstore.Store
	reconciler Reconciler
	bus        Publisher
	clock      *cv.Clock
	locks      *cvlock.Locks
	logger     *slog.Logger
}

// NewCoordinator 创建协调器。locks 须与读取网关共用；为 nil 时使用独立的锁表。
func NewCoordinator(store *cvstore.Store, reconciler Reconciler, bus Publisher, clock *cv.Clock, locks *cvlock.Locks, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = cvlock.New()
	}
	return &Coordinator{
		store:      store,
		reconciler: reconciler,
		bus:        bus,
		clock:      clock,
		locks:      locks,
		logger:     logger,
	}
}

// ApplyEdit 应用一次编辑并返回编辑语言下的新投影。
// 只有存储故障、鉴权失败与非法输入会让编辑失败；翻译与推送失败只记录日志。
func (c *Coordinator) ApplyEdit(ctx context.Context, edit Edit) (*cv.Projection, error) {
	if edit.CurrentStep != nil && (*edit.CurrentStep < 0 || *edit.CurrentStep > maxStep) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, *edit.CurrentStep)
	}
	if !cv.ValidTemplateID(edit.TemplateID) {
		return nil, fmt.Errorf("%w: template id %q", cv.ErrInvalidGroup, edit.TemplateID)
	}
	patch := edit.Patch.Clone()
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	release := c.locks.Lock(edit.CVID)
	defer release()

	// 编辑一旦开始就不随请求取消而中断。
	persistCtx := context.WithoutCancel(ctx)

	record, err := c.store.Load(persistCtx, edit.CVID)
	if err != nil {
		return nil, err
	}
	if record.UserID != edit.EditorID {
		return nil, ErrForbidden
	}

	logger := c.logger.With(
		slog.Uint64("cv_id", uint64(edit.CVID)),
		slog.String("language", string(edit.Language)),
	)

	result, err := c.reconciler.Reconcile(persistCtx, edit.CVID, edit.Language, patch)
	if err != nil {
		return nil, err
	}
	if result.PolishErr != nil || len(result.Failures) > 0 {
		logger.Warn("edit saved with degraded translations",
			slog.Any("polish_error", result.PolishErr),
			slog.Int("failed_languages", len(result.Failures)),
		)
	}

	stepChanged := edit.CurrentStep != nil && *edit.CurrentStep != record.CurrentStep
	if len(result.Dirty) > 0 || stepChanged {
		if err := c.persist(persistCtx, record, edit, result, stepChanged); err != nil {
			return nil, err
		}
		record, err = c.store.Load(persistCtx, edit.CVID)
		if err != nil {
			return nil, err
		}
	}

	meta := cvstore.Meta(record)
	group := cv.GroupKey{
		TemplateID: edit.TemplateID,
		CVID:       record.ID,
		ShareKey:   record.ShareKey,
		Language:   edit.Language,
	}
	projection := cv.NewProjection(meta, group, edit.Language, result.Content[edit.Language], cv.ActionUpdate, c.clock)

	delivered := c.bus.Publish(group.String(), realtime.Event{Projection: projection})
	logger.Info("edit applied",
		slog.Int("changed_slots", len(result.Changed)),
		slog.Int("dirty_languages", len(result.Dirty)),
		slog.Int("delivered", delivered),
	)

	for _, lang := range result.Dirty {
		if lang == edit.Language {
			continue
		}
		other := group.WithLanguage(lang)
		if !c.bus.HasSubscribers(other.String()) {
			continue
		}
		p := cv.NewProjection(meta, other, lang, result.Content[lang], cv.ActionUpdate, c.clock)
		c.bus.Publish(other.String(), realtime.Event{Projection: p})
	}
	return projection, nil
}

func (c *Coordinator) persist(ctx context.Context, record *database.CV, edit Edit, result *translation.Result, stepChanged bool) error {
	update := cvstore.CanonicalUpdate{}
	editorContent := result.Content[edit.Language]
	switch {
	case len(result.Changed) == 0:
	case record.SourceLanguage != string(edit.Language):
		// 规范字段整体切换到新的编辑语言。
		update.Content = editorContent.Clone()
		update.SourceLanguage = edit.Language
	default:
		update.Content = make(cv.Content, len(result.Changed))
		for _, slot := range result.Changed {
			update.Content[slot] = editorContent[slot]
		}
	}
	if stepChanged {
		update.CurrentStep = edit.CurrentStep
	}

	return c.store.WithTx(ctx, func(tx *cvstore.Store) error {
		if err := tx.UpdateCanonical(ctx, record.ID, update); err != nil {
			return err
		}
		for _, lang := range result.Dirty {
			if err := tx.PutTranslation(ctx, record.ID, lang, result.Content[lang]); err != nil {
				return err
			}
		}
		return nil
	})
}
