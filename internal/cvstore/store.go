// Package cvstore 负责简历及其多语言翻译的持久化。
package cvstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvSync/internal/cv"
	"cvSync/internal/database"
)

var (
	// ErrNotFound 表示简历或翻译不存在；分享密钥错误也返回该错误，避免泄露信息。
	ErrNotFound = errors.New("cv not found")
	// ErrStoreUnavailable 表示持久层故障。
	ErrStoreUnavailable = errors.New("cv store unavailable")
	// ErrKeyExhaustion 表示分享密钥连续碰撞超过上限。
	ErrKeyExhaustion = errors.New("share key generation exhausted")
)

const (
	maxShareKeyAttempts = 5
	shareKeyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Translation 是某一语言下的简历内容。
type Translation struct {
	CVID      uint
	Language  cv.Language
	Content   cv.Content
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalUpdate 描述一次编辑对规范记录的修改；nil 字段保持不变。
type CanonicalUpdate struct {
	Content        cv.Content
	CurrentStep    *int
	SourceLanguage cv.Language
}

// Store 封装 GORM，提供简历存储操作。
type Store struct {
	db          *gorm.DB
	generateKey func() (string, error)
	now         func() time.Time
}

// New 构造 Store。
func New(db *gorm.DB) *Store {
	return &Store{db: db, generateKey: randomShareKey, now: time.Now}
}

// WithTx 在单个事务中执行 fn，fn 收到的 Store 绑定到该事务。
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, generateKey: s.generateKey, now: s.now})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, cv.ErrShapeMismatch) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Create 新建简历并生成唯一分享密钥。
func (s *Store) Create(ctx context.Context, userID uint, title string) (*database.CV, error) {
	empty := emptyColumns()
	for attempt := 0; attempt < maxShareKeyAttempts; attempt++ {
		key, err := s.generateKey()
		if err != nil {
			return nil, fmt.Errorf("generate share key: %w", err)
		}

		var count int64
		if err := s.db.WithContext(ctx).Model(&database.CV{}).
			Where("share_key = ?", key).
			Count(&count).Error; err != nil {
			return nil, unavailable("check share key", err)
		}
		if count > 0 {
			continue
		}

		record := database.CV{
			UserID:         userID,
			Title:          title,
			ShareKey:       key,
			SourceLanguage: string(cv.DefaultLanguage),
		}
		empty.apply(&record)

		err = s.db.WithContext(ctx).Create(&record).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return nil, unavailable("create cv", err)
		}
		return &record, nil
	}
	return nil, ErrKeyExhaustion
}

// Load 按 ID 读取简历。
func (s *Store) Load(ctx context.Context, id uint) (*database.CV, error) {
	var record database.CV
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("load cv", err)
	}
	return &record, nil
}

// LoadForViewer 按 ID 与分享密钥读取简历；密钥不匹配视为不存在。
func (s *Store) LoadForViewer(ctx context.Context, id uint, shareKey string) (*database.CV, error) {
	if !cv.ValidShareKey(shareKey) {
		return nil, ErrNotFound
	}
	record, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.ShareKey != shareKey {
		return nil, ErrNotFound
	}
	return record, nil
}

// PutTranslation 以 (cv_id, language_code) 为键写入翻译，并刷新简历的 updated_at。
func (s *Store) PutTranslation(ctx context.Context, cvID uint, lang cv.Language, content cv.Content) error {
	cols, err := encodeColumns(content.Clone().Complete())
	if err != nil {
		return err
	}
	row := database.CVTranslation{CVID: cvID, LanguageCode: string(lang)}
	cols.applyTranslation(&row)

	return s.mutate(ctx, cvID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cv_id"}, {Name: "language_code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"personal_info", "education", "experience", "skills",
				"languages", "certificates", "video_info", "updated_at", "deleted_at",
			}),
		}).Create(&row).Error
	})
}

// GetTranslation 读取某一语言下的翻译。
func (s *Store) GetTranslation(ctx context.Context, cvID uint, lang cv.Language) (*Translation, error) {
	var row database.CVTranslation
	err := s.db.WithContext(ctx).
		Where("cv_id = ? AND language_code = ?", cvID, string(lang)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get translation", err)
	}
	return decodeTranslation(row)
}

// ListTranslations 列出简历的全部翻译。
func (s *Store) ListTranslations(ctx context.Context, cvID uint) ([]Translation, error) {
	var rows []database.CVTranslation
	if err := s.db.WithContext(ctx).
		Where("cv_id = ?", cvID).
		Order("language_code").
		Find(&rows).Error; err != nil {
		return nil, unavailable("list translations", err)
	}
	out := make([]Translation, 0, len(rows))
	for _, row := range rows {
		t, err := decodeTranslation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// UpdateCanonical 更新规范记录中的字段、向导步骤与来源语言。
func (s *Store) UpdateCanonical(ctx context.Context, cvID uint, update CanonicalUpdate) error {
	updates := map[string]any{}
	for slot, value := range update.Content {
		data, err := cv.EncodeSlot(slot, value)
		if err != nil {
			return err
		}
		updates[string(slot)] = datatypes.JSON(data)
	}
	if update.CurrentStep != nil {
		updates["current_step"] = *update.CurrentStep
	}
	if update.SourceLanguage != "" {
		updates["source_language"] = string(update.SourceLanguage)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.mutate(ctx, cvID, func(tx *gorm.DB) error {
		return tx.Model(&database.CV{}).Where("id = ?", cvID).Updates(updates).Error
	})
}

// SetVideo 替换简历的视频资源，返回被替换的旧对象键。
func (s *Store) SetVideo(ctx context.Context, cvID uint, objectKey, url string) (string, error) {
	var previous string
	err := s.mutate(ctx, cvID, func(tx *gorm.DB) error {
		var record database.CV
		if err := tx.Select("id", "video_object_key").First(&record, cvID).Error; err != nil {
			return err
		}
		previous = record.VideoObjectKey
		return tx.Model(&database.CV{}).Where("id = ?", cvID).Updates(map[string]any{
			"video_object_key": objectKey,
			"video_url":        url,
		}).Error
	})
	return previous, err
}

// AddDocument 记录一份已上传的证书文档。
func (s *Store) AddDocument(ctx context.Context, doc database.CVDocument) error {
	return s.mutate(ctx, doc.CVID, func(tx *gorm.DB) error {
		return tx.Create(&doc).Error
	})
}

// CanonicalContent 解码规范记录中的七个字段。
func CanonicalContent(record *database.CV) (cv.Content, error) {
	return decodeColumns(columnsOf(record))
}

// Meta 返回构造投影所需的元数据。
func Meta(record *database.CV) cv.Meta {
	return cv.Meta{
		ID:          record.ID,
		Title:       record.Title,
		ShareKey:    record.ShareKey,
		CurrentStep: record.CurrentStep,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

// mutate 在事务中执行写操作，并同步刷新简历的 updated_at。
func (s *Store) mutate(ctx context.Context, cvID uint, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		res := tx.Model(&database.CV{}).Where("id = ?", cvID).Update("updated_at", s.now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return unavailable("mutate cv", err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func randomShareKey() (string, error) {
	max := big.NewInt(int64(len(shareKeyAlphabet)))
	buf := make([]byte, cv.ShareKeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = shareKeyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
