package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	PasswordHash string `gorm:"size:255"`
	CVs          []CV   `gorm:"constraint:OnDelete:CASCADE"`
}

// CV 表示一份简历的规范记录；七个内容字段保存最近一次编辑语言下的内容。
type CV struct {
	gorm.Model
	UserID         uint            `gorm:"index"`
	User           User            `gorm:"constraint:OnDelete:CASCADE"`
	Title          string          `gorm:"size:255"`
	ShareKey       string          `gorm:"size:30;uniqueIndex"`
	CurrentStep    int             `gorm:"default:0"`
	SourceLanguage string          `gorm:"size:8;default:en"`
	PersonalInfo   datatypes.JSON  `gorm:"type:jsonb"`
	Education      datatypes.JSON  `gorm:"type:jsonb"`
	Experience     datatypes.JSON  `gorm:"type:jsonb"`
	Skills         datatypes.JSON  `gorm:"type:jsonb"`
	Languages      datatypes.JSON  `gorm:"type:jsonb"`
	Certificates   datatypes.JSON  `gorm:"type:jsonb"`
	VideoInfo      datatypes.JSON  `gorm:"type:jsonb"`
	VideoObjectKey string          `gorm:"size:512"`
	VideoURL       string          `gorm:"size:1024"`
	Translations   []CVTranslation `gorm:"foreignKey:CVID;constraint:OnDelete:CASCADE"`
}

// TableName 固定表名为 cvs。
func (CV) TableName() string {
	return "cvs"
}

// CVTranslation 表示简历在某一语言下的投影；(cv_id, language_code) 唯一。
type CVTranslation struct {
	gorm.Model
	CVID         uint           `gorm:"uniqueIndex:idx_cv_translation_lang;not null"`
	LanguageCode string         `gorm:"size:8;uniqueIndex:idx_cv_translation_lang;not null"`
	PersonalInfo datatypes.JSON `gorm:"type:jsonb"`
	Education    datatypes.JSON `gorm:"type:jsonb"`
	Experience   datatypes.JSON `gorm:"type:jsonb"`
	Skills       datatypes.JSON `gorm:"type:jsonb"`
	Languages    datatypes.JSON `gorm:"type:jsonb"`
	Certificates datatypes.JSON `gorm:"type:jsonb"`
	VideoInfo    datatypes.JSON `gorm:"type:jsonb"`
}

// CVDocument 记录上传到对象存储的证书文档。
type CVDocument struct {
	ID          string `gorm:"primaryKey;size:36"`
	CVID        uint   `gorm:"index;not null"`
	ObjectKey   string `gorm:"size:512"`
	ContentType string `gorm:"size:128"`
	Size        int64
	CreatedAt   int64 `gorm:"autoCreateTime"`
}

// Models 列出需要自动迁移的全部模型。
func Models() []any {
	return []any{&User{}, &CV{}, &CVTranslation{}, &CVDocument{}}
}
