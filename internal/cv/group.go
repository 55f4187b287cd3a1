package cv

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ShareKeyLength 是分享密钥的固定长度。
const ShareKeyLength = 30

var (
	shareKeyPattern   = regexp.MustCompile(`^[A-Za-z0-9]{30}$`)
	templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ErrInvalidGroup 表示 URL 参数无法组成合法的分组标识。
var ErrInvalidGroup = errors.New("invalid group parameters")

// ValidShareKey 判断字符串是否为格式正确的分享密钥。
func ValidShareKey(key string) bool {
	return shareKeyPattern.MatchString(key)
}

// ValidTemplateID 判断模板标识是否合法。
func ValidTemplateID(id string) bool {
	return templateIDPattern.MatchString(id)
}

// GroupKey 是实时总线的路由键，由 (模板, 简历, 分享密钥, 语言) 组成。
type GroupKey struct {
	TemplateID string
	CVID       uint
	ShareKey   string
	Language   Language
}

// String 以固定顺序拼接分组标识。
func (g GroupKey) String() string {
	return fmt.Sprintf("cv:%s:%d:%s:%s", g.TemplateID, g.CVID, g.ShareKey, g.Language)
}

// WithLanguage 返回同一简历、不同语言的分组标识。
func (g GroupKey) WithLanguage(lang Language) GroupKey {
	g.Language = lang
	return g
}

// ParseGroupKey 从 URL 参数构造分组标识，并校验每个部分的格式。
func ParseGroupKey(templateID, id, shareKey, lang string, supported []Language) (GroupKey, error) {
	if !ValidTemplateID(templateID) {
		return GroupKey{}, fmt.Errorf("%w: template id", ErrInvalidGroup)
	}
	cvID, err := strconv.ParseUint(id, 10, 64)
	if err != nil || cvID == 0 {
		return GroupKey{}, fmt.Errorf("%w: cv id", ErrInvalidGroup)
	}
	if !ValidShareKey(shareKey) {
		return GroupKey{}, fmt.Errorf("%w: share key", ErrInvalidGroup)
	}
	language, err := ParseLanguage(lang)
	if err != nil || !Contains(supported, language) {
		return GroupKey{}, fmt.Errorf("%w: language", ErrInvalidGroup)
	}
	return GroupKey{
		TemplateID: templateID,
		CVID:       uint(cvID),
		ShareKey:   shareKey,
		Language:   language,
	}, nil
}
