package cv

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Slot 表示简历的一个顶层内容字段。
type Slot string

const (
	PersonalInfo Slot = "personal_info"
	Education    Slot = "education"
	Experience   Slot = "experience"
	Skills       Slot = "skills"
	Languages    Slot = "languages"
	Certificates Slot = "certificates"
	VideoInfo    Slot = "video_info"
)

// Slots 按固定顺序列出七个内容字段。
var Slots = []Slot{PersonalInfo, Education, Experience, Skills, Languages, Certificates, VideoInfo}

// ShapeKind 区分映射型与序列型字段。
type ShapeKind int

const (
	Mapping ShapeKind = iota
	Sequence
)

func (k ShapeKind) String() string {
	if k == Sequence {
		return "sequence"
	}
	return "mapping"
}

// Shape 描述字段的结构，以及哪些子字段属于可翻译文本。
// 对 Sequence 而言，Text 描述的是每个元素的子字段。
type Shape struct {
	Kind ShapeKind
	Text []string
}

var shapes = map[Slot]Shape{
	PersonalInfo: {Kind: Mapping, Text: []string{"name", "title", "summary", "address", "city", "country"}},
	Education:    {Kind: Sequence, Text: []string{"school", "degree", "field", "description"}},
	Experience:   {Kind: Sequence, Text: []string{"company", "position", "description"}},
	Skills:       {Kind: Sequence, Text: []string{"name", "description"}},
	Languages:    {Kind: Sequence, Text: []string{"name"}},
	Certificates: {Kind: Sequence, Text: []string{"name", "issuer", "description"}},
	VideoInfo:    {Kind: Mapping, Text: []string{"description"}},
}

// ShapeOf 返回字段的结构描述。
func ShapeOf(slot Slot) (Shape, bool) {
	s, ok := shapes[slot]
	return s, ok
}

// IsText 判断 field 是否为该结构中的文本子字段。
func (s Shape) IsText(field string) bool {
	for _, f := range s.Text {
		if f == field {
			return true
		}
	}
	return false
}

// ParseSlot 校验字段名。
func ParseSlot(raw string) (Slot, bool) {
	slot := Slot(raw)
	_, ok := shapes[slot]
	return slot, ok
}

// ErrShapeMismatch 表示字段值的结构与描述不符（例如把列表写成对象）。
var ErrShapeMismatch = errors.New("slot shape mismatch")

// Content 保存七个字段解码后的 JSON 值：映射为 map[string]any，序列为 []any。
type Content map[Slot]any

// Empty 返回每个字段都为空值（{} 或 []）的内容。
func Empty() Content {
	c := make(Content, len(Slots))
	for _, slot := range Slots {
		c[slot] = emptyValue(slot)
	}
	return c
}

func emptyValue(slot Slot) any {
	if shapes[slot].Kind == Sequence {
		return []any{}
	}
	return map[string]any{}
}

// Normalize 校验并返回符合结构描述的字段值；nil 被替换为空值。
func Normalize(slot Slot, value any) (any, error) {
	shape, ok := shapes[slot]
	if !ok {
		return nil, fmt.Errorf("unknown slot %q", slot)
	}
	if value == nil {
		return emptyValue(slot), nil
	}
	switch v := value.(type) {
	case map[string]any:
		if shape.Kind != Mapping {
			return nil, fmt.Errorf("%w: %s must be a %s", ErrShapeMismatch, slot, shape.Kind)
		}
		return v, nil
	case []any:
		if shape.Kind != Sequence {
			return nil, fmt.Errorf("%w: %s must be a %s", ErrShapeMismatch, slot, shape.Kind)
		}
		for i, elem := range v {
			if elem == nil {
				v[i] = map[string]any{}
				continue
			}
			if _, ok := elem.(map[string]any); !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrShapeMismatch, slot, i)
			}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %T", ErrShapeMismatch, slot, value)
	}
}

// Validate 对内容中出现的每个字段执行 Normalize。
func (c Content) Validate() error {
	for slot, value := range c {
		normalized, err := Normalize(slot, value)
		if err != nil {
			return err
		}
		c[slot] = normalized
	}
	return nil
}

// Clone 深拷贝内容。
func (c Content) Clone() Content {
	out := make(Content, len(c))
	for slot, value := range c {
		out[slot] = cloneValue(value)
	}
	return out
}

// Merge 返回 base 的副本，并用 overlay 中的字段覆盖。
func Merge(base, overlay Content) Content {
	out := base.Clone()
	for slot, value := range overlay {
		out[slot] = cloneValue(value)
	}
	return out
}

// Complete 补齐缺失字段，保证七个字段都存在。
func (c Content) Complete() Content {
	for _, slot := range Slots {
		if _, ok := c[slot]; !ok || c[slot] == nil {
			c[slot] = emptyValue(slot)
		}
	}
	return c
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// DecodeSlot 将 JSON 列解码为字段值。空列按空值处理。
func DecodeSlot(slot Slot, raw []byte) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyValue(slot), nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode %s: %w", slot, err)
	}
	return Normalize(slot, value)
}

// EncodeSlot 将字段值编码为 JSON 列。
func EncodeSlot(slot Slot, value any) ([]byte, error) {
	normalized, err := Normalize(slot, value)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", slot, err)
	}
	return data, nil
}
