package cv

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Canonical 返回字段值的规范化 JSON：对象键有序（encoding/json 保证），
// 字符串内部空白折叠为单个空格并去除首尾空白。
func Canonical(value any) []byte {
	data, err := json.Marshal(canonicalValue(value))
	if err != nil {
		return nil
	}
	return data
}

func canonicalValue(value any) any {
	switch v := value.(type) {
	case string:
		return strings.Join(strings.Fields(v), " ")
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = canonicalValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = canonicalValue(item)
		}
		return out
	default:
		return v
	}
}

// Equal 判断两个字段值在规范化后是否相同。
func Equal(a, b any) bool {
	return bytes.Equal(Canonical(a), Canonical(b))
}

// Diff 返回 next 中与 current 不同的字段，按 Slots 顺序排列。
func Diff(current, next Content) []Slot {
	var changed []Slot
	for _, slot := range Slots {
		value, ok := next[slot]
		if !ok {
			continue
		}
		before, had := current[slot]
		if !had || before == nil {
			before = emptyValue(slot)
		}
		if !Equal(before, value) {
			changed = append(changed, slot)
		}
	}
	return changed
}

// Extract 把指定字段中的文本叶子投影为扁平映射：
// 映射型字段的键为 "slot.field"，序列型字段的键为 "slot.index.field"。
// 非文本子字段与空字符串不会出现在结果中。
func Extract(content Content, slots []Slot) map[string]string {
	texts := make(map[string]string)
	for _, slot := range slots {
		shape, ok := shapes[slot]
		if !ok {
			continue
		}
		switch shape.Kind {
		case Mapping:
			m, _ := content[slot].(map[string]any)
			collectText(texts, string(slot), shape, m)
		case Sequence:
			list, _ := content[slot].([]any)
			for i, elem := range list {
				m, _ := elem.(map[string]any)
				collectText(texts, string(slot)+"."+strconv.Itoa(i), shape, m)
			}
		}
	}
	return texts
}

func collectText(texts map[string]string, prefix string, shape Shape, m map[string]any) {
	for _, field := range shape.Text {
		s, ok := m[field].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		texts[prefix+"."+field] = s
	}
}

// Splice 返回 source 中指定字段的结构克隆，并把 texts 中的值写回对应位置。
// 只有原位置本身是字符串时才会被替换；未知键被忽略。
func Splice(source Content, slots []Slot, texts map[string]string) Content {
	out := make(Content, len(slots))
	for _, slot := range slots {
		value, ok := source[slot]
		if !ok {
			value = emptyValue(slot)
		}
		out[slot] = cloneValue(value)
	}
	for key, text := range texts {
		parts := strings.Split(key, ".")
		slot := Slot(parts[0])
		value, ok := out[slot]
		if !ok {
			continue
		}
		switch len(parts) {
		case 2:
			m, ok := value.(map[string]any)
			if !ok {
				continue
			}
			setText(m, parts[1], text)
		case 3:
			list, ok := value.([]any)
			if !ok {
				continue
			}
			idx, err := strconv.Atoi(parts[1])
			if err != nil || idx < 0 || idx >= len(list) {
				continue
			}
			m, ok := list[idx].(map[string]any)
			if !ok {
				continue
			}
			setText(m, parts[2], text)
		}
	}
	return out
}

func setText(m map[string]any, field, text string) {
	if _, ok := m[field].(string); ok {
		m[field] = text
	}
}

// SameKeys 判断两个扁平映射的键集合是否完全一致。
func SameKeys(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// SortedKeys 返回扁平映射的有序键列表。
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Texts 返回内容中全部文本叶子拼接后的字符串，用于语言检测。
func Texts(content Content) string {
	texts := Extract(content, Slots)
	var b strings.Builder
	for _, k := range SortedKeys(texts) {
		b.WriteString(texts[k])
		b.WriteByte('\n')
	}
	return b.String()
}
