package translation

import (
	"strings"
	"unicode"

	"cvSync/internal/cv"
)

// minMarkers 是判定语言所需的最少标记数。
const minMarkers = 3

// 拉丁字母语言的高频词标记；只收录在其他候选语言中不常见的词。
var markerWords = map[cv.Language][]string{
	cv.English: {"the", "and", "with", "for", "of", "was", "were", "responsible", "experience", "university", "developed", "managed", "team"},
	cv.Spanish: {"el", "la", "los", "las", "y", "con", "para", "del", "una", "experiencia", "universidad", "desarrollo", "gestión", "equipo"},
	cv.German:  {"der", "die", "das", "und", "mit", "für", "von", "ein", "eine", "erfahrung", "universität", "entwicklung", "verantwortlich"},
	cv.Turkish: {"ve", "ile", "için", "bir", "olarak", "deneyim", "üniversitesi", "geliştirme", "sorumlu", "ekip"},
}

var markerIndex = func() map[string]cv.Language {
	idx := make(map[string]cv.Language)
	for lang, words := range markerWords {
		for _, w := range words {
			idx[w] = lang
		}
	}
	return idx
}()

// DetectLanguage 用标记词与文字系统粗略判断内容的语言。
// 标记不足或无明显优势时返回 false。
func DetectLanguage(content cv.Content) (cv.Language, bool) {
	text := cv.Texts(content)
	scores := make(map[cv.Language]int)

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			scores[cv.Chinese]++
		case unicode.Is(unicode.Arabic, r):
			scores[cv.Arabic]++
		case unicode.Is(unicode.Devanagari, r):
			scores[cv.Hindi]++
		}
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if lang, ok := markerIndex[w]; ok {
			scores[lang]++
		}
	}

	var (
		best      cv.Language
		bestScore int
		runnerUp  int
	)
	for _, lang := range cv.AllLanguages {
		score := scores[lang]
		switch {
		case score > bestScore:
			runnerUp = bestScore
			best, bestScore = lang, score
		case score > runnerUp:
			runnerUp = score
		}
	}
	if bestScore < minMarkers || bestScore == runnerUp {
		return "", false
	}
	return best, true
}

// Drifted 判断 content 是否被识别为 lang 以外的语言，返回识别出的语言。
func Drifted(content cv.Content, lang cv.Language) (cv.Language, bool) {
	detected, ok := DetectLanguage(content)
	if !ok || detected == lang {
		return "", false
	}
	return detected, true
}
