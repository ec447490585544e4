package story

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Цвета обложек по темам историй.
var themeColors = map[string]string{
	"adventure": "#FF6B6B",
	"fantasy":   "#A78BFA",
	"mystery":   "#374151",
	"sci-fi":    "#60A5FA",
	"horror":    "#1F2937",
	"romance":   "#F472B6",
}

const defaultThumbnailColor = "#6B7280"

// Длины считаются в рунах: тексты историй в основном кириллические.
const (
	maxTitleLength   = 50
	minTitleLength   = 10
	maxPreviewLength = 150
)

// DeriveTitle строит заголовок из первой непустой строки текста. Пустой или
// слишком короткий заголовок заменяется названием по теме истории.
func DeriveTitle(text, theme string) string {
	title := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		title = line
		if runes := []rune(line); len(runes) > maxTitleLength {
			title = string(runes[:maxTitleLength-3]) + "..."
		}
		break
	}

	if utf8.RuneCountInString(title) < minTitleLength {
		if theme := strings.TrimSpace(theme); theme != "" {
			return capitalizeFirst(theme) + " Story"
		}
		if title == "" {
			return "Без названия"
		}
	}
	return title
}

// DerivePreview строит короткий фрагмент текста, обрезая по границе слова.
func DerivePreview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= maxPreviewLength {
		return flat
	}
	cut := string(runes[:maxPreviewLength])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// ThumbnailColor возвращает цвет обложки для темы.
func ThumbnailColor(theme string) string {
	if color, ok := themeColors[strings.ToLower(strings.TrimSpace(theme))]; ok {
		return color
	}
	return defaultThumbnailColor
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
