// Package textsplit разбивает нарративный текст на фрагменты под размер
// входа TTS-бэкенда с метаданными пауз между фрагментами.
package textsplit

import (
	"regexp"
	"strings"
)

// Значения по умолчанию для разбиения.
const (
	DefaultMaxChunkLength = 500
	DefaultParagraphPause = 1.0
	DefaultSentencePause  = 0.3

	// WordsPerSecond - средний темп речи для оценки длительности озвучки.
	WordsPerSecond = 2.5
)

// Chunk - один фрагмент текста и пауза после него.
type Chunk struct {
	Text       string  `json:"text"`
	PauseAfter float64 `json:"pause_after"`
}

// Metadata - агрегированная статистика разбиения. Оценка длительности
// используется только для UI, на корректность не влияет.
type Metadata struct {
	TotalChunks       int     `json:"total_chunks"`
	TotalChars        int     `json:"total_chars"`
	TotalWords        int     `json:"total_words"`
	EstimatedDuration float64 `json:"estimated_duration"`
}

// Options - параметры разбиения.
type Options struct {
	MaxChunkLength int
	ParagraphPause float64
	SentencePause  float64
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		MaxChunkLength: DefaultMaxChunkLength,
		ParagraphPause: DefaultParagraphPause,
		SentencePause:  DefaultSentencePause,
	}
}

// Сокращения, точка после которых не является концом предложения.
var abbreviations = []string{
	"Mr", "Mrs", "Ms", "Dr", "Prof", "Sr", "Jr", "St",
	"vs", "etc", "i.e", "e.g",
}

const dotPlaceholder = "<DOT>"

var (
	markdownRe   = regexp.MustCompile(`[*_` + "`" + `]+`)
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	paragraphRe  = regexp.MustCompile(`\n\s*\n`)
	wordsRe      = regexp.MustCompile(`\S+`)
	terminatorRe = regexp.MustCompile(`[.!?]+['"\x60]?\s+`)
)

// Segment разбивает текст на фрагменты. Чистая функция: результат зависит
// только от входа, состояния между вызовами нет.
func Segment(text string, opts Options) ([]Chunk, Metadata) {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = DefaultMaxChunkLength
	}

	cleaned := CleanText(text)
	var chunks []Chunk

	for _, paragraph := range splitParagraphs(cleaned) {
		if len(paragraph) <= opts.MaxChunkLength {
			chunks = append(chunks, Chunk{Text: paragraph, PauseAfter: opts.ParagraphPause})
			continue
		}

		// Абзац не влезает целиком: режем по предложениям и жадно
		// упаковываем в буфер до предела длины.
		sentences := SplitSentences(paragraph)
		var buf string
		for _, sentence := range sentences {
			if buf == "" {
				buf = sentence
				continue
			}
			if len(buf)+1+len(sentence) <= opts.MaxChunkLength {
				buf = buf + " " + sentence
				continue
			}
			chunks = append(chunks, Chunk{Text: buf, PauseAfter: opts.SentencePause})
			buf = sentence
		}
		if buf != "" {
			// Последний буфер абзаца закрывает абзац.
			chunks = append(chunks, Chunk{Text: buf, PauseAfter: opts.ParagraphPause})
		}
	}

	return chunks, buildMetadata(chunks)
}

// CleanText нормализует пробелы и убирает markdown-разметку, сохраняя
// границы абзацев.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = headerRe.ReplaceAllString(text, "")
	text = markdownRe.ReplaceAllString(text, "")
	text = spacesRe.ReplaceAllString(text, " ")

	paragraphs := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func splitParagraphs(cleaned string) []string {
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "\n\n")
}

// SplitSentences разбивает абзац на предложения по завершающим знакам,
// защищая известные сокращения от ложных разрывов.
func SplitSentences(paragraph string) []string {
	protected := paragraph
	for _, abbr := range abbreviations {
		protected = strings.ReplaceAll(protected, abbr+".", abbr+dotPlaceholder)
	}

	var sentences []string
	last := 0
	for _, loc := range terminatorRe.FindAllStringIndex(protected, -1) {
		// Конец предложения - после знаков и кавычки, до пробела.
		end := loc[1]
		for end > loc[0] && (protected[end-1] == ' ' || protected[end-1] == '\t') {
			end--
		}
		sentences = append(sentences, protected[last:end])
		last = loc[1]
	}
	if last < len(protected) {
		sentences = append(sentences, protected[last:])
	}

	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		s = strings.TrimSpace(strings.ReplaceAll(s, dotPlaceholder, "."))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func buildMetadata(chunks []Chunk) Metadata {
	var md Metadata
	md.TotalChunks = len(chunks)
	var pauses float64
	for _, c := range chunks {
		md.TotalChars += len(c.Text)
		md.TotalWords += len(wordsRe.FindAllString(c.Text, -1))
		pauses += c.PauseAfter
	}
	if md.TotalWords > 0 {
		md.EstimatedDuration = float64(md.TotalWords)/WordsPerSecond + pauses
	}
	return md
}
