package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"tutor-agent/internal/domain"
)

// ParseResult is the outcome of parsing untrusted model output. When OK is
// false, Value holds the documented fallback and Err says why.
type ParseResult[T any] struct {
	Value T
	OK    bool
	Err   error
}

// ParseQuizQuestions accepts a bare JSON array, the same array inside a
// ```json fence, or an object with a questions field. Malformed items are
// dropped; anything unparseable yields an empty list.
func ParseQuizQuestions(raw string) ParseResult[[]domain.QuizQuestion] {
	body := stripCodeFence(raw)
	items, err := decodeQuizItems(body)
	if err != nil {
		return ParseResult[[]domain.QuizQuestion]{Value: []domain.QuizQuestion{}, Err: err}
	}

	valid := make([]domain.QuizQuestion, 0, len(items))
	for _, q := range items {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" || len(q.Options) < 2 {
			continue
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			continue
		}
		valid = append(valid, q)
	}
	return ParseResult[[]domain.QuizQuestion]{Value: valid, OK: true}
}

func decodeQuizItems(body string) ([]domain.QuizQuestion, error) {
	switch {
	case strings.HasPrefix(body, "["):
		var items []domain.QuizQuestion
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("usecase: decode quiz array: %w", err)
		}
		return items, nil
	case strings.HasPrefix(body, "{"):
		var wrapped struct {
			Questions []domain.QuizQuestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("usecase: decode quiz object: %w", err)
		}
		return wrapped.Questions, nil
	}
	// Prose around the array: take the outermost brackets.
	start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil, errors.New("usecase: quiz output contains no JSON array")
	}
	var items []domain.QuizQuestion
	if err := json.Unmarshal([]byte(body[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("usecase: decode embedded quiz array: %w", err)
	}
	return items, nil
}

// ParseSummary decodes {title, summaryExplanation}. On failure it splits the
// raw text into a title and body; for non-empty input both are non-empty and
// together keep every non-whitespace character of the input.
func ParseSummary(raw string) ParseResult[domain.Summary] {
	var s domain.Summary
	err := json.Unmarshal([]byte(stripCodeFence(raw)), &s)
	if err == nil {
		s.Title = strings.TrimSpace(s.Title)
		s.SummaryExplanation = strings.TrimSpace(s.SummaryExplanation)
		if s.Title != "" && s.SummaryExplanation != "" {
			return ParseResult[domain.Summary]{Value: s, OK: true}
		}
		err = errors.New("usecase: summary JSON missing title or summaryExplanation")
	} else {
		err = fmt.Errorf("usecase: decode summary: %w", err)
	}
	return ParseResult[domain.Summary]{Value: splitSummaryText(raw), Err: err}
}

func splitSummaryText(raw string) domain.Summary {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return domain.Summary{}
	}

	// A leading ``` line is markup, not a heading. The title comes from the
	// first line after it and the body keeps the whole text.
	if strings.HasPrefix(strings.TrimSpace(lines[first]), "```") {
		for _, l := range lines[first+1:] {
			if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "```") {
				return domain.Summary{Title: l, SummaryExplanation: strings.TrimSpace(strings.Join(lines[first:], "\n"))}
			}
		}
	}

	title := strings.TrimSpace(lines[first])
	body := strings.TrimSpace(strings.Join(lines[first+1:], "\n"))
	if body != "" {
		return domain.Summary{Title: title, SummaryExplanation: body}
	}
	head, tail := splitSingleLine(title)
	return domain.Summary{Title: head, SummaryExplanation: tail}
}

// splitSingleLine cuts after the first sentence end, else at the first word
// boundary. A single token becomes both title and body.
func splitSingleLine(line string) (string, string) {
	for i, r := range line {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		rest := line[i+utf8.RuneLen(r):]
		if rest != "" && unicode.IsSpace([]rune(rest)[0]) && strings.TrimSpace(rest) != "" {
			return line[:i+utf8.RuneLen(r)], strings.TrimSpace(rest)
		}
	}
	if i := strings.IndexFunc(line, unicode.IsSpace); i > 0 {
		return line[:i], strings.TrimSpace(line[i:])
	}
	return line, line
}

// ParseTopicQuestions repairs stray backslashes, then decodes
// {"questions": [...]} (or a bare array). Blank entries are dropped.
func ParseTopicQuestions(raw string) ParseResult[[]string] {
	body := RepairBackslashes(stripCodeFence(raw))

	var questions []string
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &questions); err != nil {
			return ParseResult[[]string]{Value: []string{}, Err: fmt.Errorf("usecase: decode topic questions: %w", err)}
		}
	} else {
		var tq domain.TopicQuestions
		if err := json.Unmarshal([]byte(body), &tq); err != nil {
			return ParseResult[[]string]{Value: []string{}, Err: fmt.Errorf("usecase: decode topic questions: %w", err)}
		}
		questions = tq.Questions
	}

	out := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return ParseResult[[]string]{Value: out, OK: true}
}

// RepairBackslashes doubles every backslash that does not begin a JSON escape
// so LaTeX such as \frac{1}{2} survives decoding. \b \f \n \r \t directly
// followed by a letter are read as LaTeX commands (\beta, \frac, \nabla,
// \rho, \theta), not as control escapes.
func RepairBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			b.WriteString(`\\`)
			continue
		}
		next := s[i+1]
		switch {
		case next == '"' || next == '\\' || next == '/':
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case strings.IndexByte("bfnrt", next) >= 0 && !(i+2 < len(s) && isASCIILetter(s[i+2])):
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case next == 'u' && i+5 < len(s) && isHex4(s[i+2:i+6]):
			b.WriteString(s[i : i+6])
			i += 5
		default:
			b.WriteString(`\\`)
		}
	}
	return b.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isHex4(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return len(s) == 4
}

// stripCodeFence returns the contents of the first ``` fence if there is
// one, otherwise the trimmed input.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
