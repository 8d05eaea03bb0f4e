package usecase

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
)

const wellFormedQuiz = `[
  {"question": "What do plants need for photosynthesis?", "options": ["Sunlight", "Sand", "Plastic"], "correctAnswer": 0, "explanation": "Plants use light energy."},
  {"question": "What gas do plants release?", "options": ["Carbon dioxide", "Oxygen"], "correctAnswer": 1, "explanation": "Oxygen is a by-product."},
  {"question": "Where does photosynthesis happen?", "options": ["Roots", "Chloroplasts", "Flowers", "Seeds"], "correctAnswer": 1, "explanation": "Chloroplasts hold chlorophyll."}
]`

func TestParseQuizQuestions_WellFormedArray(t *testing.T) {
	res := ParseQuizQuestions(wellFormedQuiz)
	require.True(t, res.OK)
	require.NoError(t, res.Err)
	require.Len(t, res.Value, 3)
	require.Equal(t, domain.QuizQuestion{
		Question:      "What gas do plants release?",
		Options:       []string{"Carbon dioxide", "Oxygen"},
		CorrectAnswer: 1,
		Explanation:   "Oxygen is a by-product.",
	}, res.Value[1])
	require.Equal(t, []string{"Roots", "Chloroplasts", "Flowers", "Seeds"}, res.Value[2].Options)
}

func TestParseQuizQuestions_AcceptedWrappers(t *testing.T) {
	cases := map[string]string{
		"fenced":      "Here is your quiz:\n```json\n" + wellFormedQuiz + "\n```\nGood luck!",
		"object":      `{"questions": ` + wellFormedQuiz + `}`,
		"prose_array": "Sure! " + wellFormedQuiz + " Have fun.",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := ParseQuizQuestions(raw)
			require.True(t, res.OK, "err: %v", res.Err)
			require.Len(t, res.Value, 3)
		})
	}
}

func TestParseQuizQuestions_InvalidJSONYieldsEmptyList(t *testing.T) {
	for _, raw := range []string{`[{"question": "broken"`, "I'd rather not make a quiz.", ""} {
		res := ParseQuizQuestions(raw)
		require.False(t, res.OK)
		require.Error(t, res.Err)
		require.NotNil(t, res.Value)
		require.Empty(t, res.Value)
	}
}

func TestParseQuizQuestions_DropsMalformedItems(t *testing.T) {
	raw := `[
	  {"question": "One option only", "options": ["A"], "correctAnswer": 0, "explanation": ""},
	  {"question": "Index too high", "options": ["A", "B"], "correctAnswer": 2, "explanation": ""},
	  {"question": "Negative index", "options": ["A", "B"], "correctAnswer": -1, "explanation": ""},
	  {"question": "  ", "options": ["A", "B"], "correctAnswer": 0, "explanation": ""},
	  {"question": "Valid", "options": ["A", "B"], "correctAnswer": 1, "explanation": "B"}
	]`
	res := ParseQuizQuestions(raw)
	require.True(t, res.OK)
	require.Len(t, res.Value, 1)
	require.Equal(t, "Valid", res.Value[0].Question)
}

func TestParseSummary_JSON(t *testing.T) {
	res := ParseSummary("```json\n{\"title\": \"Magnets\", \"summaryExplanation\": \"Opposite poles attract.\"}\n```")
	require.True(t, res.OK)
	require.Equal(t, domain.Summary{Title: "Magnets", SummaryExplanation: "Opposite poles attract."}, res.Value)
}

func nonSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestParseSummary_FallbackKeepsAllText(t *testing.T) {
	cases := []string{
		"The Water Cycle\n\nWater evaporates from oceans and lakes.\n\nIt condenses into clouds and falls as rain.",
		"\n\n## Volcanoes\nMagma rises through cracks in the crust.",
		"Gravity pulls objects together. Heavier planets pull harder.",
		"Gravity pulls objects together",
		"Photosynthesis",
		`{"title": "Only a title"}`,
		"```json\n{\"title\": \"Volcanoes\", \"summaryExplanation\": \"Magma rises\n```",
	}
	for _, raw := range cases {
		res := ParseSummary(raw)
		require.False(t, res.OK, raw)
		require.Error(t, res.Err)
		require.NotEmpty(t, strings.TrimSpace(res.Value.Title), raw)
		require.NotEmpty(t, strings.TrimSpace(res.Value.SummaryExplanation), raw)
		require.Contains(t, nonSpace(res.Value.Title+res.Value.SummaryExplanation), nonSpace(raw), raw)
	}
}

func TestParseSummary_FallbackShapes(t *testing.T) {
	res := ParseSummary("The Water Cycle\n\nWater evaporates.\n\nClouds form.")
	require.Equal(t, "The Water Cycle", res.Value.Title)
	require.Equal(t, "Water evaporates.\n\nClouds form.", res.Value.SummaryExplanation)

	res = ParseSummary("Gravity pulls objects together. Heavier planets pull harder.")
	require.Equal(t, "Gravity pulls objects together.", res.Value.Title)
	require.Equal(t, "Heavier planets pull harder.", res.Value.SummaryExplanation)

	res = ParseSummary("Gravity pulls objects together")
	require.Equal(t, "Gravity", res.Value.Title)
	require.Equal(t, "pulls objects together", res.Value.SummaryExplanation)

	res = ParseSummary("   ")
	require.Equal(t, domain.Summary{}, res.Value)
}

func TestParseSummary_FallbackSkipsFenceForTitle(t *testing.T) {
	raw := "```json\n{\"title\": \"Volcanoes\", \"summaryExplanation\": \"Magma rises\n```"
	res := ParseSummary(raw)
	require.False(t, res.OK)
	require.Equal(t, `{"title": "Volcanoes", "summaryExplanation": "Magma rises`, res.Value.Title)
	require.Equal(t, strings.TrimSpace(raw), res.Value.SummaryExplanation)

	res = ParseSummary("```\nThe Water Cycle\nWater evaporates.\n```")
	require.Equal(t, "The Water Cycle", res.Value.Title)
	require.Contains(t, res.Value.SummaryExplanation, "Water evaporates.")
}

func TestRepairBackslashes_LaTeXSurvivesDecoding(t *testing.T) {
	raw := `{"questions": ["What is \frac{1}{2} of 10?", "Why is \theta used for angles?", "Is \sqrt{4} equal to 2?"]}`
	require.Error(t, json.Unmarshal([]byte(raw), &domain.TopicQuestions{}), "raw payload should not decode as-is")

	var tq domain.TopicQuestions
	require.NoError(t, json.Unmarshal([]byte(RepairBackslashes(raw)), &tq))
	require.Equal(t, []string{
		`What is \frac{1}{2} of 10?`,
		`Why is \theta used for angles?`,
		`Is \sqrt{4} equal to 2?`,
	}, tq.Questions)
}

func TestRepairBackslashes_LeavesValidEscapes(t *testing.T) {
	cases := []string{
		`"end of line\n"`,
		`"say \"hi\""`,
		`"caf\u00e9"`,
		`"already \\frac{1}{2}"`,
		`"tab\t1"`,
		`"x\n y"`,
		`"path \/ slash"`,
	}
	for _, in := range cases {
		require.Equal(t, in, RepairBackslashes(in))
	}
}

func TestRepairBackslashes_Edges(t *testing.T) {
	require.Equal(t, `a\\`, RepairBackslashes(`a\`))
	require.Equal(t, `\\u12`, RepairBackslashes(`\u12`))
	require.Equal(t, `\\(x\\)`, RepairBackslashes(`\(x\)`))
	require.Equal(t, `\\nabla`, RepairBackslashes(`\nabla`))
}

func TestParseTopicQuestions(t *testing.T) {
	res := ParseTopicQuestions("```json\n{\"questions\": [\"How big is \\pi?\", \" \", \"Why do stars shine?\"]}\n```")
	require.True(t, res.OK, "err: %v", res.Err)
	require.Equal(t, []string{`How big is \pi?`, "Why do stars shine?"}, res.Value)

	res = ParseTopicQuestions(`["What is \frac{1}{2}?"]`)
	require.True(t, res.OK)
	require.Equal(t, []string{`What is \frac{1}{2}?`}, res.Value)

	res = ParseTopicQuestions("not json at all")
	require.False(t, res.OK)
	require.Empty(t, res.Value)
}
