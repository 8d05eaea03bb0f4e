package usecase

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects the instructions and post-processing of a run.
type Kind string

const (
	KindChat           Kind = "chat"
	KindQuiz           Kind = "quiz"
	KindSummary        Kind = "summary"
	KindTopicQuestions Kind = "topic_questions"
)

const defaultLanguage = "English"

// BuildInstructions returns the per-run policy text for a variant.
func BuildInstructions(kind Kind, age, language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		language = defaultLanguage
	}
	sections := []string{
		"Role:",
		"You are a patient STEM tutor for children.",
		"",
		"Audience:",
		audienceRules(age),
		"",
		"Language:",
		fmt.Sprintf("Reply only in %s, even if the learner writes in another language.", language),
		"",
		"Task:",
		taskRules(kind),
	}
	if contract := outputContractFor(kind); contract != "" {
		sections = append(sections, "", "Output Contract:", contract)
	}
	return strings.Join(sections, "\n")
}

func audienceRules(age string) string {
	switch normalizeAgeGroup(age) {
	case "5-7":
		return strings.Join([]string{
			"The learner is 5 to 7 years old.",
			"Use very short sentences and everyday words.",
			"Explain with toys, animals and food. Avoid formulas unless asked.",
		}, "\n")
	case "8-10":
		return strings.Join([]string{
			"The learner is 8 to 10 years old.",
			"Use simple sentences and one concrete example per idea.",
			"Introduce a term only after explaining it in plain words.",
		}, "\n")
	case "11-13":
		return strings.Join([]string{
			"The learner is 11 to 13 years old.",
			"You may use basic formulas and name the scientific concept.",
			"Connect ideas to experiments they could try at home.",
		}, "\n")
	case "14+":
		return strings.Join([]string{
			"The learner is 14 or older.",
			"Use correct terminology and show the reasoning step by step.",
		}, "\n")
	default:
		return "Assume a curious child aged 8 to 12. Prefer plain words over jargon."
	}
}

// normalizeAgeGroup maps values like "8 - 10", "8-10 years", "14+" or a
// plain age onto the groups the front end offers.
func normalizeAgeGroup(age string) string {
	compact := strings.ToLower(strings.Join(strings.Fields(age), ""))
	compact = strings.TrimSuffix(compact, "years")
	switch compact {
	case "5-7", "8-10", "11-13", "14+":
		return compact
	case "14-16", "14-18", "15+", "16+":
		return "14+"
	}
	n, err := strconv.Atoi(compact)
	switch {
	case err != nil || n < 3:
		return ""
	case n <= 7:
		return "5-7"
	case n <= 10:
		return "8-10"
	case n <= 13:
		return "11-13"
	default:
		return "14+"
	}
}

func taskRules(kind Kind) string {
	switch kind {
	case KindQuiz:
		return strings.Join([]string{
			"Write 3 to 5 multiple-choice questions about the topic the learner names.",
			"Each question has 3 or 4 options and exactly one correct option.",
			"Explanations are one or two sentences long.",
		}, "\n")
	case KindSummary:
		return strings.Join([]string{
			"Summarize what the learner studied in this conversation so far.",
			"Give the lesson a short title and a summary of at most five sentences.",
		}, "\n")
	case KindTopicQuestions:
		return strings.Join([]string{
			"Suggest 4 short questions a learner might ask about the given topic.",
			"Each question fits on one line and ends with a question mark.",
		}, "\n")
	default:
		return strings.Join([]string{
			"1) Answer the learner's question accurately and encouragingly.",
			"2) Write math in LaTeX between $ signs.",
			"3) When a diagram helps, add one fenced ```mermaid block after the explanation.",
			"4) If the question is not about science, technology, engineering or math, gently steer back to STEM.",
		}, "\n")
	}
}

func outputContractFor(kind Kind) string {
	switch kind {
	case KindQuiz:
		return "Return JSON only: an array of objects with keys question (string), options (array of strings), " +
			"correctAnswer (zero-based integer index into options) and explanation (string)."
	case KindSummary:
		return "Return JSON only: an object with exactly two string keys, title and summaryExplanation."
	case KindTopicQuestions:
		return "Return JSON only: an object with one key, questions, holding an array of strings."
	}
	return ""
}
