package domain

// QuizQuestion is one multiple-choice quiz or flashcard item.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// Summary is a lesson recap.
type Summary struct {
	Title              string `json:"title"`
	SummaryExplanation string `json:"summaryExplanation"`
}

// TopicQuestions is the shape the model returns for topic suggestions.
type TopicQuestions struct {
	Questions []string `json:"questions"`
}
