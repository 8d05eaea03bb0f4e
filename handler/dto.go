package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tutor-agent/internal/domain"
)

// ageValue accepts the learner's age as either a JSON string ("8-10") or a
// number (9).
type ageValue string

func (a *ageValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ageValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("age must be a string or a number")
	}
	*a = ageValue(strings.TrimSuffix(n.String(), ".0"))
	return nil
}

type lessonRequest struct {
	Message   string   `json:"message" validate:"required"`
	ThreadID  string   `json:"threadId" validate:"required_without=SessionID"`
	Age       ageValue `json:"age"`
	Language  string   `json:"language" validate:"required"`
	SessionID string   `json:"sessionId"`
}

type topicRequest struct {
	Topic     string   `json:"topic" validate:"required"`
	ThreadID  string   `json:"threadId" validate:"required_without=SessionID"`
	Age       ageValue `json:"age"`
	Language  string   `json:"language" validate:"required"`
	SessionID string   `json:"sessionId"`
}

type cancelRequest struct {
	ThreadID  string `json:"threadId" validate:"required_without=SessionID"`
	RunID     string `json:"runId" validate:"required_without=SessionID"`
	SessionID string `json:"sessionId"`
}

type threadIDQuery struct {
	SessionID string `query:"sessionId" validate:"required"`
}

type chatResponse struct {
	Result  string `json:"result"`
	RunID   string `json:"runId"`
	Diagram string `json:"diagram,omitempty"`
}

type quizResponse struct {
	Result []domain.QuizQuestion `json:"result"`
}

type topicQuestionsResponse struct {
	Questions []string `json:"questions"`
}

type summaryResponse struct {
	Title              string `json:"title"`
	SummaryExplanation string `json:"summaryExplanation"`
}

type threadIDResponse struct {
	ThreadID string `json:"threadId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type cancelResponse struct {
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled"`
	Status    string `json:"status,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
