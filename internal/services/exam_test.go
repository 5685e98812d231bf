package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/platform/openai"
	"github.com/brightpath/brightpath-backend/internal/types"
)

func mcqPayload(startID, n int) map[string]any {
	questions := make([]any, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, map[string]any{
			"id":     float64(startID + i),
			"kind":   "mcq",
			"prompt": fmt.Sprintf("Question %d about vector spaces?", startID+i),
			"options": []any{
				map[string]any{"key": "A", "text": "first"},
				map[string]any{"key": "B", "text": "second"},
				map[string]any{"key": "C", "text": "third"},
				map[string]any{"key": "D", "text": "fourth"},
			},
			"correctOption": "B",
			"correctAnswer": "second",
			"points":        float64(2),
		})
	}
	return map[string]any{"questions": questions}
}

func TestGenerateExam_BatchesAndRenumbers(t *testing.T) {
	env := newAIEnv(t)
	userID := uuid.New()
	material := env.seedMaterial(t, userID, nil)
	env.retrieval.results = env.seedRetrieved(t, material, 3)
	env.llm.jsonResponses = []map[string]any{
		mcqPayload(1, 5),
		mcqPayload(6, 2),
	}

	resp, err := env.svc.GenerateExam(context.Background(), userID, ExamRequest{
		MaterialIDs: []uuid.UUID{material.ID},
		Count:       7,
	})
	if err != nil {
		t.Fatalf("generate exam: %v", err)
	}

	if len(env.llm.jsonCalls) != 2 {
		t.Fatalf("expected 2 batch calls, got %d", len(env.llm.jsonCalls))
	}
	if env.retrieval.lastTopK != ExamTopK {
		t.Fatalf("expected top-%d retrieval, got %d", ExamTopK, env.retrieval.lastTopK)
	}
	for i, call := range env.llm.jsonCalls {
		if call.maxTokens < minExamTokenBudget || call.maxTokens > maxExamTokenBudget {
			t.Fatalf("batch %d token budget %d outside [%d,%d]", i, call.maxTokens, minExamTokenBudget, maxExamTokenBudget)
		}
	}

	if resp.ExamJSON == nil {
		t.Fatalf("expected exam json")
	}
	if len(resp.ExamJSON.Questions) != 7 {
		t.Fatalf("expected 7 questions, got %d", len(resp.ExamJSON.Questions))
	}
	for i, q := range resp.ExamJSON.Questions {
		if q.ID != i+1 {
			t.Fatalf("question %d has id %d, want %d", i, q.ID, i+1)
		}
		if q.Kind != "mcq" {
			t.Fatalf("question %d has kind %q", i, q.Kind)
		}
		if len(q.Options) != 4 {
			t.Fatalf("question %d has %d options", i, len(q.Options))
		}
		for j, want := range []string{"A", "B", "C", "D"} {
			if q.Options[j].Key != want {
				t.Fatalf("question %d option %d has key %q", i, j, q.Options[j].Key)
			}
		}
		if q.CorrectOption != "B" {
			t.Fatalf("question %d has correctOption %q", i, q.CorrectOption)
		}
	}

	if !strings.Contains(resp.Exam, "Answer Key") {
		t.Fatalf("rendered exam is missing the answer key")
	}
	if !strings.Contains(resp.Exam, "7. ") {
		t.Fatalf("rendered exam is missing question 7")
	}
	if resp.ConversationID != nil {
		t.Fatalf("conversation must not be created without save_conversation")
	}
}

func TestGenerateExam_TruncationPropagates(t *testing.T) {
	env := newAIEnv(t)
	userID := uuid.New()
	material := env.seedMaterial(t, userID, nil)
	env.retrieval.results = env.seedRetrieved(t, material, 2)
	// First batch asks for 5 but only 3 come back.
	env.llm.jsonResponses = []map[string]any{mcqPayload(1, 3)}

	_, err := env.svc.GenerateExam(context.Background(), userID, ExamRequest{
		MaterialIDs: []uuid.UUID{material.ID},
		Count:       7,
	})
	var truncated *TruncatedOutputError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected *TruncatedOutputError, got %v", err)
	}
	if truncated.Requested != 5 || truncated.Got != 3 {
		t.Fatalf("unexpected truncation detail: %+v", truncated)
	}
}

func TestGenerateExam_GenericFailureBecomesUserFacingMessage(t *testing.T) {
	env := newAIEnv(t)
	userID := uuid.New()
	material := env.seedMaterial(t, userID, nil)
	env.retrieval.results = env.seedRetrieved(t, material, 2)
	env.llm.jsonErr = errors.New("provider blew up")

	resp, err := env.svc.GenerateExam(context.Background(), userID, ExamRequest{
		MaterialIDs: []uuid.UUID{material.ID},
	})
	if err != nil {
		t.Fatalf("generic failures must not surface as errors, got %v", err)
	}
	if resp.Exam != ExamGenerationFailedMessage {
		t.Fatalf("expected failure message, got %q", resp.Exam)
	}
	if resp.ExamJSON != nil {
		t.Fatalf("expected no exam json on failure")
	}
}

func TestGenerateExam_EmptyRetrievalReturnsSentinel(t *testing.T) {
	env := newAIEnv(t)
	userID := uuid.New()
	material := env.seedMaterial(t, userID, nil)

	resp, err := env.svc.GenerateExam(context.Background(), userID, ExamRequest{
		MaterialIDs: []uuid.UUID{material.ID},
	})
	if err != nil {
		t.Fatalf("generate exam: %v", err)
	}
	if resp.Exam != NotEnoughMaterialExam {
		t.Fatalf("expected sentinel, got %q", resp.Exam)
	}
	if len(env.llm.jsonCalls) != 0 {
		t.Fatalf("llm must not be called when retrieval is empty")
	}
}

func TestGenerateExam_SavesConversation(t *testing.T) {
	env := newAIEnv(t)
	userID := uuid.New()
	material := env.seedMaterial(t, userID, nil)
	env.retrieval.results = env.seedRetrieved(t, material, 2)
	env.llm.jsonResponses = []map[string]any{mcqPayload(1, 5)}

	resp, err := env.svc.GenerateExam(context.Background(), userID, ExamRequest{
		MaterialIDs:      []uuid.UUID{material.ID},
		SaveConversation: true,
	})
	if err != nil {
		t.Fatalf("generate exam: %v", err)
	}
	if resp.ConversationID == nil {
		t.Fatalf("expected a conversation id")
	}
	var conv types.Conversation
	if err := env.db.First(&conv, "id = ?", *resp.ConversationID).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if conv.Kind != types.ConversationExam {
		t.Fatalf("expected exam conversation, got %q", conv.Kind)
	}
}

func TestNormalizeOptions_AcceptsMapForm(t *testing.T) {
	options, err := normalizeOptions(map[string]any{
		"C": "third",
		"A": "first",
		"D": "fourth",
		"B": "second",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []ExamOption{{"A", "first"}, {"B", "second"}, {"C", "third"}, {"D", "fourth"}}
	for i := range want {
		if options[i] != want[i] {
			t.Fatalf("option %d = %+v, want %+v", i, options[i], want[i])
		}
	}
}

func TestNormalizeOptions_RejectsBadShapes(t *testing.T) {
	if _, err := normalizeOptions(nil); err == nil {
		t.Fatalf("expected error for missing options")
	}
	if _, err := normalizeOptions(map[string]any{"A": "a", "B": "b", "C": "c"}); err == nil {
		t.Fatalf("expected error for 3 options")
	}
	if _, err := normalizeOptions(map[string]any{"A": "a", "B": "b", "C": "c", "E": "e"}); err == nil {
		t.Fatalf("expected error for non A-D keys")
	}
	if _, err := normalizeOptions(map[string]any{"A": "a", "B": "b", "C": "c", "D": ""}); err == nil {
		t.Fatalf("expected error for empty option text")
	}
}

func TestNormalizeQuestion_TextRules(t *testing.T) {
	valid := map[string]any{
		"id":            float64(1),
		"kind":          "text",
		"prompt":        "Explain the rank-nullity theorem.",
		"correctAnswer": "The rank plus the nullity equals the dimension of the domain.",
		"keywords":      []any{"rank", "nullity", "dimension", "domain", "theorem", "extra"},
	}
	q, err := normalizeQuestion(valid)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if q.CorrectOption != "" {
		t.Fatalf("text question must not carry correctOption")
	}
	if len(q.Keywords) != 5 {
		t.Fatalf("keywords must cap at 5, got %d", len(q.Keywords))
	}

	invalid := map[string]any{
		"id":            float64(1),
		"kind":          "text",
		"prompt":        "Explain the rank-nullity theorem.",
		"correctAnswer": "answer",
		"correctOption": "A",
	}
	if _, err := normalizeQuestion(invalid); err == nil {
		t.Fatalf("expected error for text question with correctOption")
	}

	missing := map[string]any{
		"id":     float64(1),
		"kind":   "text",
		"prompt": "Explain the rank-nullity theorem.",
	}
	if _, err := normalizeQuestion(missing); err == nil {
		t.Fatalf("expected error for missing correctAnswer")
	}
}

func TestNormalizeQuestion_FailuresAreSchemaValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		obj   map[string]any
		field string
	}{
		{
			name:  "unknown kind",
			obj:   map[string]any{"id": float64(1), "kind": "essay", "prompt": "p"},
			field: "kind",
		},
		{
			name:  "empty prompt",
			obj:   map[string]any{"id": float64(1), "kind": "text", "prompt": "  ", "correctAnswer": "a"},
			field: "prompt",
		},
		{
			name: "bad correct option",
			obj: map[string]any{
				"id": float64(1), "kind": "mcq", "prompt": "p",
				"options":       map[string]any{"A": "a", "B": "b", "C": "c", "D": "d"},
				"correctOption": "E",
			},
			field: "correctOption",
		},
		{
			name: "missing options",
			obj: map[string]any{
				"id": float64(1), "kind": "mcq", "prompt": "p", "correctOption": "A",
			},
			field: "options",
		},
	}
	for _, tc := range cases {
		_, err := normalizeQuestion(tc.obj)
		var schemaErr *openai.SchemaValidationError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("%s: expected *openai.SchemaValidationError, got %v", tc.name, err)
		}
		if schemaErr.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.field, schemaErr.Field)
		}
	}
}

func TestNormalizeQuestion_LongAnswerIsClipped(t *testing.T) {
	words := make([]string, 40)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	q, err := normalizeQuestion(map[string]any{
		"id":            float64(1),
		"kind":          "text",
		"prompt":        "Summarize.",
		"correctAnswer": strings.Join(words, " "),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := len(strings.Fields(q.CorrectAnswer)); got != 30 {
		t.Fatalf("expected 30 words, got %d", got)
	}
}
