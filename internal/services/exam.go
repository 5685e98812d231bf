package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/platform/openai"
	"github.com/brightpath/brightpath-backend/internal/types"
)

const (
	DefaultExamCount = 5
	ExamTopK         = 12
	examBatchSize    = 5

	minExamTokenBudget = 800
	maxExamTokenBudget = 2000
)

const ExamGenerationFailedMessage = "Exam generation failed. Please retry with fewer questions."

// TruncatedOutputError means a batch returned fewer questions than
// requested in a way that points at output-token truncation rather than a
// content problem. It must survive to the HTTP boundary unmodified so the
// client can suggest lowering the question count.
type TruncatedOutputError struct {
	Requested int
	Got       int
}

func (e *TruncatedOutputError) Error() string {
	return fmt.Sprintf("exam output truncated: requested %d questions, got %d", e.Requested, e.Got)
}

type ExamOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type ExamQuestion struct {
	ID            int          `json:"id"`
	Kind          string       `json:"kind"`
	Prompt        string       `json:"prompt"`
	Options       []ExamOption `json:"options,omitempty"`
	CorrectOption string       `json:"correctOption,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
	Keywords      []string     `json:"keywords,omitempty"`
	Points        int          `json:"points"`
}

type ExamJSON struct {
	Questions []ExamQuestion `json:"questions"`
}

type ExamRequest struct {
	MaterialIDs      []uuid.UUID
	Count            int
	Difficulty       string
	ExamType         string
	ConversationID   *uuid.UUID
	SaveConversation bool
}

type ExamResponse struct {
	Exam            string      `json:"exam"`
	ExamJSON        *ExamJSON   `json:"exam_json,omitempty"`
	UsedMaterialIDs []uuid.UUID `json:"used_material_ids"`
	ConversationID  *uuid.UUID  `json:"conversation_id,omitempty"`
	References      []Reference `json:"references"`
}

func (s *aiService) GenerateExam(ctx context.Context, userID uuid.UUID, req ExamRequest) (*ExamResponse, error) {
	if len(req.MaterialIDs) == 0 {
		return nil, &ValidationError{Field: "material_ids", Reason: "must not be empty"}
	}
	if err := s.access.AssertMaterialsAccessible(ctx, userID, req.MaterialIDs); err != nil {
		return nil, err
	}
	count := req.Count
	if count <= 0 {
		count = DefaultExamCount
	}
	difficulty := strings.TrimSpace(req.Difficulty)
	if difficulty == "" {
		difficulty = "medium"
	}
	examType := strings.TrimSpace(req.ExamType)
	if examType == "" {
		examType = "multiple-choice"
	}

	syntheticQuery := fmt.Sprintf("%s exam questions at %s difficulty covering the core concepts and definitions", examType, difficulty)
	retrieved, err := s.retrieval.Retrieve(ctx, req.MaterialIDs, syntheticQuery, ExamTopK)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		return &ExamResponse{
			Exam:            NotEnoughMaterialExam,
			UsedMaterialIDs: req.MaterialIDs,
			References:      []Reference{},
		}, nil
	}

	sources := buildSourcesBlock(retrieved)
	questions, err := s.generateQuestions(ctx, sources, count, difficulty, examType)
	if err != nil {
		var truncated *TruncatedOutputError
		if errors.As(err, &truncated) {
			return nil, truncated
		}
		// Any other generation or validation failure becomes a normal
		// user-facing response rather than a 500.
		s.log.Error("exam generation failed", "error", err.Error())
		return &ExamResponse{
			Exam:            ExamGenerationFailedMessage,
			UsedMaterialIDs: req.MaterialIDs,
			References:      []Reference{},
		}, nil
	}

	examText := renderExam(questions)
	refs := referencesFor(retrieved)
	resp := &ExamResponse{
		Exam:            examText,
		ExamJSON:        &ExamJSON{Questions: questions},
		UsedMaterialIDs: req.MaterialIDs,
		References:      refs,
	}
	if req.SaveConversation {
		title := truncateTitle("Exam: " + retrieved[0].Material.Title)
		conv, err := s.resolveConversation(ctx, userID, req.ConversationID, types.ConversationExam, title, req.MaterialIDs)
		if err != nil {
			return nil, err
		}
		if err := s.persistAssistantMessage(ctx, conv.ID, examText, refs); err != nil {
			return nil, err
		}
		resp.ConversationID = &conv.ID
	}
	return resp, nil
}

// generateQuestions collects questions in batches to stay inside output
// token budgets, then renumbers ids 1..count. Per-batch ids from the model
// are not trusted; a short batch is treated as truncation.
func (s *aiService) generateQuestions(ctx context.Context, sources string, count int, difficulty, examType string) ([]ExamQuestion, error) {
	var questions []ExamQuestion
	for len(questions) < count {
		take := count - len(questions)
		if take > examBatchSize {
			take = examBatchSize
		}
		startID := len(questions) + 1

		batch, err := s.generateBatch(ctx, sources, take, startID, difficulty, examType)
		if err != nil {
			return nil, err
		}
		if len(batch) < take {
			return nil, &TruncatedOutputError{Requested: take, Got: len(batch)}
		}
		questions = append(questions, batch[:take]...)
	}

	if len(questions) > count {
		questions = questions[:count]
	}
	for i := range questions {
		questions[i].ID = i + 1
	}
	return questions, nil
}

func (s *aiService) generateBatch(ctx context.Context, sources string, take, startID int, difficulty, examType string) ([]ExamQuestion, error) {
	system := "You are an exam author. Write exam questions strictly grounded in the numbered sources provided. " +
		"Never invent facts that are not in the sources."
	user := fmt.Sprintf(
		"Sources:\n\n%s\n\nWrite exactly %d %s exam questions at %s difficulty. "+
			"Number them starting at id %d. Each question must be answerable from the sources alone.",
		sources, take, examType, difficulty, startID,
	)

	raw, err := s.llm.ChatJSON(ctx, system, user, "exam_questions", examBatchSchema(take), examTokenBudget(take, examType))
	if err != nil {
		return nil, err
	}

	items, ok := raw["questions"].([]any)
	if !ok {
		return nil, &openai.SchemaValidationError{Field: "questions", Reason: "missing or not an array"}
	}
	questions := make([]ExamQuestion, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &openai.SchemaValidationError{Field: "questions", Reason: "item is not an object"}
		}
		q, err := normalizeQuestion(obj)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// examTokenBudget scales the max output tokens by batch size and question
// verbosity, clamped so a tiny batch still has room and a large one cannot
// run away.
func examTokenBudget(take int, examType string) int {
	perQuestion := 160
	if examType == "multiple-choice" || examType == "mixed" {
		perQuestion = 260
	}
	budget := take * perQuestion
	if budget < minExamTokenBudget {
		budget = minExamTokenBudget
	}
	if budget > maxExamTokenBudget {
		budget = maxExamTokenBudget
	}
	return budget
}

func examBatchSchema(take int) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"questions"},
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"minItems": take,
				"maxItems": take,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"id", "kind", "prompt", "correctAnswer", "points"},
					"properties": map[string]any{
						"id":     map[string]any{"type": "integer"},
						"kind":   map[string]any{"type": "string", "enum": []string{"mcq", "text"}},
						"prompt": map[string]any{"type": "string", "maxLength": 200},
						"options": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":                 "object",
								"additionalProperties": false,
								"required":             []string{"key", "text"},
								"properties": map[string]any{
									"key":  map[string]any{"type": "string", "enum": []string{"A", "B", "C", "D"}},
									"text": map[string]any{"type": "string"},
								},
							},
						},
						"correctOption": map[string]any{"type": "string", "enum": []string{"A", "B", "C", "D"}},
						"correctAnswer": map[string]any{"type": "string"},
						"explanation":   map[string]any{"type": "string"},
						"keywords": map[string]any{
							"type":     "array",
							"maxItems": 5,
							"items":    map[string]any{"type": "string"},
						},
						"points": map[string]any{"type": "integer"},
					},
				},
			},
		},
	}
}

// normalizeQuestion converts one loosely-typed model question into a
// validated ExamQuestion. Options may arrive as an array of {key,text} or
// as an object map; both normalize to the array form, sorted by key.
func normalizeQuestion(obj map[string]any) (ExamQuestion, error) {
	var q ExamQuestion

	if id, ok := obj["id"].(float64); ok {
		q.ID = int(id)
	}
	kind, _ := obj["kind"].(string)
	if kind != "mcq" && kind != "text" {
		return q, &openai.SchemaValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not mcq or text", kind)}
	}
	q.Kind = kind

	prompt, _ := obj["prompt"].(string)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return q, &openai.SchemaValidationError{Field: "prompt", Reason: "empty"}
	}
	if runes := []rune(prompt); len(runes) > 200 {
		prompt = string(runes[:200])
	}
	q.Prompt = prompt

	if explanation, ok := obj["explanation"].(string); ok {
		q.Explanation = strings.TrimSpace(explanation)
	}
	if points, ok := obj["points"].(float64); ok && points > 0 {
		q.Points = int(points)
	}
	if q.Points == 0 {
		q.Points = 1
	}

	correctAnswer, _ := obj["correctAnswer"].(string)
	q.CorrectAnswer = strings.TrimSpace(correctAnswer)

	if kind == "mcq" {
		options, err := normalizeOptions(obj["options"])
		if err != nil {
			return q, err
		}
		q.Options = options
		correctOption, _ := obj["correctOption"].(string)
		correctOption = strings.ToUpper(strings.TrimSpace(correctOption))
		if !isOptionKey(correctOption) {
			return q, &openai.SchemaValidationError{Field: "correctOption", Reason: fmt.Sprintf("%q is not one of A-D", correctOption)}
		}
		q.CorrectOption = correctOption
		if q.CorrectAnswer == "" {
			for _, opt := range q.Options {
				if opt.Key == correctOption {
					q.CorrectAnswer = opt.Text
				}
			}
		}
		return q, nil
	}

	// text questions
	if _, present := obj["correctOption"]; present {
		if v, _ := obj["correctOption"].(string); strings.TrimSpace(v) != "" {
			return q, &openai.SchemaValidationError{Field: "correctOption", Reason: "not allowed on a text question"}
		}
	}
	if q.CorrectAnswer == "" {
		return q, &openai.SchemaValidationError{Field: "correctAnswer", Reason: "missing on a text question"}
	}
	if words := strings.Fields(q.CorrectAnswer); len(words) > 30 {
		q.CorrectAnswer = strings.Join(words[:30], " ")
	}
	if rawKeywords, ok := obj["keywords"].([]any); ok {
		for _, kw := range rawKeywords {
			if s, ok := kw.(string); ok && strings.TrimSpace(s) != "" {
				q.Keywords = append(q.Keywords, strings.TrimSpace(s))
			}
			if len(q.Keywords) == 5 {
				break
			}
		}
	}
	return q, nil
}

// normalizeOptions accepts either [{key,text}...] or {"A": "...", ...} and
// returns exactly four options keyed A-D in key order.
func normalizeOptions(raw any) ([]ExamOption, error) {
	var options []ExamOption
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &openai.SchemaValidationError{Field: "options", Reason: "option is not an object"}
			}
			key, _ := obj["key"].(string)
			text, _ := obj["text"].(string)
			options = append(options, ExamOption{Key: strings.ToUpper(strings.TrimSpace(key)), Text: strings.TrimSpace(text)})
		}
	case map[string]any:
		for key, text := range v {
			s, _ := text.(string)
			options = append(options, ExamOption{Key: strings.ToUpper(strings.TrimSpace(key)), Text: strings.TrimSpace(s)})
		}
	default:
		return nil, &openai.SchemaValidationError{Field: "options", Reason: "missing on an mcq question"}
	}

	sort.Slice(options, func(i, j int) bool { return options[i].Key < options[j].Key })
	if len(options) != 4 {
		return nil, &openai.SchemaValidationError{Field: "options", Reason: fmt.Sprintf("got %d options, want 4", len(options))}
	}
	for i, want := range []string{"A", "B", "C", "D"} {
		if options[i].Key != want {
			return nil, &openai.SchemaValidationError{Field: "options", Reason: fmt.Sprintf("keys must be exactly A-D, got %q", options[i].Key)}
		}
		if options[i].Text == "" {
			return nil, &openai.SchemaValidationError{Field: "options", Reason: fmt.Sprintf("option %s has empty text", want)}
		}
	}
	return options, nil
}

func isOptionKey(s string) bool {
	return s == "A" || s == "B" || s == "C" || s == "D"
}

// renderExam produces the human-readable exam text: numbered prompts with
// lettered options, followed by an answer key.
func renderExam(questions []ExamQuestion) string {
	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", q.ID, q.Prompt)
		for _, opt := range q.Options {
			fmt.Fprintf(&b, "   %s) %s\n", opt.Key, opt.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("Answer Key\n")
	for _, q := range questions {
		if q.Kind == "mcq" {
			fmt.Fprintf(&b, "%d. %s\n", q.ID, q.CorrectOption)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", q.ID, q.CorrectAnswer)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
