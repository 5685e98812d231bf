package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/platform/openai"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/types"
)

const (
	DefaultAnswerTopK    = 6
	SummaryTopK          = 10
	maxConversationTitle = 80
)

// Sentinel answers for insufficient grounding material. These are valid
// outcomes, not errors, and ship with HTTP 200.
const (
	NotEnoughMaterialAnswer  = "Not enough approved material to answer this question."
	NotEnoughMaterialSummary = "Not enough approved material to summarize."
	NotEnoughMaterialExam    = "Not enough approved material to generate an exam."
)

const answerSystemPrompt = "You are a study assistant for students. Answer the question using ONLY the numbered sources provided. " +
	"If the sources do not contain enough information, say so explicitly. " +
	"Cite sources with bracketed numbers, e.g. [1] or [2], matching the source numbers."

const adviseSystemPrompt = "You are an academic advisor for students. Give practical, encouraging and specific study advice. " +
	"Keep answers concise and actionable."

// ValidationError is a bad request shape, mapped to 400 by the handlers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Reference is one ordered citation on an assistant message.
type Reference struct {
	SourceNumber int       `json:"source_number"`
	ChunkID      uuid.UUID `json:"chunk_id"`
}

type AnswerRequest struct {
	Question       string
	MaterialIDs    []uuid.UUID
	TopK           int
	ConversationID *uuid.UUID
}

type AnswerResponse struct {
	Answer            string      `json:"answer"`
	LogID             uuid.UUID   `json:"log_id"`
	UsedMaterialIDs   []uuid.UUID `json:"used_material_ids"`
	RetrievedChunkIDs []uuid.UUID `json:"retrieved_chunk_ids"`
	ConversationID    uuid.UUID   `json:"conversation_id"`
	References        []Reference `json:"references"`
}

type StreamResult struct {
	Answer            string
	LogID             uuid.UUID
	RetrievedChunkIDs []uuid.UUID
}

type SummaryRequest struct {
	MaterialIDs      []uuid.UUID
	Style            string
	ConversationID   *uuid.UUID
	SaveConversation bool
}

type SummaryResponse struct {
	Summary         string      `json:"summary"`
	UsedMaterialIDs []uuid.UUID `json:"used_material_ids"`
	ConversationID  *uuid.UUID  `json:"conversation_id,omitempty"`
	References      []Reference `json:"references"`
}

// AIService is the orchestration facade over retrieval, the LLM provider
// and conversation persistence.
type AIService interface {
	AnswerQuestion(ctx context.Context, userID uuid.UUID, req AnswerRequest) (*AnswerResponse, error)
	StreamAnswerQuestion(ctx context.Context, userID uuid.UUID, req AnswerRequest, onToken func(token string)) (*StreamResult, error)
	Summarize(ctx context.Context, userID uuid.UUID, req SummaryRequest) (*SummaryResponse, error)
	GenerateExam(ctx context.Context, userID uuid.UUID, req ExamRequest) (*ExamResponse, error)
	Advise(ctx context.Context, userID uuid.UUID, prompt string) (string, error)
}

type aiService struct {
	access        AccessService
	retrieval     RetrievalService
	llm           openai.Client
	queryLogRepo  repos.QueryLogRepo
	retrievalRepo repos.RetrievalRecordRepo
	convRepo      repos.ConversationRepo
	msgRepo       repos.MessageRepo
	log           *logger.Logger
}

func NewAIService(
	access AccessService,
	retrieval RetrievalService,
	llm openai.Client,
	queryLogRepo repos.QueryLogRepo,
	retrievalRepo repos.RetrievalRecordRepo,
	convRepo repos.ConversationRepo,
	msgRepo repos.MessageRepo,
	baseLog *logger.Logger,
) AIService {
	return &aiService{
		access:        access,
		retrieval:     retrieval,
		llm:           llm,
		queryLogRepo:  queryLogRepo,
		retrievalRepo: retrievalRepo,
		convRepo:      convRepo,
		msgRepo:       msgRepo,
		log:           baseLog.With("service", "AIService"),
	}
}

func (s *aiService) AnswerQuestion(ctx context.Context, userID uuid.UUID, req AnswerRequest) (*AnswerResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if len(req.MaterialIDs) == 0 {
		return nil, &ValidationError{Field: "material_ids", Reason: "must not be empty"}
	}
	if err := s.access.AssertMaterialsAccessible(ctx, userID, req.MaterialIDs); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultAnswerTopK
	}

	queryLog, err := s.queryLogRepo.Create(ctx, nil, &types.QueryLog{
		ID:         uuid.New(),
		UserID:     userID,
		MaterialID: &req.MaterialIDs[0],
		Question:   req.Question,
	})
	if err != nil {
		return nil, err
	}

	conv, err := s.resolveConversation(ctx, userID, req.ConversationID, types.ConversationChat, truncateTitle(req.Question), req.MaterialIDs)
	if err != nil {
		return nil, err
	}
	if _, err := s.msgRepo.Create(ctx, nil, &types.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Content:        req.Question,
	}); err != nil {
		return nil, err
	}

	retrieved, err := s.retrieval.Retrieve(ctx, req.MaterialIDs, req.Question, topK)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		if err := s.finishAnswer(ctx, queryLog.ID, conv.ID, NotEnoughMaterialAnswer, nil); err != nil {
			return nil, err
		}
		return &AnswerResponse{
			Answer:            NotEnoughMaterialAnswer,
			LogID:             queryLog.ID,
			UsedMaterialIDs:   req.MaterialIDs,
			RetrievedChunkIDs: []uuid.UUID{},
			ConversationID:    conv.ID,
			References:        []Reference{},
		}, nil
	}

	if err := s.persistRetrievalRecords(ctx, queryLog.ID, retrieved); err != nil {
		return nil, err
	}

	sources := buildSourcesBlock(retrieved)
	user := fmt.Sprintf("Sources:\n\n%s\n\nQuestion: %s", sources, req.Question)
	answer, err := s.llm.Chat(ctx, answerSystemPrompt, user, nil)
	if err != nil {
		return nil, err
	}

	refs := referencesFor(retrieved)
	if err := s.finishAnswer(ctx, queryLog.ID, conv.ID, answer, refs); err != nil {
		return nil, err
	}

	return &AnswerResponse{
		Answer:            answer,
		LogID:             queryLog.ID,
		UsedMaterialIDs:   req.MaterialIDs,
		RetrievedChunkIDs: chunkIDsOf(retrieved),
		ConversationID:    conv.ID,
		References:        refs,
	}, nil
}

// StreamAnswerQuestion runs the same pipeline but forwards content deltas
// as they arrive. It keeps only the query log trail, no conversation or
// messages, and fills the log with the accumulated text once the stream
// ends.
func (s *aiService) StreamAnswerQuestion(ctx context.Context, userID uuid.UUID, req AnswerRequest, onToken func(token string)) (*StreamResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if len(req.MaterialIDs) == 0 {
		return nil, &ValidationError{Field: "material_ids", Reason: "must not be empty"}
	}
	if err := s.access.AssertMaterialsAccessible(ctx, userID, req.MaterialIDs); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultAnswerTopK
	}

	queryLog, err := s.queryLogRepo.Create(ctx, nil, &types.QueryLog{
		ID:         uuid.New(),
		UserID:     userID,
		MaterialID: &req.MaterialIDs[0],
		Question:   req.Question,
	})
	if err != nil {
		return nil, err
	}

	retrieved, err := s.retrieval.Retrieve(ctx, req.MaterialIDs, req.Question, topK)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		if onToken != nil {
			onToken(NotEnoughMaterialAnswer)
		}
		if err := s.queryLogRepo.FillAnswer(ctx, nil, queryLog.ID, NotEnoughMaterialAnswer); err != nil {
			return nil, err
		}
		return &StreamResult{
			Answer:            NotEnoughMaterialAnswer,
			LogID:             queryLog.ID,
			RetrievedChunkIDs: []uuid.UUID{},
		}, nil
	}

	if err := s.persistRetrievalRecords(ctx, queryLog.ID, retrieved); err != nil {
		return nil, err
	}

	sources := buildSourcesBlock(retrieved)
	user := fmt.Sprintf("Sources:\n\n%s\n\nQuestion: %s", sources, req.Question)
	answer, err := s.llm.ChatStream(ctx, answerSystemPrompt, user, onToken)
	if err != nil {
		return nil, err
	}
	if err := s.queryLogRepo.FillAnswer(ctx, nil, queryLog.ID, answer); err != nil {
		return nil, err
	}
	return &StreamResult{
		Answer:            answer,
		LogID:             queryLog.ID,
		RetrievedChunkIDs: chunkIDsOf(retrieved),
	}, nil
}

func (s *aiService) Summarize(ctx context.Context, userID uuid.UUID, req SummaryRequest) (*SummaryResponse, error) {
	if len(req.MaterialIDs) == 0 {
		return nil, &ValidationError{Field: "material_ids", Reason: "must not be empty"}
	}
	if err := s.access.AssertMaterialsAccessible(ctx, userID, req.MaterialIDs); err != nil {
		return nil, err
	}
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = "bullet"
	}

	syntheticQuery := fmt.Sprintf("main ideas, key definitions and core arguments for a %s summary", style)
	retrieved, err := s.retrieval.Retrieve(ctx, req.MaterialIDs, syntheticQuery, SummaryTopK)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		return &SummaryResponse{
			Summary:         NotEnoughMaterialSummary,
			UsedMaterialIDs: req.MaterialIDs,
			References:      []Reference{},
		}, nil
	}

	sources := buildSourcesBlock(retrieved)
	system := "You are a study assistant. Summarize the numbered sources for a student. " +
		"Use only the sources provided and cite them with bracketed numbers."
	user := fmt.Sprintf("Sources:\n\n%s\n\nWrite a %s style summary of these sources.", sources, style)
	summary, err := s.llm.Chat(ctx, system, user, nil)
	if err != nil {
		return nil, err
	}

	refs := referencesFor(retrieved)
	resp := &SummaryResponse{
		Summary:         summary,
		UsedMaterialIDs: req.MaterialIDs,
		References:      refs,
	}
	if req.SaveConversation {
		conv, err := s.resolveConversation(ctx, userID, req.ConversationID, types.ConversationSummary, truncateTitle(retrieved[0].Material.Title), req.MaterialIDs)
		if err != nil {
			return nil, err
		}
		if err := s.persistAssistantMessage(ctx, conv.ID, summary, refs); err != nil {
			return nil, err
		}
		resp.ConversationID = &conv.ID
	}
	return resp, nil
}

func (s *aiService) Advise(ctx context.Context, userID uuid.UUID, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	return s.llm.Chat(ctx, adviseSystemPrompt, prompt, nil)
}

// resolveConversation reuses the given conversation after checking
// ownership and kind, or lazily creates a new one.
func (s *aiService) resolveConversation(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, kind string, title string, materialIDs []uuid.UUID) (*types.Conversation, error) {
	if conversationID != nil {
		conv, err := s.convRepo.GetByID(ctx, nil, *conversationID)
		if err != nil {
			return nil, &ValidationError{Field: "conversation_id", Reason: "conversation not found"}
		}
		if conv.UserID != userID {
			return nil, &AccessError{MaterialID: uuid.Nil, Reason: "conversation belongs to another user"}
		}
		if conv.Kind != kind {
			return nil, &ValidationError{Field: "conversation_id", Reason: fmt.Sprintf("conversation is of kind %s", conv.Kind)}
		}
		if err := s.convRepo.Touch(ctx, nil, conv.ID); err != nil {
			return nil, err
		}
		return conv, nil
	}

	rawIDs, err := json.Marshal(materialIDs)
	if err != nil {
		return nil, err
	}
	return s.convRepo.Create(ctx, nil, &types.Conversation{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Title:       title,
		MaterialIDs: datatypes.JSON(rawIDs),
	})
}

func (s *aiService) persistRetrievalRecords(ctx context.Context, logID uuid.UUID, retrieved []RetrievedChunk) error {
	records := make([]*types.RetrievalRecord, 0, len(retrieved))
	for _, r := range retrieved {
		records = append(records, &types.RetrievalRecord{
			ID:         uuid.New(),
			QueryLogID: logID,
			ChunkID:    r.Chunk.ID,
			Score:      r.Score,
			Rank:       r.Rank,
		})
	}
	_, err := s.retrievalRepo.Create(ctx, nil, records)
	return err
}

func (s *aiService) finishAnswer(ctx context.Context, logID uuid.UUID, conversationID uuid.UUID, answer string, refs []Reference) error {
	if err := s.queryLogRepo.FillAnswer(ctx, nil, logID, answer); err != nil {
		return err
	}
	return s.persistAssistantMessage(ctx, conversationID, answer, refs)
}

func (s *aiService) persistAssistantMessage(ctx context.Context, conversationID uuid.UUID, content string, refs []Reference) error {
	msg, err := s.msgRepo.Create(ctx, nil, &types.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           types.RoleAssistant,
		Content:        content,
	})
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	rows := make([]*types.MessageReference, 0, len(refs))
	for _, ref := range refs {
		rows = append(rows, &types.MessageReference{
			ID:           uuid.New(),
			MessageID:    msg.ID,
			SourceNumber: ref.SourceNumber,
			ChunkID:      ref.ChunkID,
		})
	}
	_, err = s.msgRepo.CreateReferences(ctx, nil, rows)
	return err
}

// buildSourcesBlock renders the numbered sources sent to the model. The
// numbering here is the single source of truth: stored references and the
// returned payload use the same 1-based rank order.
func buildSourcesBlock(retrieved []RetrievedChunk) string {
	var b strings.Builder
	for _, r := range retrieved {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", r.Rank, r.Material.Title, pageLabel(r.Chunk), r.Chunk.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func pageLabel(chunk *types.MaterialChunk) string {
	if chunk.PageStart == chunk.PageEnd {
		return fmt.Sprintf("page %d", chunk.PageStart)
	}
	return fmt.Sprintf("pages %d-%d", chunk.PageStart, chunk.PageEnd)
}

func referencesFor(retrieved []RetrievedChunk) []Reference {
	refs := make([]Reference, 0, len(retrieved))
	for _, r := range retrieved {
		refs = append(refs, Reference{SourceNumber: r.Rank, ChunkID: r.Chunk.ID})
	}
	return refs
}

func chunkIDsOf(retrieved []RetrievedChunk) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(retrieved))
	for _, r := range retrieved {
		ids = append(ids, r.Chunk.ID)
	}
	return ids
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxConversationTitle {
		return s
	}
	return strings.TrimSpace(string(runes[:maxConversationTitle])) + "..."
}
