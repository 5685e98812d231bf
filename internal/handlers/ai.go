package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/middleware"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/services"
)

type AIHandler struct {
	log *logger.Logger
	ai  services.AIService
}

func NewAIHandler(ai services.AIService, baseLog *logger.Logger) *AIHandler {
	return &AIHandler{
		log: baseLog.With("handler", "AIHandler"),
		ai:  ai,
	}
}

type answerQuestionReq struct {
	Question       string      `json:"question"`
	MaterialIDs    []uuid.UUID `json:"material_ids"`
	TopK           int         `json:"top_k"`
	ConversationID *uuid.UUID  `json:"conversation_id"`
}

// POST /api/ai/question
func (h *AIHandler) AnswerQuestion(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	var req answerQuestionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	resp, err := h.ai.AnswerQuestion(c.Request.Context(), userID, services.AnswerRequest{
		Question:       req.Question,
		MaterialIDs:    req.MaterialIDs,
		TopK:           req.TopK,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, resp)
}

// POST /api/ai/question/stream
//
// Tokens are framed as SSE: each delta as `data: {"token":"..."}`, then a
// terminal `event: end` on success or `event: error` with a message payload.
// A dropped client cancels the request context, which stops the upstream
// LLM call.
func (h *AIHandler) StreamAnswerQuestion(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	var req answerQuestionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("response writer does not support streaming"))
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	_, err := h.ai.StreamAnswerQuestion(c.Request.Context(), userID, services.AnswerRequest{
		Question:       req.Question,
		MaterialIDs:    req.MaterialIDs,
		TopK:           req.TopK,
		ConversationID: req.ConversationID,
	}, func(token string) {
		payload, merr := json.Marshal(gin.H{"token": token})
		if merr != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	})
	if err != nil {
		payload, _ := json.Marshal(gin.H{"message": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	fmt.Fprint(w, "event: end\ndata: {}\n\n")
	flusher.Flush()
}

type summarizeReq struct {
	MaterialIDs      []uuid.UUID `json:"material_ids"`
	Style            string      `json:"style"`
	ConversationID   *uuid.UUID  `json:"conversation_id"`
	SaveConversation bool        `json:"save_conversation"`
}

// POST /api/ai/summary
func (h *AIHandler) Summarize(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	var req summarizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	resp, err := h.ai.Summarize(c.Request.Context(), userID, services.SummaryRequest{
		MaterialIDs:      req.MaterialIDs,
		Style:            req.Style,
		ConversationID:   req.ConversationID,
		SaveConversation: req.SaveConversation,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, resp)
}

type generateExamReq struct {
	MaterialIDs      []uuid.UUID `json:"material_ids"`
	Count            int         `json:"count"`
	Difficulty       string      `json:"difficulty"`
	ExamType         string      `json:"exam_type"`
	ConversationID   *uuid.UUID  `json:"conversation_id"`
	SaveConversation bool        `json:"save_conversation"`
}

// POST /api/ai/exam
func (h *AIHandler) GenerateExam(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	var req generateExamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	resp, err := h.ai.GenerateExam(c.Request.Context(), userID, services.ExamRequest{
		MaterialIDs:      req.MaterialIDs,
		Count:            req.Count,
		Difficulty:       req.Difficulty,
		ExamType:         req.ExamType,
		ConversationID:   req.ConversationID,
		SaveConversation: req.SaveConversation,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, resp)
}

type adviseReq struct {
	Prompt string `json:"prompt"`
}

// POST /api/ai/advise
func (h *AIHandler) Advise(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing user identity"))
		return
	}
	var req adviseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	advice, err := h.ai.Advise(c.Request.Context(), userID, req.Prompt)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"advice": advice})
}
