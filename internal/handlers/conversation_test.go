package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightpath/brightpath-backend/internal/middleware"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/types"
)

type conversationEnv struct {
	db     *gorm.DB
	router *gin.Engine
}

func newConversationEnv(t *testing.T) *conversationEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Conversation{}, &types.Message{}, &types.MessageReference{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	h := NewConversationHandler(repos.NewConversationRepo(db, log), repos.NewMessageRepo(db, log), log)
	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.RequireUser(log))
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id/messages", h.ListMessages)
	return &conversationEnv{db: db, router: r}
}

func (env *conversationEnv) get(t *testing.T, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func seedConversation(t *testing.T, db *gorm.DB, userID uuid.UUID) *types.Conversation {
	t.Helper()
	conv := &types.Conversation{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   types.ConversationChat,
		Title:  "Derivatives",
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

func TestListMessages_UnknownConversationIs404(t *testing.T) {
	env := newConversationEnv(t)
	w := env.get(t, "/api/conversations/"+uuid.NewString()+"/messages", uuid.NewString())
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "conversation_not_found" {
		t.Fatalf("expected code conversation_not_found, got %q", envelope.Error.Code)
	}
}

func TestListMessages_ForeignConversationIs403(t *testing.T) {
	env := newConversationEnv(t)
	owner := uuid.New()
	conv := seedConversation(t, env.db, owner)

	w := env.get(t, "/api/conversations/"+conv.ID.String()+"/messages", uuid.NewString())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("expected code forbidden, got %q", envelope.Error.Code)
	}
}

func TestListMessages_OwnerSeesMessagesWithReferences(t *testing.T) {
	env := newConversationEnv(t)
	owner := uuid.New()
	conv := seedConversation(t, env.db, owner)

	now := time.Now()
	userMsg := &types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Content: "What is a derivative?", CreatedAt: now.Add(-time.Minute)}
	assistantMsg := &types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleAssistant, Content: "A derivative measures rate of change [1].", CreatedAt: now}
	if err := env.db.Create(userMsg).Error; err != nil {
		t.Fatalf("seed user message: %v", err)
	}
	if err := env.db.Create(assistantMsg).Error; err != nil {
		t.Fatalf("seed assistant message: %v", err)
	}
	ref := &types.MessageReference{ID: uuid.New(), MessageID: assistantMsg.ID, SourceNumber: 1, ChunkID: uuid.New()}
	if err := env.db.Create(ref).Error; err != nil {
		t.Fatalf("seed reference: %v", err)
	}

	w := env.get(t, "/api/conversations/"+conv.ID.String()+"/messages", owner.String())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var payload struct {
		Messages []struct {
			Role       string `json:"role"`
			References []struct {
				SourceNumber int `json:"source_number"`
			} `json:"references"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(payload.Messages))
	}
	if payload.Messages[0].Role != types.RoleUser || len(payload.Messages[0].References) != 0 {
		t.Fatalf("user message must carry no references")
	}
	if payload.Messages[1].Role != types.RoleAssistant || len(payload.Messages[1].References) != 1 {
		t.Fatalf("assistant message must carry its reference")
	}
	if payload.Messages[1].References[0].SourceNumber != 1 {
		t.Fatalf("unexpected source number")
	}
}
