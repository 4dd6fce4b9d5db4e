package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/hugofs/tasktalk/internal/api"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, err := New(Config{JWTSecret: "test-secret"})
	require.NoError(t, err)

	router := gin.New()
	srv.RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signUpUser(t *testing.T, router *gin.Engine) api.AuthResponse {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "ada@example.com",
		"password": "hunter22",
		"name":     "Ada",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp api.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp
}

func TestSignUpAndSignIn(t *testing.T) {
	router := newTestRouter(t)

	resp := signUpUser(t, router)
	require.Equal(t, "ada@example.com", resp.User.Email)
	require.Equal(t, 1, resp.User.ID)

	// Duplicate email is rejected with a detail body.
	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "Ada@Example.com",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"detail"`)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "ada@example.com",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var signedIn api.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signedIn))

	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", signedIn.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me api.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, "ada@example.com", me.Email)
}

func TestSignUpValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "bob@example.com",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/todos", "/api/auth/me", "/api/chat/conversations"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.Contains(t, rec.Body.String(), `"detail"`)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/todos", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTodoCRUD(t *testing.T) {
	router := newTestRouter(t)
	token := signUpUser(t, router).Token

	rec := doJSON(t, router, http.MethodPost, "/api/todos", token, api.CreateTodoInput{Title: "buy milk"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created api.Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "buy milk", created.Title)
	require.False(t, created.Completed)

	rec = doJSON(t, router, http.MethodPost, "/api/todos", token, api.CreateTodoInput{Title: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	newTitle := "buy oat milk"
	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/todos/%d", created.ID), token,
		api.UpdateTodoInput{Title: &newTitle})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated api.Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, newTitle, updated.Title)

	rec = doJSON(t, router, http.MethodPatch, fmt.Sprintf("/api/todos/%d/toggle", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var toggled api.Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	require.True(t, toggled.Completed)

	rec = doJSON(t, router, http.MethodGet, "/api/todos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var todos []api.Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 1)

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/todos/%d", created.ID), token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/todos/%d", created.ID), token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatCreatesTodoAndConversation(t *testing.T) {
	router := newTestRouter(t)
	token := signUpUser(t, router).Token

	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]any{
		"message":         "add buy milk",
		"conversation_id": nil,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ConversationID)
	require.NotEmpty(t, resp.MessageID)
	require.Len(t, resp.TasksAffected, 1)
	require.Equal(t, api.ActionCreated, resp.TasksAffected[0].Action)
	require.Equal(t, "buy milk", resp.TasksAffected[0].Title)

	rec = doJSON(t, router, http.MethodGet, "/api/todos", token, nil)
	var todos []api.Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 1)
	require.Equal(t, "buy milk", todos[0].Title)

	// Follow-up turn reuses the conversation.
	rec = doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]any{
		"message":         "complete buy milk",
		"conversation_id": resp.ConversationID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var second api.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, resp.ConversationID, second.ConversationID)
	require.Equal(t, api.ActionCompleted, second.TasksAffected[0].Action)

	rec = doJSON(t, router, http.MethodGet, "/api/chat/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var convs []api.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	require.Equal(t, 4, convs[0].MessageCount)

	rec = doJSON(t, router, http.MethodGet, "/api/chat/conversations/"+resp.ConversationID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []api.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 4)
	require.Equal(t, api.RoleUser, msgs[0].Role)
	require.Equal(t, api.RoleAssistant, msgs[1].Role)
}

type failingAssistant struct{}

func (failingAssistant) Reply(context.Context, int, string) (string, []api.TaskAffected, error) {
	return "", nil, errors.New("upstream unavailable")
}

// A failed assistant turn must not leave an empty conversation behind.
func TestChatFailureLeavesNoConversation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv, err := New(Config{JWTSecret: "test-secret"})
	require.NoError(t, err)
	srv.assistant = failingAssistant{}

	router := gin.New()
	srv.RegisterRoutes(router)
	token := signUpUser(t, router).Token

	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]any{"message": "add buy milk"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/chat/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var convs []api.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Empty(t, convs)
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(t)
	token := signUpUser(t, router).Token

	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]any{"message": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]any{
		"message":         "hello",
		"conversation_id": "no-such-conversation",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type mockLLM struct {
	responses []openai.ChatCompletionResponse
	calls     int
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func TestOpenAIAssistantToolLoop(t *testing.T) {
	todos := newTodoStore()
	llm := &mockLLM{responses: []openai.ChatCompletionResponse{
		{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			ToolCalls: []openai.ToolCall{{
				ID:   "call-1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "create_todo",
					Arguments: `{"title":"water plants"}`,
				},
			}},
		}}}},
		{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Content: "Done, I added water plants.",
		}}}},
	}}
	assistant := &openaiAssistant{llm: llm, model: "test-model", todos: todos}

	reply, affected, err := assistant.Reply(context.Background(), 7, "remind me to water the plants")
	require.NoError(t, err)
	require.Equal(t, "Done, I added water plants.", reply)
	require.Equal(t, 2, llm.calls)
	require.Len(t, affected, 1)
	require.Equal(t, api.ActionCreated, affected[0].Action)

	list := todos.list(7)
	require.Len(t, list, 1)
	require.Equal(t, "water plants", list[0].Title)
}

func TestRuleAssistantFallbacks(t *testing.T) {
	todos := newTodoStore()
	assistant := newRuleAssistant(todos)

	reply, affected, err := assistant.Reply(context.Background(), 1, "complete pay rent")
	require.NoError(t, err)
	require.Empty(t, affected)
	require.Contains(t, reply, "couldn't find")

	reply, affected, err = assistant.Reply(context.Background(), 1, "what's the weather")
	require.NoError(t, err)
	require.Empty(t, affected)
	require.Contains(t, reply, "manage your todos")

	_, affected, err = assistant.Reply(context.Background(), 1, "add a task pay rent to my list")
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.Equal(t, "pay rent", affected[0].Title)

	reply, _, err = assistant.Reply(context.Background(), 1, "list my todos")
	require.NoError(t, err)
	require.Contains(t, reply, "pay rent")
}