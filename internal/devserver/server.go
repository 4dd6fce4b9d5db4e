// Package devserver is a self-contained stand-in for the production backend.
// It serves the same REST surface the client speaks, backed by in-memory
// stores, so the terminal client can be developed and demoed offline.
package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
)

const userIDKey = "userID"

// Config carries everything the dev server needs at construction time.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration

	// When OpenAIAPIKey is set the chat endpoint is driven by an LLM with
	// todo tools; otherwise a rule-based assistant answers.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Server owns the in-memory state and the HTTP handlers.
type Server struct {
	tokens    *tokenService
	users     *userStore
	todos     *todoStore
	convs     *convStore
	assistant Assistant
}

func New(cfg Config) (*Server, error) {
	tokens, err := newTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		tokens: tokens,
		users:  newUserStore(),
		todos:  newTodoStore(),
		convs:  newConvStore(),
	}
	if cfg.OpenAIAPIKey != "" {
		s.assistant = newOpenAIAssistant(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, s.todos)
		logger.L.Info("Chat assistant backed by OpenAI", "model", cfg.OpenAIModel)
	} else {
		s.assistant = newRuleAssistant(s.todos)
		logger.L.Info("Chat assistant running in rule-based mode (no OpenAI key)")
	}
	return s, nil
}

func (s *Server) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/signup", s.handleSignUp)
		authGroup.POST("/signin", s.handleSignIn)
		authGroup.POST("/signout", s.requireAuth, s.handleSignOut)
		authGroup.GET("/me", s.requireAuth, s.handleMe)
	}

	todoGroup := router.Group("/api/todos", s.requireAuth)
	{
		todoGroup.GET("", s.handleListTodos)
		todoGroup.POST("", s.handleCreateTodo)
		todoGroup.PUT("/:id", s.handleUpdateTodo)
		todoGroup.PATCH("/:id/toggle", s.handleToggleTodo)
		todoGroup.DELETE("/:id", s.handleDeleteTodo)
	}

	chatGroup := router.Group("/api/chat", s.requireAuth)
	{
		chatGroup.POST("", s.handleChat)
		chatGroup.GET("/conversations", s.handleListConversations)
		chatGroup.GET("/conversations/:id/messages", s.handleListMessages)
	}
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		writeDetail(c, http.StatusUnauthorized, "missing bearer token")
		c.Abort()
		return
	}

	userID, err := s.tokens.verify(strings.TrimSpace(raw))
	if err != nil {
		writeDetail(c, http.StatusUnauthorized, "invalid or expired token")
		c.Abort()
		return
	}
	if _, err := s.users.get(userID); err != nil {
		writeDetail(c, http.StatusUnauthorized, "unknown user")
		c.Abort()
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

type signUpPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleSignUp(c *gin.Context) {
	var payload signUpPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.Email) == "" {
		writeDetail(c, http.StatusBadRequest, "email is required")
		return
	}
	if len(strings.TrimSpace(payload.Password)) < 6 {
		writeDetail(c, http.StatusBadRequest, errPasswordTooWeak.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		writeDetail(c, http.StatusInternalServerError, "failed to hash password")
		return
	}

	u, err := s.users.create(payload.Email, payload.Name, hash)
	if err != nil {
		if errors.Is(err, errEmailExists) {
			writeDetail(c, http.StatusConflict, "email already registered")
			return
		}
		writeDetail(c, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := s.tokens.issue(u.ID)
	if err != nil {
		writeDetail(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	c.JSON(http.StatusCreated, api.AuthResponse{Token: token, User: u.asAPI()})
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(c *gin.Context) {
	var payload signInPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid payload")
		return
	}

	u, err := s.users.byEmailKey(payload.Email)
	if err != nil {
		// 400, not 401: the client reserves 401 for expired sessions.
		writeDetail(c, http.StatusBadRequest, errInvalidCredentials.Error())
		return
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(payload.Password)) != nil {
		writeDetail(c, http.StatusBadRequest, errInvalidCredentials.Error())
		return
	}

	token, err := s.tokens.issue(u.ID)
	if err != nil {
		writeDetail(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	c.JSON(http.StatusOK, api.AuthResponse{Token: token, User: u.asAPI()})
}

func (s *Server) handleSignOut(c *gin.Context) {
	// Tokens are stateless; the client discards its copy.
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	u, err := s.users.get(c.GetInt(userIDKey))
	if err != nil {
		writeDetail(c, http.StatusUnauthorized, "unknown user")
		return
	}
	c.JSON(http.StatusOK, u.asAPI())
}

func (s *Server) handleListTodos(c *gin.Context) {
	c.JSON(http.StatusOK, s.todos.list(c.GetInt(userIDKey)))
}

func (s *Server) handleCreateTodo(c *gin.Context) {
	var input api.CreateTodoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		writeDetail(c, http.StatusBadRequest, "title is required")
		return
	}
	todo := s.todos.create(c.GetInt(userIDKey), title, strings.TrimSpace(input.Description))
	c.JSON(http.StatusCreated, todo)
}

func (s *Server) handleUpdateTodo(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}
	var input api.UpdateTodoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		writeDetail(c, http.StatusBadRequest, "title is required")
		return
	}

	todo, err := s.todos.update(c.GetInt(userIDKey), id, input)
	if err != nil {
		writeDetail(c, http.StatusNotFound, "todo not found")
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (s *Server) handleToggleTodo(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}
	todo, err := s.todos.toggle(c.GetInt(userIDKey), id)
	if err != nil {
		writeDetail(c, http.StatusNotFound, "todo not found")
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (s *Server) handleDeleteTodo(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}
	if err := s.todos.delete(c.GetInt(userIDKey), id); err != nil {
		writeDetail(c, http.StatusNotFound, "todo not found")
		return
	}
	c.Status(http.StatusNoContent)
}

type chatPayload struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

func (s *Server) handleChat(c *gin.Context) {
	var payload chatPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		writeDetail(c, http.StatusBadRequest, "message is required")
		return
	}

	userID := c.GetInt(userIDKey)

	var conv *conversation
	if payload.ConversationID != nil && *payload.ConversationID != "" {
		var err error
		conv, err = s.convs.get(userID, *payload.ConversationID)
		if err != nil {
			writeDetail(c, http.StatusNotFound, "conversation not found")
			return
		}
	}

	reply, affected, err := s.assistant.Reply(c.Request.Context(), userID, message)
	if err != nil {
		logger.L.Error("Assistant failed", "error", err)
		writeDetail(c, http.StatusBadGateway, "assistant is unavailable")
		return
	}

	// A failed first turn must not leave an empty conversation behind, so a
	// new one is only created once the assistant has answered.
	if conv == nil {
		conv = s.convs.create(userID)
	}

	now := time.Now().UTC()
	userMsg := api.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           api.RoleUser,
		Content:        message,
		CreatedAt:      now,
	}
	assistantMsg := api.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           api.RoleAssistant,
		Content:        reply,
		CreatedAt:      now,
	}
	s.convs.appendMessage(conv.ID, userMsg)
	s.convs.appendMessage(conv.ID, assistantMsg)

	if affected == nil {
		affected = []api.TaskAffected{}
	}
	c.JSON(http.StatusOK, api.ChatResponse{
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
		Response:       reply,
		TasksAffected:  affected,
	})
}

func (s *Server) handleListConversations(c *gin.Context) {
	convs := s.convs.list(c.GetInt(userIDKey), limitParam(c))
	if convs == nil {
		convs = []api.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) handleListMessages(c *gin.Context) {
	msgs, err := s.convs.messages(c.GetInt(userIDKey), c.Param("id"), limitParam(c))
	if err != nil {
		writeDetail(c, http.StatusNotFound, "conversation not found")
		return
	}
	if msgs == nil {
		msgs = []api.ChatMessage{}
	}
	c.JSON(http.StatusOK, msgs)
}

func todoID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		writeDetail(c, http.StatusBadRequest, "invalid todo id")
		return 0, false
	}
	return id, true
}

func limitParam(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}
