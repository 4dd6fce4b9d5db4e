package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
)

// Assistant turns one chat message into a reply, mutating the user's todos
// as a side effect when the message asks for it.
type Assistant interface {
	Reply(ctx context.Context, userID int, message string) (string, []api.TaskAffected, error)
}

// llmClient is the minimal subset of openai.Client the assistant needs; it is
// easy to mock in tests.
type llmClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const assistantSystemPrompt = "You are a todo list assistant. Use the provided tools to create, " +
	"complete, and delete the user's todos, and answer questions about them. " +
	"Confirm each change briefly. If the user just chats, reply conversationally."

const maxAssistantTurns = 5

// openaiAssistant drives an LLM with function tools bound to the todo store.
type openaiAssistant struct {
	llm   llmClient
	model string
	todos *todoStore
}

func newOpenAIAssistant(apiKey, baseURL, model string, todos *todoStore) *openaiAssistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openaiAssistant{
		llm:   openai.NewClientWithConfig(cfg),
		model: model,
		todos: todos,
	}
}

func assistantTools() []openai.Tool {
	objSchema := func(props string) json.RawMessage {
		return json.RawMessage(`{"type":"object","properties":{` + props + `}}`)
	}
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "create_todo",
				Description: "Create a new todo for the user.",
				Parameters:  objSchema(`"title":{"type":"string"},"description":{"type":"string"}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "complete_todo",
				Description: "Mark an existing todo as completed, looked up by title.",
				Parameters:  objSchema(`"title":{"type":"string"}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "delete_todo",
				Description: "Delete an existing todo, looked up by title.",
				Parameters:  objSchema(`"title":{"type":"string"}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "list_todos",
				Description: "List the user's todos.",
				Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			},
		},
	}
}

func (a *openaiAssistant) Reply(ctx context.Context, userID int, message string) (string, []api.TaskAffected, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: assistantSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}
	tools := assistantTools()

	var affected []api.TaskAffected
	for turn := 0; turn < maxAssistantTurns; turn++ {
		resp, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			logger.L.Error("LLM call failed", "error", err)
			return "", nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil, errors.New("devserver: LLM returned no choices")
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			return choice.Content, affected, nil
		}

		messages = append(messages, choice)
		for _, tc := range choice.ToolCalls {
			output, changed := a.executeTool(userID, tc.Function.Name, tc.Function.Arguments)
			affected = append(affected, changed...)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
	}
	return "", nil, errors.New("devserver: exceeded maximum assistant turns")
}

func (a *openaiAssistant) executeTool(userID int, name, rawArgs string) (string, []api.TaskAffected) {
	var args struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			logger.L.Warn("Failed to parse tool arguments", "tool", name, "error", err)
			return "Error: could not parse arguments for tool " + name, nil
		}
	}

	switch name {
	case "create_todo":
		title := strings.TrimSpace(args.Title)
		if title == "" {
			return "Error: title is required", nil
		}
		t := a.todos.create(userID, title, strings.TrimSpace(args.Description))
		return fmt.Sprintf("Created todo %d: %s", t.ID, t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionCreated, Title: t.Title}}
	case "complete_todo":
		t, err := a.todos.findByTitle(userID, args.Title)
		if err != nil {
			return "Error: no todo matching " + args.Title, nil
		}
		input := api.UpdateTodoInput{Completed: boolPtr(true)}
		t, err = a.todos.update(userID, t.ID, input)
		if err != nil {
			return "Error: " + err.Error(), nil
		}
		return fmt.Sprintf("Completed todo %d: %s", t.ID, t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionCompleted, Title: t.Title}}
	case "delete_todo":
		t, err := a.todos.findByTitle(userID, args.Title)
		if err != nil {
			return "Error: no todo matching " + args.Title, nil
		}
		if err := a.todos.delete(userID, t.ID); err != nil {
			return "Error: " + err.Error(), nil
		}
		return fmt.Sprintf("Deleted todo %d: %s", t.ID, t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionDeleted, Title: t.Title}}
	case "list_todos":
		return formatTodoList(a.todos.list(userID)), nil
	default:
		return "Error: unknown tool " + name, nil
	}
}

// ruleAssistant understands a handful of direct commands. It keeps the dev
// server usable without an OpenAI key.
type ruleAssistant struct {
	todos *todoStore
}

func newRuleAssistant(todos *todoStore) *ruleAssistant {
	return &ruleAssistant{todos: todos}
}

func (a *ruleAssistant) Reply(_ context.Context, userID int, message string) (string, []api.TaskAffected, error) {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)

	if rest, ok := afterVerb(text, lower, "add", "create"); ok {
		title := stripNoise(rest)
		if title == "" {
			return "What should I add? Try: add buy milk", nil, nil
		}
		t := a.todos.create(userID, title, "")
		return fmt.Sprintf("Added %q to your list.", t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionCreated, Title: t.Title}}, nil
	}

	if rest, ok := afterVerb(text, lower, "complete", "finish", "done"); ok {
		title := stripNoise(rest)
		t, err := a.todos.findByTitle(userID, title)
		if err != nil {
			return fmt.Sprintf("I couldn't find a todo matching %q.", title), nil, nil
		}
		t, err = a.todos.update(userID, t.ID, api.UpdateTodoInput{Completed: boolPtr(true)})
		if err != nil {
			return "Something went wrong completing that todo.", nil, nil
		}
		return fmt.Sprintf("Marked %q as done.", t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionCompleted, Title: t.Title}}, nil
	}

	if rest, ok := afterVerb(text, lower, "delete", "remove"); ok {
		title := stripNoise(rest)
		t, err := a.todos.findByTitle(userID, title)
		if err != nil {
			return fmt.Sprintf("I couldn't find a todo matching %q.", title), nil, nil
		}
		if err := a.todos.delete(userID, t.ID); err != nil {
			return "Something went wrong deleting that todo.", nil, nil
		}
		return fmt.Sprintf("Deleted %q.", t.Title),
			[]api.TaskAffected{{ID: t.ID, Action: api.ActionDeleted, Title: t.Title}}, nil
	}

	if strings.Contains(lower, "list") || strings.Contains(lower, "show") {
		return formatTodoList(a.todos.list(userID)), nil, nil
	}

	return "I can manage your todos. Try: add buy milk, complete buy milk, delete buy milk, or list todos.", nil, nil
}

// afterVerb returns the text after the first matching leading verb.
func afterVerb(text, lower string, verbs ...string) (string, bool) {
	for _, v := range verbs {
		if strings.HasPrefix(lower, v+" ") {
			return text[len(v)+1:], true
		}
	}
	return "", false
}

// stripNoise drops filler words around a spoken title.
func stripNoise(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"a todo ", "todo ", "a task ", "task ", "the "} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = s[len(prefix):]
			break
		}
	}
	for _, suffix := range []string{" to my list", " to the list", " from my list", " from the list"} {
		if strings.HasSuffix(strings.ToLower(s), suffix) {
			s = s[:len(s)-len(suffix)]
			break
		}
	}
	return strings.TrimSpace(s)
}

func formatTodoList(todos []api.Todo) string {
	if len(todos) == 0 {
		return "Your list is empty."
	}
	var b strings.Builder
	b.WriteString("Here is your list:\n")
	for _, t := range todos {
		mark := "[ ]"
		if t.Completed {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", mark, t.ID, t.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func boolPtr(b bool) *bool { return &b }
