package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/auth"
	"github.com/hugofs/tasktalk/internal/chat"
	"github.com/hugofs/tasktalk/internal/config"
	"github.com/hugofs/tasktalk/internal/history"
	"github.com/hugofs/tasktalk/internal/logger"
	"github.com/hugofs/tasktalk/internal/todo"
	"github.com/hugofs/tasktalk/internal/token"
)

// app wires the state managers behind the REPL.
type app struct {
	session *auth.Session
	chat    *chat.Manager
	todos   *todo.Manager
	convs   *api.Client
	cache   *history.Cache

	// newChat builds a manager bound to the given conversation id ("" for a
	// fresh one). Switching conversations replaces the manager wholesale: an
	// adopted id is immutable, so the old manager keeps pointing at the old
	// conversation.
	newChat func(conversationID string) *chat.Manager
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	tokens := token.NewFileStore(cfg.API.TokenPath)

	var session *auth.Session
	client := api.New(cfg.API.BaseURL, tokens,
		api.WithTimeout(time.Duration(cfg.API.TimeoutSeconds)*time.Second),
		api.WithOnUnauthorized(func() {
			if session != nil {
				session.Invalidate()
			}
			fmt.Println("Your session has expired. Please sign in again.")
		}),
	)
	session = auth.NewSession(client, tokens)

	var cache *history.Cache
	if !cfg.History.Disabled {
		cache = history.NewCache(cfg.History.DBPath)
		defer cache.Close()
	}

	todos := todo.NewManager(client)
	tasksHook := chat.WithTasksAffected(func(affected []api.TaskAffected) {
		// The assistant changed todos; refresh so /todos stays accurate.
		if err := todos.Load(context.Background()); err != nil {
			logger.L.Warn("failed to refresh todos after chat", "error", err)
		}
		for _, t := range affected {
			fmt.Printf("  (todo %s: %s)\n", t.Action, t.Title)
		}
	})
	newChat := func(conversationID string) *chat.Manager {
		opts := []chat.Option{tasksHook}
		if conversationID != "" {
			opts = append(opts, chat.WithConversation(conversationID))
		}
		return chat.NewManager(client, session.Current, opts...)
	}

	a := &app{session: session, chat: newChat(""), todos: todos, convs: client, cache: cache, newChat: newChat}
	defer func() { a.chat.Close() }()
	a.run()
}

func (a *app) run() {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := replHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	ctx := context.Background()
	fmt.Println("tasktalk: todos with a chat assistant. Type /help for commands.")
	if user, err := a.session.Current(ctx); err == nil && user != nil {
		fmt.Printf("Signed in as %s.\n", user.Email)
		if err := a.todos.Load(ctx); err != nil {
			logger.L.Warn("initial todo load failed", "error", err)
		}
	}

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.command(ctx, line, input); quit {
				return
			}
			continue
		}
		a.say(ctx, input)
	}
}

// command dispatches a slash command. Returns true when the REPL should exit.
func (a *app) command(ctx context.Context, line *liner.State, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help", "/h":
		printHelp()
	case "/quit", "/q", "/exit":
		return true

	case "/signup":
		email := promptLine(line, "email: ")
		password, err := line.PasswordPrompt("password: ")
		if err != nil {
			return false
		}
		name := promptLine(line, "name (optional): ")
		user, err := a.session.SignUp(ctx, email, password, name)
		if err != nil {
			fmt.Println("Sign up failed:", errMessage(err))
			return false
		}
		fmt.Printf("Welcome, %s.\n", user.Email)
		a.afterSignIn(ctx)

	case "/signin":
		email := promptLine(line, "email: ")
		password, err := line.PasswordPrompt("password: ")
		if err != nil {
			return false
		}
		user, err := a.session.SignIn(ctx, email, password)
		if err != nil {
			fmt.Println("Sign in failed:", errMessage(err))
			return false
		}
		fmt.Printf("Signed in as %s.\n", user.Email)
		a.afterSignIn(ctx)

	case "/signout":
		a.session.SignOut(ctx)
		fmt.Println("Signed out.")

	case "/whoami":
		user, err := a.session.Current(ctx)
		if err != nil {
			fmt.Println("Could not resolve session:", errMessage(err))
			return false
		}
		if user == nil {
			fmt.Println("Not signed in.")
			return false
		}
		fmt.Printf("%s (id %d)\n", user.Email, user.ID)

	case "/todos":
		if err := a.todos.Load(ctx); err != nil {
			fmt.Println("Could not load todos:", errMessage(err))
			return false
		}
		printTodos(a.todos.Todos())

	case "/add":
		title := strings.Join(args, " ")
		created, err := a.todos.Create(ctx, api.CreateTodoInput{Title: title})
		if err != nil {
			fmt.Println("Could not add todo:", errMessage(err))
			return false
		}
		fmt.Printf("Added #%d %s\n", created.ID, created.Title)

	case "/done":
		id, ok := parseID(args)
		if !ok {
			fmt.Println("Usage: /done <id>")
			return false
		}
		toggled, err := a.todos.Toggle(ctx, id)
		if err != nil {
			fmt.Println("Could not toggle todo:", errMessage(err))
			return false
		}
		state := "open"
		if toggled.Completed {
			state = "done"
		}
		fmt.Printf("#%d %s is now %s\n", toggled.ID, toggled.Title, state)

	case "/rm":
		id, ok := parseID(args)
		if !ok {
			fmt.Println("Usage: /rm <id>")
			return false
		}
		if err := a.todos.Delete(ctx, id); err != nil {
			fmt.Println("Could not delete todo:", errMessage(err))
			return false
		}
		fmt.Printf("Deleted #%d\n", id)

	case "/conversations":
		convs, err := a.convs.ListConversations(ctx, 10)
		if err != nil {
			fmt.Println("Could not list conversations:", errMessage(err))
			return false
		}
		if len(convs) == 0 {
			fmt.Println("No conversations yet.")
			return false
		}
		for _, c := range convs {
			fmt.Printf("%s  %s  %s\n", c.ID, c.UpdatedAt.Local().Format("Jan 2 15:04"), c.LastMessagePreview)
		}

	case "/open":
		if len(args) != 1 {
			fmt.Println("Usage: /open <conversation-id>")
			return false
		}
		if err := a.openConversation(ctx, args[0]); err != nil {
			fmt.Println("Could not open conversation:", errMessage(err))
			return false
		}
		for _, m := range a.chat.Messages() {
			printMessage(m)
		}

	case "/resume":
		if a.cache == nil {
			fmt.Println("History cache is disabled.")
			return false
		}
		last := a.cache.LastConversationID()
		if last == "" {
			fmt.Println("No cached conversations.")
			return false
		}
		if err := a.openConversation(ctx, last); err != nil {
			fmt.Println("Could not resume conversation:", errMessage(err))
			return false
		}
		for _, m := range a.chat.Messages() {
			printMessage(m)
		}

	default:
		fmt.Println("Unknown command. Type /help for the list.")
	}
	return false
}

// openConversation switches the REPL to another conversation. The current
// manager holds an immutable id, so a fresh manager is bound to the target id
// and only replaces the current one once its history has loaded. Subsequent
// free-text messages then go to the opened conversation.
func (a *app) openConversation(ctx context.Context, id string) error {
	fresh := a.newChat(id)
	if err := fresh.Load(ctx, id); err != nil {
		fresh.Close()
		return err
	}
	a.chat.Close()
	a.chat = fresh
	return nil
}

func (a *app) say(ctx context.Context, text string) {
	if err := a.chat.Send(ctx, text); err != nil {
		switch {
		case errors.Is(err, chat.ErrNotAuthenticated):
			fmt.Println("Sign in first with /signin.")
		case errors.Is(err, chat.ErrSendInFlight):
			fmt.Println("Still waiting on the previous message.")
		default:
			fmt.Println("Could not send message:", errMessage(err))
		}
		return
	}
	if msg := a.chat.LastError(); msg != "" {
		fmt.Println(msg)
		return
	}

	msgs := a.chat.Messages()
	if len(msgs) > 0 {
		printMessage(msgs[len(msgs)-1])
	}
	// A successful send appends exactly the confirmed user message and the
	// assistant reply; only those need caching.
	if a.cache != nil && len(msgs) >= 2 {
		a.cache.Save(msgs[len(msgs)-2])
		a.cache.Save(msgs[len(msgs)-1])
	}
}

func (a *app) afterSignIn(ctx context.Context) {
	if err := a.todos.Load(ctx); err != nil {
		logger.L.Warn("todo load after sign-in failed", "error", err)
	}
}

func printHelp() {
	fmt.Print(`Commands:
  /signup              Create an account
  /signin              Sign in
  /signout             Sign out
  /whoami              Show the current user
  /todos               List todos
  /add <title>         Add a todo
  /done <id>           Toggle a todo
  /rm <id>             Delete a todo
  /conversations       List recent conversations
  /open <id>           Open a conversation
  /resume              Reopen the last cached conversation
  /quit                Exit
Anything else is sent to the assistant.
`)
}

func printTodos(todos []api.Todo) {
	if len(todos) == 0 {
		fmt.Println("No todos.")
		return
	}
	for _, t := range todos {
		mark := "[ ]"
		if t.Completed {
			mark = "[x]"
		}
		fmt.Printf("%s #%d %s\n", mark, t.ID, t.Title)
	}
}

func printMessage(m api.ChatMessage) {
	prefix := "you"
	if m.Role == api.RoleAssistant {
		prefix = "assistant"
	}
	fmt.Printf("%s: %s\n", prefix, m.Content)
}

func promptLine(line *liner.State, prompt string) string {
	input, err := line.Prompt(prompt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func parseID(args []string) (int, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	return id, true
}

func errMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

func replHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tasktalk_history")
	}
	return filepath.Join(dir, "tasktalk", "repl_history")
}
