// Package history keeps a local SQLite mirror of chat messages so a reopened
// session can show the previous conversation without a round trip. The
// database is opened lazily and created on first use; if opening or writing
// fails, the cache degrades to in-memory storage for the process lifetime.
package history

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
)

// Cache mirrors chat messages keyed by conversation id.
type Cache struct {
	path string

	mu       sync.Mutex
	fallback []api.ChatMessage // in-memory fallback

	dbOnce  sync.Once
	db      *sql.DB
	initErr error
}

// NewCache creates a cache backed by the SQLite file at path. The file is not
// touched until the first Save or List.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

func (c *Cache) initDB() {
	db, err := sql.Open("sqlite", "file:"+c.path+"?_busy_timeout=10000")
	if err != nil {
		c.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history cache", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`); err != nil {
		c.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory history cache", "error", err)
		return
	}
	c.db = db
}

// Save mirrors one confirmed message. Optimistic temp entries must not be
// cached; only promoted records are durable.
func (c *Cache) Save(msg api.ChatMessage) {
	c.dbOnce.Do(c.initDB)

	if c.initErr == nil && c.db != nil {
		_, err := c.db.Exec(
			`INSERT OR REPLACE INTO messages (id, conversation_id, role, content, created_at) VALUES (?,?,?,?,?);`,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt.UTC(),
		)
		if err == nil {
			return
		}
		logger.L.Warn("failed to cache message; falling back to memory", "error", err)
	}

	c.mu.Lock()
	c.fallback = append(c.fallback, msg)
	c.mu.Unlock()
}

// List returns all cached messages of a conversation in chronological order.
func (c *Cache) List(conversationID string) []api.ChatMessage {
	c.dbOnce.Do(c.initDB)

	if c.initErr == nil && c.db != nil {
		rows, err := c.db.Query(
			`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC;`,
			conversationID,
		)
		if err == nil {
			defer rows.Close()
			var out []api.ChatMessage
			for rows.Next() {
				var m api.ChatMessage
				var role string
				var createdAt time.Time
				if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &createdAt); err == nil {
					m.Role = api.Role(role)
					m.CreatedAt = createdAt
					out = append(out, m)
				}
			}
			return out
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []api.ChatMessage
	for _, m := range c.fallback {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// LastConversationID returns the conversation with the newest cached message,
// or "" when the cache is empty.
func (c *Cache) LastConversationID() string {
	c.dbOnce.Do(c.initDB)

	if c.initErr == nil && c.db != nil {
		var id string
		err := c.db.QueryRow(`SELECT conversation_id FROM messages ORDER BY created_at DESC LIMIT 1;`).Scan(&id)
		if err == nil {
			return id
		}
		if err != sql.ErrNoRows {
			logger.L.Warn("failed to read history cache", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fallback) == 0 {
		return ""
	}
	return c.fallback[len(c.fallback)-1].ConversationID
}

// Close releases the underlying database, if one was opened.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
