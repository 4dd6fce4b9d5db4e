package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

type sendMessageRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

// SendMessage submits one chat turn. An empty conversationID sends a null
// conversation_id, which makes the backend open a new conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, message string) (*ChatResponse, error) {
	req := sendMessageRequest{Message: message}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}

	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConversations returns the user's conversations, newest first. limit <= 0
// means the backend default.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations"+limitQuery(limit), nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages" + limitQuery(limit)
	var msgs []ChatMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
