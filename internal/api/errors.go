package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when the backend answers 401. The client has
// already cleared the stored token and notified the unauthorized hook by the
// time callers see this error.
var ErrUnauthorized = errors.New("api: unauthorized")

// Error is an application-level failure reported by the backend (non-2xx,
// excluding 401), carrying the human-readable detail from the error body.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Detail, e.Status)
}

const genericErrorDetail = "an unexpected error occurred"

// detailParsers are tried in order against an error body. Each recognizes one
// shape the backend has been observed to produce.
var detailParsers = []func([]byte) (string, bool){
	parseDetailObject,   // {"detail": "..."}
	parseValidationList, // [{"msg": "..."}, ...]
	parseRawString,      // "..."
}

func errorDetail(body []byte) string {
	for _, parse := range detailParsers {
		if detail, ok := parse(body); ok {
			return detail
		}
	}
	return genericErrorDetail
}

func parseDetailObject(body []byte) (string, bool) {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	detail := strings.TrimSpace(payload.Detail)
	return detail, detail != ""
}

func parseValidationList(body []byte) (string, bool) {
	var payload []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		return "", false
	}
	msg := strings.TrimSpace(payload[0].Msg)
	return msg, msg != ""
}

func parseRawString(body []byte) (string, bool) {
	var payload string
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	return payload, payload != ""
}
