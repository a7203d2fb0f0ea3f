// Package signal implements the bidirectional signaling protocol spoken with
// peers: JSON frames carrying requests (answered with accept or reject),
// responses and unsolicited notifications, multiplexed over one connection.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one signaling frame. Exactly one of Request, Response or
// Notification is set.
type Message struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	ID           int64           `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	OK           bool            `json:"ok,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
}

func newRequest(id int64, method string, data json.RawMessage) Message {
	return Message{Request: true, ID: id, Method: method, Data: data}
}

func newNotification(method string, data json.RawMessage) Message {
	return Message{Notification: true, Method: method, Data: data}
}

func newAccept(id int64, data json.RawMessage) Message {
	return Message{Response: true, ID: id, OK: true, Data: data}
}

func newReject(id int64, err error) Message {
	code, reason := CodeInternal, err.Error()
	var serr *Error
	if errors.As(err, &serr) {
		code = serr.Code
	}
	return Message{Response: true, ID: id, ErrorCode: code, ErrorReason: reason}
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal data: %w", err)
	}
	return b, nil
}

// Rejection status codes.
const (
	CodeBadRequest = 400
	CodeForbidden  = 403
	CodeNotFound   = 404
	CodeInternal   = 500
)

// Error is a request rejection with a status code.
type Error struct {
	Code   int
	Reason string
}

func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.Reason }
