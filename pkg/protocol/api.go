// Package protocol defines the request envelope and response types of the
// remote file store API.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmad-cheema/file-verse/pkg/models"
)

// Operation names a remote API call.
type Operation string

const (
	OpPing       Operation = "ping"
	OpUserCreate Operation = "user_create"
	OpUserLogin  Operation = "user_login"
	OpUserList   Operation = "user_list"
	OpDirList    Operation = "dir_list"
	OpDirCreate  Operation = "dir_create"
	OpFileCreate Operation = "file_create"
	OpFileRead   Operation = "file_read"
	OpFileDelete Operation = "file_delete"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error kinds reported by the server in the "error" field.
const (
	ErrKindInvalidSession   = "invalid_session"
	ErrKindLoginFailed      = "login_failed"
	ErrKindUnknownOperation = "unknown_operation"
	ErrKindInvalidRequest   = "invalid_request"
	ErrKindNotFound         = "not_found"
	ErrKindExists           = "already_exists"
	ErrKindNotDirectory     = "not_a_directory"
	ErrKindIsDirectory      = "is_a_directory"
	ErrKindUserExists       = "user_exists"
	ErrKindPermissionDenied = "permission_denied"
)

// Wire value of Entry.type for directories. Any other value is a file.
const EntryTypeDirectory = 1

// Fields holds the operation-specific members of an envelope.
type Fields map[string]any

// Request is the uniform envelope sent for every operation.
type Request struct {
	Operation Operation
	RequestID string
	Token     string
	Fields    Fields
}

// MarshalJSON flattens the operation fields into the envelope object.
// A "token" present in Fields wins over Request.Token.
func (r Request) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		obj[k] = v
	}
	obj["operation"] = r.Operation
	obj["request_id"] = r.RequestID
	if _, ok := obj["token"]; !ok && r.Token != "" {
		obj["token"] = r.Token
	}
	return json.Marshal(obj)
}

// UnmarshalJSON is used by servers to split an envelope back into its parts.
func (r *Request) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	op, _ := obj["operation"].(string)
	id, _ := obj["request_id"].(string)
	tok, _ := obj["token"].(string)
	delete(obj, "operation")
	delete(obj, "request_id")
	delete(obj, "token")
	r.Operation = Operation(op)
	r.RequestID = id
	r.Token = tok
	r.Fields = obj
	return nil
}

// String returns a string field or "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// WireEntry is a listing record as sent by the server.
type WireEntry struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// UnmarshalJSON accepts any JSON value for type. Anything that is not a
// number decodes as 0, so one odd record does not fail the whole listing.
func (w *WireEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string          `json:"name"`
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Name = raw.Name
	w.Type = 0
	var n float64
	if json.Unmarshal(raw.Type, &n) == nil && n == float64(int(n)) {
		w.Type = int(n)
	}
	return nil
}

// Entry converts the wire record into a models.Entry.
func (w WireEntry) Entry() models.Entry {
	kind := models.KindFile
	if w.Type == EntryTypeDirectory {
		kind = models.KindDirectory
	}
	return models.Entry{Name: w.Name, Kind: kind}
}

// Response is the reply to any envelope.
type Response struct {
	Status    string            `json:"status"`
	RequestID string            `json:"request_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Token     string            `json:"token,omitempty"`
	Entries   []WireEntry       `json:"entries,omitempty"`
	Content   string            `json:"content,omitempty"`
	Data      string            `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
	Users     []models.UserInfo `json:"users,omitempty"`
}

// OK reports whether the server accepted the request.
func (r *Response) OK() bool {
	return r.Status == StatusSuccess
}

// Valid reports whether the status is one of the two known values.
func (r *Response) Valid() bool {
	return r.Status == StatusSuccess || r.Status == StatusError
}

// SessionInvalid reports whether the server rejected the session token.
func (r *Response) SessionInvalid() bool {
	return r.Status == StatusError && r.Error == ErrKindInvalidSession
}

// Body returns the file content of a read reply. Servers use either the
// "content" or the "data" member; the first non-empty one wins, in that order.
func (r *Response) Body() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Data
}

// EntryList converts the wire entries, keeping server order.
func (r *Response) EntryList() []models.Entry {
	entries := make([]models.Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, e.Entry())
	}
	return entries
}

// Success builds a success reply.
func Success(requestID string) *Response {
	return &Response{Status: StatusSuccess, RequestID: requestID}
}

// Failure builds an error reply.
func Failure(requestID, kind string) *Response {
	return &Response{Status: StatusError, RequestID: requestID, Error: kind}
}

// APIError is returned when the server answered with status "error".
type APIError struct {
	Op     Operation
	Reason string
}

func (e *APIError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("%s: server error: %s", e.Op, reason)
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
