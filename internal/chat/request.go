package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Supported request schema version.
const Version = "v1"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is one turn of the client's conversation history.
type Message struct {
	Role    string `json:"role"    validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// Request is the POST /chat body.
type Request struct {
	Version  string    `json:"version"  validate:"required,eq=v1"`
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
}

// ValidationError reports per-field schema violations. It always maps to
// HTTP 400 and is raised before any stream byte is written.
type ValidationError struct {
	Details map[string]string `json:"details"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for f := range e.Details {
		fields = append(fields, f)
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

// ParseRequest decodes and validates a chat request body.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ValidationError{Details: map[string]string{"body": "must be a JSON object"}}
	}

	if err := validate.Struct(&req); err != nil {
		details := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fieldPath(fe)] = fieldMessage(fe)
			}
		} else {
			details["body"] = "failed validation"
		}
		return nil, &ValidationError{Details: details}
	}
	return &req, nil
}

// fieldPath turns "Request.Messages[0].Role" into "messages[0].role".
func fieldPath(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eq":
		return fmt.Sprintf("must be %q", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must not be empty"
	default:
		return "is invalid"
	}
}
