package converter

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagemill/api/internal/model"
)

// Error is a classified conversion error. The kind ends up on the failed
// job record; callers polling the job see the kind and message, never a
// raw panic or stack.
type Error struct {
	Kind    model.ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a classified error.
func Errorf(kind model.ErrorKind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Classify maps an execution error to the ErrorInfo recorded on the job.
// Deadline expiry is a timeout; anything unclassified is a conversion
// failure.
func Classify(err error) model.ErrorInfo {
	var ce *Error
	if errors.As(err, &ce) {
		return model.ErrorInfo{Kind: ce.Kind, Message: ce.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorInfo{Kind: model.ErrKindTimeout, Message: "conversion exceeded the execution timeout"}
	}
	return model.ErrorInfo{Kind: model.ErrKindConversion, Message: err.Error()}
}
