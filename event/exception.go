package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PanicError wraps a value recovered from a handler panic
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.Value)
}

// ExceptionLog is the append-only audit trail of event handling failures
type ExceptionLog struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// traceback renders the stack of err: a recovered panic's stack, or the
// stack recorded by pkg/errors
func traceback(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return string(p.Stack)
	}
	return fmt.Sprintf("%+v", err)
}

// errorBody returns the body to store for err as JSON
func errorBody(err error) datatypes.JSON {
	body := external.Body(err)
	if len(body) > 0 && json.Valid(body) {
		return datatypes.JSON(body)
	}
	if len(body) == 0 {
		body = []byte(err.Error())
	}
	b, _ := json.Marshal(string(body))
	return datatypes.JSON(b)
}

// Log appends a record of err, linked to e when it is not nil
func (l *ExceptionLog) Log(ctx context.Context, err error, e *Event) (*EventProcessingException, error) {
	row := &EventProcessingException{
		Data:      errorBody(err),
		Message:   err.Error(),
		Traceback: traceback(err),
	}
	if e != nil {
		row.EventID = &e.ID
	}
	if result := l.DB.WithContext(ctx).Create(row); result.Error != nil {
		l.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot record event processing exception")
	}
	return row, nil
}

// List returns the most recent exceptions, newest first
func (l *ExceptionLog) List(ctx context.Context, limit int) ([]EventProcessingException, error) {
	results := make([]EventProcessingException, 0)
	result := l.DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&results)
	if result.Error != nil {
		l.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list exceptions")
	}
	return results, nil
}

// ListForEvent returns the exceptions of one event, newest first
func (l *ExceptionLog) ListForEvent(ctx context.Context, eventID string) ([]EventProcessingException, error) {
	results := make([]EventProcessingException, 0)
	result := l.DB.WithContext(ctx).Where("event_id = ?", eventID).Order("id desc").Find(&results)
	if result.Error != nil {
		l.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list exceptions of event")
	}
	return results, nil
}
