package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/metric"

	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var validate *validator.Validate = validator.New()

// ErrInvalidEnvelope is returned by Record for payloads without id, type or data
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is the minimal shape of a webhook payload
type Envelope struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Livemode bool            `json:"livemode"`
	Data     json.RawMessage `json:"data" validate:"required"`
}

type ManagerOptions struct {
	Provider external.Provider
	DB       *gorm.DB
	Logger   *zap.Logger
	Metrics  *metric.Metrics
	Clock    func() time.Time
}

// Manager stores, validates and lists webhook events
type Manager struct {
	ManagerOptions
	Exceptions *ExceptionLog
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if err := option.DB.AutoMigrate(&Event{}, &EventProcessingException{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize event.Manager")
	}
	return &Manager{
		ManagerOptions: option,
		Exceptions: &ExceptionLog{
			DB:     option.DB,
			Logger: option.Logger,
		},
	}, nil
}

func (m *Manager) Now() time.Time {
	return m.Clock()
}

// Record stores a webhook payload. It reports false, together with the
// stored row, when the event was received before.
func (m *Manager) Record(ctx context.Context, body []byte) (*Event, bool, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		m.Metrics.Received("invalid")
		return nil, false, extErrors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	if err := validate.Struct(&env); err != nil {
		m.Metrics.Received("invalid")
		return nil, false, extErrors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	data, err := external.DecodeObject(env.Data)
	if err != nil || data == nil {
		m.Metrics.Received("invalid")
		return nil, false, extErrors.Wrap(ErrInvalidEnvelope, "data must be an object")
	}

	row := &Event{
		ID:             env.ID,
		Type:           env.Type,
		Livemode:       env.Livemode,
		CustomerID:     external.StringPtr(customerOf(data.Object("object"))),
		WebhookMessage: datatypes.JSON(body),
	}
	logger := m.Logger.With(
		zap.String("EventID", row.ID),
		zap.String("EventType", row.Type),
	)

	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, false, extErrors.Wrap(result.Error, "Cannot record event")
	}
	if result.RowsAffected == 0 {
		m.Metrics.Received("duplicate")
		stored, err := m.Get(ctx, row.ID)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}
	m.Metrics.Received("new")
	logger.Debug("Recorded event")
	return row, true, nil
}

// customerOf finds the customer an event object belongs to
func customerOf(obj external.Object) string {
	if obj.Kind() == "customer" {
		return obj.ID()
	}
	return obj.Ref("customer")
}

// Get will try to return the event in the database by id
func (m *Manager) Get(ctx context.Context, id string) (*Event, error) {
	var e Event
	result := m.DB.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&e)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get event by id")
	}
	if e.ID == "" {
		return nil, nil
	}
	return &e, nil
}

// Pending returns events that were never confirmed, or confirmed but not
// yet processed, oldest first
func (m *Manager) Pending(ctx context.Context, limit int) ([]Event, error) {
	results := make([]Event, 0)
	result := m.DB.WithContext(ctx).
		Where("valid IS NULL OR (valid = ? AND processed = ?)", true, false).
		Order("created_at").
		Limit(limit).
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list pending events")
	}
	return results, nil
}

// ListForCustomer returns the events of a customer, newest first
func (m *Manager) ListForCustomer(ctx context.Context, customerID string, limit int) ([]Event, error) {
	results := make([]Event, 0)
	result := m.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Limit(limit).
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list customer events")
	}
	return results, nil
}
