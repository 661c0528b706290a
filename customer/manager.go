package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"
	"github.com/zllovesuki/stripemirror/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotMirrored is returned when an operation targets a customer that has
// no local row
var ErrNotMirrored = errors.New("customer is not mirrored")

// TrialDaysFunc decides the trial length of the default plan for a new
// customer. Returning nil skips the automatic subscription.
type TrialDaysFunc func(cust *mirror.Customer) *int64

type ManagerOptions struct {
	Provider      external.Provider
	Mirror        *mirror.Manager
	Subscriptions *subscription.Manager
	DB            *gorm.DB
	Logger        *zap.Logger

	DefaultPlan string
	TrialDays   TrialDaysFunc
}

// Manager handles the lifecycle of billing customers
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for customers
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Mirror == nil {
		return nil, fmt.Errorf("nil Mirror is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CreateOptions identifies the local subscriber a customer is created for
type CreateOptions struct {
	SubscriberID string `json:"subscriberId" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
}

// Create will create a new customer on Stripe, mirror it with the subscriber
// linkage and subscribe it to the default plan when configured. An existing
// customer of the same subscriber is returned as is.
func (m *Manager) Create(ctx context.Context, opt CreateOptions) (*mirror.Customer, error) {
	logger := m.Logger.With(zap.String("SubscriberID", opt.SubscriberID))

	existing, err := m.GetBySubscriber(ctx, opt.SubscriberID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	obj, err := m.Provider.Post(ctx, external.Path(external.Customers), external.Fields{
		"email":                   opt.Email,
		"metadata[subscriber_id]": opt.SubscriberID,
	})
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create a new Customer")
	}

	cust, err := m.Mirror.SyncCustomer(ctx, obj)
	if err != nil {
		return nil, err
	}
	result := m.DB.WithContext(ctx).Model(&mirror.Customer{}).Where("id = ?", cust.ID).Update("subscriber_id", opt.SubscriberID)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot link customer to subscriber")
	}
	cust.SubscriberID = &opt.SubscriberID

	if len(m.DefaultPlan) > 0 && m.TrialDays != nil {
		if days := m.TrialDays(cust); days != nil {
			if _, err := m.Subscriptions.Subscribe(ctx, cust.ID, m.DefaultPlan, subscription.SubscribeOptions{TrialDays: days}); err != nil {
				return nil, extErrors.Wrap(err, "Cannot subscribe new customer to default plan")
			}
		}
	}
	return cust, nil
}

// GetByID will try to return the customer in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*mirror.Customer, error) {
	return m.Mirror.GetCustomer(ctx, id)
}

// GetBySubscriber will try to return the customer linked to subscriberID
func (m *Manager) GetBySubscriber(ctx context.Context, subscriberID string) (*mirror.Customer, error) {
	var cust mirror.Customer
	result := m.DB.WithContext(ctx).Where("subscriber_id = ?", subscriberID).Limit(1).Find(&cust)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by subscriber")
	}
	if cust.ID == "" {
		return nil, nil
	}
	return &cust, nil
}

func (m *Manager) mustGet(ctx context.Context, id string) (*mirror.Customer, error) {
	cust, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return nil, extErrors.Wrap(ErrNotMirrored, id)
	}
	return cust, nil
}

// Purge deletes the customer on Stripe and anonymizes the local row. The
// row itself is kept and purging twice is harmless.
func (m *Manager) Purge(ctx context.Context, id string) error {
	if _, err := m.mustGet(ctx, id); err != nil {
		return err
	}
	logger := m.Logger.With(zap.String("CustomerID", id))

	if _, err := m.Provider.Delete(ctx, external.Path(external.Customers, id), nil); err != nil {
		if !external.IsNotFound(err) {
			logger.Error("Stripe returned error",
				zap.Error(err),
			)
			return extErrors.Wrap(err, "Cannot delete customer on Stripe")
		}
		logger.Info("Customer is already deleted on Stripe")
	}

	result := m.DB.WithContext(ctx).Model(&mirror.Customer{}).Where("id = ?", id).Updates(map[string]interface{}{
		"subscriber_id":     nil,
		"default_source_id": nil,
	})
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot unlink purged customer")
	}

	cards := make([]mirror.Card, 0)
	if err := m.DB.WithContext(ctx).Where("customer_id = ?", id).Find(&cards).Error; err != nil {
		return extErrors.Wrap(err, "Cannot list cards of purged customer")
	}
	for _, card := range cards {
		if err := m.RemoveCard(ctx, card.ID); err != nil {
			return err
		}
	}

	result = m.DB.WithContext(ctx).Model(&mirror.Customer{}).
		Where("id = ? AND date_purged IS NULL", id).
		Update("date_purged", m.Mirror.Now())
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot mark customer as purged")
	}
	return nil
}

// Delete is an alias of Purge, the only way a customer is ever removed
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.Purge(ctx, id)
}

// AddCard attaches the tokenized card to the customer and optionally makes
// it the default source
func (m *Manager) AddCard(ctx context.Context, id, token string, setDefault bool) (*mirror.Card, error) {
	if _, err := m.mustGet(ctx, id); err != nil {
		return nil, err
	}
	logger := m.Logger.With(zap.String("CustomerID", id))

	obj, err := m.Provider.Post(ctx, external.SourcePath(id, ""), external.Fields{"source": token})
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot add card")
	}
	card, err := m.Mirror.SyncCard(ctx, obj)
	if err != nil {
		return nil, err
	}
	if !setDefault {
		return card, nil
	}

	custObj, err := m.Provider.Post(ctx, external.Path(external.Customers, id), external.Fields{"default_source": card.ID})
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot set default card")
	}
	if _, err := m.Mirror.SyncCustomer(ctx, custObj); err != nil {
		return nil, err
	}
	return card, nil
}

// RemoveCard detaches the card on Stripe, tolerating a card that is already
// gone, then deletes the local row
func (m *Manager) RemoveCard(ctx context.Context, cardID string) error {
	var card mirror.Card
	if err := m.DB.WithContext(ctx).Where("id = ?", cardID).Limit(1).Find(&card).Error; err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot get card")
	}
	if card.ID == "" {
		return nil
	}
	logger := m.Logger.With(
		zap.String("CustomerID", card.CustomerID),
		zap.String("CardID", card.ID),
	)

	if _, err := m.Provider.Delete(ctx, external.SourcePath(card.CustomerID, card.ID), nil); err != nil {
		if !external.IsNotFound(err) {
			logger.Error("Stripe returned error",
				zap.Error(err),
			)
			return extErrors.Wrap(err, "Cannot remove card on Stripe")
		}
	}

	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", card.ID).Delete(&mirror.Card{}).Error; err != nil {
			return extErrors.Wrap(err, "Cannot delete card")
		}
		err := tx.Model(&mirror.Customer{}).
			Where("id = ? AND default_source_id = ?", card.CustomerID, card.ID).
			Update("default_source_id", nil).Error
		return extErrors.Wrap(err, "Cannot clear default source")
	})
}

// HasValidCard reports whether the customer has a default payment source
func HasValidCard(cust *mirror.Customer) bool {
	return cust != nil && cust.DefaultSourceID != nil
}

// CanCharge reports whether the customer can be charged at all
func CanCharge(cust *mirror.Customer) bool {
	return HasValidCard(cust) && cust.DatePurged == nil
}

// Sync pulls the customer from Stripe. A customer deleted remotely is purged.
func (m *Manager) Sync(ctx context.Context, id string) (*mirror.Customer, error) {
	obj, err := m.Provider.Retrieve(ctx, external.Path(external.Customers, id))
	if err != nil && !external.IsNotFound(err) {
		m.Logger.Error("Stripe returned error",
			zap.String("CustomerID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot retrieve customer")
	}
	if err != nil || obj.Bool("deleted") {
		cust, getErr := m.GetByID(ctx, id)
		if getErr != nil || cust == nil {
			return nil, getErr
		}
		if err := m.Purge(ctx, id); err != nil {
			return nil, err
		}
		return m.GetByID(ctx, id)
	}
	return m.Mirror.SyncCustomer(ctx, obj)
}

// SyncInvoices mirrors every invoice of the customer
func (m *Manager) SyncInvoices(ctx context.Context, id string) error {
	objs, err := m.Provider.List(ctx, external.Path(external.Invoices), external.Fields{"customer": id})
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("CustomerID", id),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot list invoices")
	}
	for _, obj := range objs {
		if _, err := m.Mirror.SyncInvoice(ctx, obj, mirror.InvoiceOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// SyncCharges mirrors every charge of the customer
func (m *Manager) SyncCharges(ctx context.Context, id string) error {
	objs, err := m.Provider.List(ctx, external.Path(external.Charges), external.Fields{"customer": id})
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("CustomerID", id),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot list charges")
	}
	for _, obj := range objs {
		if _, err := m.Mirror.SyncCharge(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}
