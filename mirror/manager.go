package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/metric"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReceiptSender delivers a charge receipt to the customer
type ReceiptSender interface {
	SendReceipt(ctx context.Context, charge *Charge) error
}

type ManagerOptions struct {
	Provider external.Provider
	DB       *gorm.DB
	Logger   *zap.Logger
	// Receipts is optional. Without it no receipt is ever marked as sent.
	Receipts ReceiptSender
	Metrics  *metric.Metrics
	Clock    func() time.Time
}

// Manager translates provider objects into local rows
type Manager struct {
	ManagerOptions

	accountMu      sync.Mutex
	defaultAccount *Account
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
	if err := option.DB.AutoMigrate(Models()...); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize mirror.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Now returns the manager's notion of the current time
func (m *Manager) Now() time.Time {
	return m.Clock()
}

// Sync mirrors any supported object, dispatching on its "object" field
func (m *Manager) Sync(ctx context.Context, obj external.Object) (interface{}, error) {
	switch obj.Kind() {
	case "customer":
		return m.SyncCustomer(ctx, obj)
	case "card":
		return m.SyncCard(ctx, obj)
	case "plan":
		return m.SyncPlan(ctx, obj)
	case "subscription":
		return m.SyncSubscription(ctx, obj)
	case "invoice":
		return m.SyncInvoice(ctx, obj, InvoiceOptions{})
	case "charge":
		return m.SyncCharge(ctx, obj)
	case "transfer":
		return m.SyncTransfer(ctx, obj, TransferOptions{})
	case "account":
		return m.SyncAccount(ctx, obj)
	}
	return nil, extErrors.Wrapf(ErrUnsupportedKind, "Cannot mirror %q", obj.Kind())
}

// Retrieve fetches the object at path and mirrors it
func (m *Manager) Retrieve(ctx context.Context, path string) (interface{}, error) {
	obj, err := m.Provider.Retrieve(ctx, path)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("Path", path),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot retrieve object to mirror")
	}
	return m.Sync(ctx, obj)
}

// GetCustomer returns the mirrored customer, or nil if it is not mirrored
func (m *Manager) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var cust Customer
	if err := m.get(ctx, &cust, id); err != nil || cust.ID == "" {
		return nil, err
	}
	return &cust, nil
}

func (m *Manager) GetCharge(ctx context.Context, id string) (*Charge, error) {
	var charge Charge
	if err := m.get(ctx, &charge, id); err != nil || charge.ID == "" {
		return nil, err
	}
	return &charge, nil
}

func (m *Manager) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var invoice Invoice
	if err := m.get(ctx, &invoice, id, "Items"); err != nil || invoice.ID == "" {
		return nil, err
	}
	return &invoice, nil
}

func (m *Manager) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var transfer Transfer
	if err := m.get(ctx, &transfer, id, "Fees"); err != nil || transfer.ID == "" {
		return nil, err
	}
	return &transfer, nil
}

func (m *Manager) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var plan Plan
	if err := m.get(ctx, &plan, id); err != nil || plan.ID == "" {
		return nil, err
	}
	return &plan, nil
}

func (m *Manager) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := m.get(ctx, &sub, id); err != nil || sub.ID == "" {
		return nil, err
	}
	return &sub, nil
}

// get loads a row by id, leaving dest untouched when it does not exist
func (m *Manager) get(ctx context.Context, dest interface{}, id string, preload ...string) error {
	query := m.DB.WithContext(ctx)
	for _, p := range preload {
		query = query.Preload(p)
	}
	result := query.Where("id = ?", id).Limit(1).Find(dest)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot get mirrored object by id")
	}
	return nil
}

func (m *Manager) exists(ctx context.Context, model interface{}, id string) (bool, error) {
	var count int64
	result := m.DB.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot check mirrored object")
	}
	return count > 0, nil
}
