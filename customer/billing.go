package customer

import (
	"context"
	"errors"

	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"
	"github.com/zllovesuki/stripemirror/subscription"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidAmount is returned when charging a non-positive amount
var ErrInvalidAmount = errors.New("charge amount must be positive")

// Subscription returns the customer's only subscription, see subscription.Manager.Single
func (m *Manager) Subscription(ctx context.Context, id string) (*mirror.Subscription, error) {
	return m.Subscriptions.Single(ctx, id)
}

func (m *Manager) HasActiveSubscription(ctx context.Context, id, planID string) (bool, error) {
	return m.Subscriptions.HasActive(ctx, id, planID)
}

type SubscribeOptions struct {
	subscription.SubscribeOptions
	// ChargeImmediately invoices the customer right after subscribing
	ChargeImmediately bool
}

func (m *Manager) Subscribe(ctx context.Context, id, planID string, opt SubscribeOptions) (*mirror.Subscription, error) {
	if _, err := m.mustGet(ctx, id); err != nil {
		return nil, err
	}
	sub, err := m.Subscriptions.Subscribe(ctx, id, planID, opt.SubscribeOptions)
	if err != nil {
		return nil, err
	}
	if opt.ChargeImmediately {
		if _, err := m.SendInvoice(ctx, id); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func (m *Manager) CancelSubscription(ctx context.Context, id, planID string, atPeriodEnd bool) (*mirror.Subscription, error) {
	return m.Subscriptions.Cancel(ctx, id, planID, atPeriodEnd)
}

type ChargeOptions struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	// SourceID defaults to the customer's default source
	SourceID    string
	SendReceipt bool
}

// Charge charges the customer on Stripe and mirrors the charge. A receipt
// is sent at most once per charge when SendReceipt is set.
func (m *Manager) Charge(ctx context.Context, id string, opt ChargeOptions) (*mirror.Charge, error) {
	if !opt.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := m.mustGet(ctx, id); err != nil {
		return nil, err
	}
	if opt.Currency == "" {
		opt.Currency = "usd"
	}
	logger := m.Logger.With(zap.String("CustomerID", id))

	fields := external.Fields{
		"customer": id,
		"amount":   opt.Amount.Shift(2).Round(0).String(),
		"currency": opt.Currency,
	}
	if len(opt.Description) > 0 {
		fields["description"] = opt.Description
	}
	if len(opt.SourceID) > 0 {
		fields["source"] = opt.SourceID
	}
	obj, err := m.Provider.Post(ctx, external.Path(external.Charges), fields)
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot charge customer")
	}
	charge, err := m.Mirror.SyncCharge(ctx, obj)
	if err != nil {
		return nil, err
	}
	if opt.SendReceipt {
		if _, err := m.Mirror.SendReceipt(ctx, charge); err != nil {
			logger.Error("Unable to send receipt",
				zap.String("ChargeID", charge.ID),
				zap.Error(err),
			)
		}
	}
	return charge, nil
}

func invoicePayPath(invoiceID string) string {
	return external.Path(external.Invoices, invoiceID, "pay")
}

// SendInvoice creates an invoice for pending items and pays it. It reports
// false when Stripe refuses the request, e.g. when there is nothing to invoice.
func (m *Manager) SendInvoice(ctx context.Context, id string) (bool, error) {
	logger := m.Logger.With(zap.String("CustomerID", id))

	invoice, err := m.Provider.Post(ctx, external.Path(external.Invoices), external.Fields{"customer": id})
	if err == nil {
		invoice, err = m.Provider.Post(ctx, invoicePayPath(invoice.ID()), nil)
	}
	if external.IsInvalidRequest(err) {
		logger.Info("Stripe declined to invoice customer",
			zap.Error(err),
		)
		return false, nil
	}
	if err != nil {
		logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return false, extErrors.Wrap(err, "Cannot send invoice")
	}
	if _, err := m.Mirror.SyncInvoice(ctx, invoice, mirror.InvoiceOptions{}); err != nil {
		return true, err
	}
	return true, nil
}

// RetryUnpaidInvoices pays every unpaid, open invoice of the customer. An
// invoice the provider reports as already paid is skipped; any other error,
// including an already closed invoice, is returned unchanged.
func (m *Manager) RetryUnpaidInvoices(ctx context.Context, id string) error {
	if err := m.SyncInvoices(ctx, id); err != nil {
		return err
	}
	logger := m.Logger.With(zap.String("CustomerID", id))

	unpaid := make([]mirror.Invoice, 0)
	result := m.DB.WithContext(ctx).
		Where("customer_id = ? AND paid = ? AND closed = ?", id, false, false).
		Order("date").
		Find(&unpaid)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot list unpaid invoices")
	}

	for _, invoice := range unpaid {
		obj, err := m.Provider.Post(ctx, invoicePayPath(invoice.ID), nil)
		if external.IsAlreadyPaid(err) {
			logger.Info("Invoice was settled concurrently",
				zap.String("InvoiceID", invoice.ID),
			)
			continue
		}
		if err != nil {
			logger.Error("Stripe returned error",
				zap.String("InvoiceID", invoice.ID),
				zap.Error(err),
			)
			return err
		}
		if _, err := m.Mirror.SyncInvoice(ctx, obj, mirror.InvoiceOptions{}); err != nil {
			return err
		}
	}
	return nil
}
