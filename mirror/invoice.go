package mirror

import (
	"context"
	"time"

	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type InvoiceOptions struct {
	// SendReceipt sends the receipt of the invoice's charge, at most once
	SendReceipt bool
}

func linePlan(line external.Object) (external.Object, *string) {
	if plan := line.Object("plan"); plan != nil {
		id := plan.ID()
		return plan, &id
	}
	return nil, external.StringPtr(line.Ref("plan"))
}

// SyncInvoice mirrors an invoice with its line items. The invoice's
// period_end is taken from the last line processed, in payload order; with
// no lines it keeps the payload's own period_end. A referenced charge is
// mirrored too.
func (m *Manager) SyncInvoice(ctx context.Context, obj external.Object, opt InvoiceOptions) (*Invoice, error) {
	customerID, err := m.resolveCustomer(ctx, obj)
	if err != nil {
		return nil, err
	}
	lines := obj.List("lines")

	var invoice *Invoice
	err = m.transaction(ctx, func(tx *gorm.DB) error {
		invoice, err = upsert[Invoice](tx, obj, RelationSet{CustomerID: &customerID})
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		var periodEnd *time.Time
		for _, line := range lines {
			planObj, planID := linePlan(line)
			if planObj != nil {
				if _, err := upsert[Plan](tx, planObj, RelationSet{}); err != nil {
					return err
				}
			}
			item, err := upsert[InvoiceItem](tx, line, RelationSet{
				InvoiceID: &invoice.ID,
				PlanID:    planID,
			})
			if err != nil {
				return err
			}
			periodEnd = item.PeriodEnd
		}

		result := tx.Model(&Invoice{}).Where("id = ?", invoice.ID).Update("period_end", periodEnd)
		if result.Error != nil {
			return extErrors.Wrap(result.Error, "Cannot set invoice period end")
		}
		invoice.PeriodEnd = periodEnd
		return nil
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror invoice")
	}
	m.Metrics.Mirrored("invoice")

	if chargeID := obj.Ref("charge"); chargeID != "" {
		if err := m.syncInvoiceCharge(ctx, obj, chargeID, opt); err != nil {
			return nil, err
		}
	}

	return m.GetInvoice(ctx, invoice.ID)
}

func (m *Manager) syncInvoiceCharge(ctx context.Context, obj external.Object, chargeID string, opt InvoiceOptions) error {
	chargeObj := obj.Object("charge")
	if chargeObj == nil {
		var err error
		chargeObj, err = m.Provider.Retrieve(ctx, external.Path(external.Charges, chargeID))
		if err != nil {
			m.Logger.Error("Stripe returned error",
				zap.String("ChargeID", chargeID),
				zap.Error(err),
			)
			return extErrors.Wrap(err, "Cannot retrieve invoice charge")
		}
	}
	charge, err := m.SyncCharge(ctx, chargeObj)
	if err != nil {
		return err
	}
	if opt.SendReceipt {
		if _, err := m.SendReceipt(ctx, charge); err != nil {
			return err
		}
	}
	return nil
}
