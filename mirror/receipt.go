package mirror

import (
	"context"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// SendReceipt delivers the receipt for charge unless one was already sent.
// The receipt_sent flag is claimed before sending and released again if
// delivery fails, so concurrent callers send at most one receipt.
func (m *Manager) SendReceipt(ctx context.Context, charge *Charge) (bool, error) {
	if m.Receipts == nil || charge == nil {
		return false, nil
	}
	logger := m.Logger.With(zap.String("ChargeID", charge.ID))

	result := m.DB.WithContext(ctx).Model(&Charge{}).
		Where("id = ? AND receipt_sent = ?", charge.ID, false).
		Update("receipt_sent", true)
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot claim receipt")
	}
	if result.RowsAffected == 0 {
		charge.ReceiptSent = true
		return false, nil
	}

	if err := m.Receipts.SendReceipt(ctx, charge); err != nil {
		logger.Error("Unable to send receipt",
			zap.Error(err),
		)
		release := m.DB.WithContext(ctx).Model(&Charge{}).Where("id = ?", charge.ID).Update("receipt_sent", false)
		if release.Error != nil {
			logger.Error("Database returned error",
				zap.Error(release.Error),
			)
		}
		return false, extErrors.Wrap(err, "Cannot send receipt")
	}
	charge.ReceiptSent = true
	return true, nil
}
