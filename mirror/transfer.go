package mirror

import (
	"context"

	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferUpdated is the event type that triggers a remote status refresh
const TransferUpdated = "transfer.updated"

type TransferOptions struct {
	EventID   string
	EventType string
}

// SyncTransfer gets or creates a transfer. Fees are written only by the
// call that inserts the row; later calls refresh nothing but status.
func (m *Manager) SyncTransfer(ctx context.Context, obj external.Object, opt TransferOptions) (*Transfer, error) {
	id := obj.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	row := &Transfer{}
	row.applyRemote(obj, RelationSet{})
	row.EventID = external.StringPtr(opt.EventID)

	err := m.transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if result.Error != nil {
			return extErrors.Wrap(result.Error, "Cannot create transfer")
		}
		if result.RowsAffected == 0 {
			result = tx.Model(&Transfer{}).Where("id = ?", id).Update("status", obj.String("status"))
			return extErrors.Wrap(result.Error, "Cannot update transfer status")
		}

		fees := make([]TransferFee, 0)
		for _, detail := range obj.Object("summary").List("charge_fee_details") {
			fees = append(fees, TransferFee{
				TransferID:  id,
				Amount:      detail.Cents("amount"),
				Application: detail.String("application"),
				Description: detail.String("description"),
				Kind:        detail.String("type"),
			})
		}
		if len(fees) == 0 {
			return nil
		}
		return extErrors.Wrap(tx.Create(&fees).Error, "Cannot create transfer fees")
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror transfer")
	}
	m.Metrics.Mirrored("transfer")

	if opt.EventType == TransferUpdated {
		if err := m.RefreshTransferStatus(ctx, id); err != nil {
			return nil, err
		}
	}
	return m.GetTransfer(ctx, id)
}

// RefreshTransferStatus pulls the current status of a transfer from the provider
func (m *Manager) RefreshTransferStatus(ctx context.Context, id string) error {
	obj, err := m.Provider.Retrieve(ctx, external.Path(external.Transfers, id))
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("TransferID", id),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot refresh transfer status")
	}
	result := m.DB.WithContext(ctx).Model(&Transfer{}).Where("id = ?", id).Update("status", obj.String("status"))
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update transfer status")
	}
	return nil
}
