package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zllovesuki/stripemirror/mirror"
	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	extErrors "github.com/pkg/errors"
)

var _ mirror.ReceiptSender = &ReceiptNotifier{}

// ReceiptNotifier hands charge receipts to the mailer as notifications
type ReceiptNotifier struct {
	Producer broker.Producer
}

func NewReceiptNotifier(producer broker.Producer) (*ReceiptNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	return &ReceiptNotifier{
		Producer: producer,
	}, nil
}

func (r *ReceiptNotifier) SendReceipt(ctx context.Context, charge *mirror.Charge) error {
	data, err := json.Marshal(charge)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode charge for receipt")
	}
	return r.Producer.SendNotification(&spec.Notification{
		Kind:    spec.ReceiptNotification,
		EventID: charge.ID,
		Data:    data,
	})
}
