// Package handlers applies confirmed Stripe events to the local mirror.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zllovesuki/stripemirror/customer"
	"github.com/zllovesuki/stripemirror/event"
	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/mirror"

	"go.uber.org/zap"
)

type Options struct {
	Mirror    *mirror.Manager
	Customers *customer.Manager
	Logger    *zap.Logger
}

type handlers struct {
	Options
}

// Register adds the mirroring handlers of every supported event family to reg
func Register(reg *event.Registry, option Options) error {
	if reg == nil {
		return fmt.Errorf("nil Registry is invalid")
	}
	if option.Mirror == nil {
		return fmt.Errorf("nil Mirror is invalid")
	}
	if option.Customers == nil {
		return fmt.Errorf("nil Customers is invalid")
	}
	if option.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	h := &handlers{
		Options: option,
	}

	reg.RegisterCategory("customer", event.HandlerFunc(h.customer))
	reg.RegisterCategory("invoice", event.HandlerFunc(h.invoice))
	reg.RegisterCategory("invoiceitem", event.HandlerFunc(h.invoiceItem))
	reg.RegisterCategory("charge", event.HandlerFunc(h.charge))
	reg.RegisterCategory("transfer", event.HandlerFunc(h.transfer))
	reg.RegisterCategory("plan", event.HandlerFunc(h.plan))
	reg.Register("account", "updated", event.HandlerFunc(h.account))

	return nil
}

func (h *handlers) customer(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	switch {
	case subtype == "created", subtype == "updated":
		_, err := h.Mirror.SyncCustomer(ctx, data)
		return err

	case subtype == "deleted":
		err := h.Customers.Purge(ctx, data.ID())
		if errors.Is(err, customer.ErrNotMirrored) {
			h.Logger.Debug("Deleted customer was never mirrored",
				zap.String("CustomerID", data.ID()),
			)
			return nil
		}
		return err

	case strings.HasPrefix(subtype, "source."):
		// bank accounts and other sources are not mirrored
		if data.Kind() != "card" {
			return nil
		}
		if subtype == "source.deleted" {
			return h.Customers.RemoveCard(ctx, data.ID())
		}
		_, err := h.Mirror.SyncCard(ctx, data)
		return err

	case strings.HasPrefix(subtype, "subscription."):
		_, err := h.Mirror.SyncSubscription(ctx, data)
		return err
	}
	return nil
}

func (h *handlers) invoice(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	_, err := h.Mirror.SyncInvoice(ctx, data, mirror.InvoiceOptions{
		SendReceipt: subtype == "payment_succeeded",
	})
	return err
}

// invoiceItem re-mirrors the parent invoice, which carries the line items
func (h *handlers) invoiceItem(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	invoiceID := data.Ref("invoice")
	if invoiceID == "" {
		return nil
	}
	_, err := h.Mirror.Retrieve(ctx, external.Path(external.Invoices, invoiceID))
	return err
}

func (h *handlers) charge(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	// charge.dispute.* carries a dispute
	if data.Kind() != "charge" {
		return nil
	}
	_, err := h.Mirror.SyncCharge(ctx, data)
	return err
}

func (h *handlers) transfer(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	_, err := h.Mirror.SyncTransfer(ctx, data, mirror.TransferOptions{
		EventID:   e.ID,
		EventType: e.Type,
	})
	return err
}

func (h *handlers) plan(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	if subtype == "deleted" {
		return nil
	}
	_, err := h.Mirror.SyncPlan(ctx, data)
	return err
}

func (h *handlers) account(ctx context.Context, e *event.Event, data external.Object, category, subtype string) error {
	_, err := h.Mirror.SyncAccount(ctx, data)
	return err
}
