package mirror

import (
	"context"

	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (m *Manager) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := m.DB.WithContext(ctx).Transaction(fn)
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
	}
	return err
}

// SyncCustomer mirrors a customer and any card sources embedded in it
func (m *Manager) SyncCustomer(ctx context.Context, obj external.Object) (*Customer, error) {
	var cust *Customer
	err := m.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		cust, err = upsert[Customer](tx, obj, RelationSet{})
		if err != nil {
			return err
		}
		rel := RelationSet{CustomerID: &cust.ID}
		sources := append([]external.Object{}, obj.List("sources")...)
		if expanded := obj.Object("default_source"); expanded != nil {
			sources = append(sources, expanded)
		}
		for _, source := range sources {
			if source.Kind() != "card" {
				continue
			}
			if _, err := upsert[Card](tx, source, rel); err != nil {
				return err
			}
		}
		return unlinkForeignDefaultSource(tx, cust)
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror customer")
	}
	m.Metrics.Mirrored("customer")
	return cust, nil
}

// unlinkForeignDefaultSource clears a default source that is not a mirrored
// card of the customer, e.g. a bank account
func unlinkForeignDefaultSource(tx *gorm.DB, cust *Customer) error {
	if cust.DefaultSourceID == nil {
		return nil
	}
	var cards int64
	if err := tx.Model(&Card{}).
		Where("id = ? AND customer_id = ?", *cust.DefaultSourceID, cust.ID).
		Count(&cards).Error; err != nil {
		return err
	}
	if cards > 0 {
		return nil
	}
	if err := tx.Model(&Customer{}).Where("id = ?", cust.ID).Update("default_source_id", nil).Error; err != nil {
		return err
	}
	cust.DefaultSourceID = nil
	return nil
}

// resolveCustomer returns the id of the customer owning obj, mirroring the
// customer first when it is not known locally.
func (m *Manager) resolveCustomer(ctx context.Context, obj external.Object) (string, error) {
	id := obj.Ref("customer")
	if id == "" {
		return "", &LinkageMissingError{Kind: obj.Kind(), ID: obj.ID(), Relation: "customer"}
	}
	ok, err := m.exists(ctx, &Customer{}, id)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	remote := obj.Object("customer")
	if remote == nil {
		remote, err = m.Provider.Retrieve(ctx, external.Path(external.Customers, id))
		if external.IsNotFound(err) {
			return "", &LinkageMissingError{Kind: obj.Kind(), ID: obj.ID(), Relation: "customer", Err: err}
		}
		if err != nil {
			m.Logger.Error("Stripe returned error",
				zap.String("CustomerID", id),
				zap.Error(err),
			)
			return "", extErrors.Wrap(err, "Cannot retrieve customer for linkage")
		}
	}
	if _, err := m.SyncCustomer(ctx, remote); err != nil {
		return "", err
	}
	return id, nil
}

// SyncCard mirrors a card source. The owning customer is mandatory.
func (m *Manager) SyncCard(ctx context.Context, obj external.Object) (*Card, error) {
	customerID, err := m.resolveCustomer(ctx, obj)
	if err != nil {
		return nil, err
	}
	var card *Card
	err = m.transaction(ctx, func(tx *gorm.DB) error {
		card, err = upsert[Card](tx, obj, RelationSet{CustomerID: &customerID})
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror card")
	}
	m.Metrics.Mirrored("card")
	return card, nil
}

func (m *Manager) SyncPlan(ctx context.Context, obj external.Object) (*Plan, error) {
	var plan *Plan
	err := m.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		plan, err = upsert[Plan](tx, obj, RelationSet{})
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror plan")
	}
	m.Metrics.Mirrored("plan")
	return plan, nil
}

// subscriptionPlan finds the plan of a subscription, either directly or
// through its first item
func subscriptionPlan(obj external.Object) (external.Object, string) {
	if plan := obj.Object("plan"); plan != nil {
		return plan, plan.ID()
	}
	if ref := obj.Ref("plan"); ref != "" {
		return nil, ref
	}
	for _, item := range obj.List("items") {
		if plan := item.Object("plan"); plan != nil {
			return plan, plan.ID()
		}
	}
	return nil, ""
}

// SyncSubscription mirrors a subscription and its plan
func (m *Manager) SyncSubscription(ctx context.Context, obj external.Object) (*Subscription, error) {
	customerID, err := m.resolveCustomer(ctx, obj)
	if err != nil {
		return nil, err
	}
	planObj, planID := subscriptionPlan(obj)
	rel := RelationSet{
		CustomerID: &customerID,
		PlanID:     external.StringPtr(planID),
	}

	var sub *Subscription
	err = m.transaction(ctx, func(tx *gorm.DB) error {
		if planObj != nil {
			if _, err := upsert[Plan](tx, planObj, RelationSet{}); err != nil {
				return err
			}
		}
		sub, err = upsert[Subscription](tx, obj, rel)
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror subscription")
	}
	m.Metrics.Mirrored("subscription")
	return sub, nil
}

func (m *Manager) SyncAccount(ctx context.Context, obj external.Object) (*Account, error) {
	var acct *Account
	err := m.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		acct, err = upsert[Account](tx, obj, RelationSet{})
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror account")
	}
	m.Metrics.Mirrored("account")
	return acct, nil
}

// DefaultAccount returns the platform account, retrieving and mirroring it
// on first use.
func (m *Manager) DefaultAccount(ctx context.Context) (*Account, error) {
	m.accountMu.Lock()
	defer m.accountMu.Unlock()

	if m.defaultAccount != nil {
		acct := *m.defaultAccount
		return &acct, nil
	}
	obj, err := m.Provider.Retrieve(ctx, external.PlatformAccountPath())
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot retrieve default account")
	}
	acct, err := m.SyncAccount(ctx, obj)
	if err != nil {
		return nil, err
	}
	m.defaultAccount = acct
	copied := *acct
	return &copied, nil
}

func (m *Manager) resolveAccount(ctx context.Context, obj external.Object) (string, error) {
	ref := obj.Ref("destination")
	if ref == "" {
		ref = obj.Ref("on_behalf_of")
	}
	if ref == "" {
		if data := obj.Object("transfer_data"); data != nil {
			ref = data.Ref("destination")
		}
	}
	if ref == "" {
		acct, err := m.DefaultAccount(ctx)
		if err != nil {
			return "", err
		}
		return acct.ID, nil
	}

	ok, err := m.exists(ctx, &Account{}, ref)
	if err != nil || ok {
		return ref, err
	}
	remote, err := m.Provider.Retrieve(ctx, external.Path(external.Accounts, ref))
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.String("AccountID", ref),
			zap.Error(err),
		)
		return "", extErrors.Wrap(err, "Cannot retrieve destination account")
	}
	if _, err := m.SyncAccount(ctx, remote); err != nil {
		return "", err
	}
	return ref, nil
}

// localRef returns the reference under key only if that row is mirrored
func (m *Manager) localRef(ctx context.Context, obj external.Object, key string, model interface{}) (*string, error) {
	ref := obj.Ref(key)
	if ref == "" {
		return nil, nil
	}
	ok, err := m.exists(ctx, model, ref)
	if err != nil || !ok {
		return nil, err
	}
	return &ref, nil
}

func (m *Manager) chargeRelations(ctx context.Context, obj external.Object) (RelationSet, error) {
	var rel RelationSet
	customerID, err := m.resolveCustomer(ctx, obj)
	if err != nil {
		return rel, err
	}
	rel.CustomerID = &customerID

	if rel.InvoiceID, err = m.localRef(ctx, obj, "invoice", &Invoice{}); err != nil {
		return rel, err
	}
	if rel.TransferID, err = m.localRef(ctx, obj, "transfer", &Transfer{}); err != nil {
		return rel, err
	}
	accountID, err := m.resolveAccount(ctx, obj)
	if err != nil {
		return rel, err
	}
	rel.AccountID = &accountID

	if source := obj.Object("source"); source != nil && source.Kind() == "card" {
		rel.SourceID = external.StringPtr(source.ID())
	}
	return rel, nil
}

// SyncCharge mirrors a charge. The customer is mandatory, the account falls
// back to the default account and a card source is mirrored alongside.
func (m *Manager) SyncCharge(ctx context.Context, obj external.Object) (*Charge, error) {
	rel, err := m.chargeRelations(ctx, obj)
	if err != nil {
		return nil, err
	}
	var charge *Charge
	err = m.transaction(ctx, func(tx *gorm.DB) error {
		if rel.SourceID != nil {
			if _, err := upsert[Card](tx, obj.Object("source"), RelationSet{CustomerID: rel.CustomerID}); err != nil {
				return err
			}
		}
		charge, err = upsert[Charge](tx, obj, rel)
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot mirror charge")
	}
	m.Metrics.Mirrored("charge")
	return charge, nil
}
