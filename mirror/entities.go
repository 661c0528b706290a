package mirror

import (
	"github.com/zllovesuki/stripemirror/external"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstString(obj external.Object, keys ...string) string {
	for _, k := range keys {
		if v := obj.String(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Customer) applyRemote(obj external.Object, rel RelationSet) {
	c.ID = obj.ID()
	c.Email = obj.String("email")
	c.DefaultSourceID = external.StringPtr(obj.Ref("default_source"))
	if obj.Has("balance") {
		c.Balance = obj.Int("balance")
	} else {
		c.Balance = obj.Int("account_balance")
	}
	c.Currency = obj.String("currency")
	c.Delinquent = obj.Bool("delinquent")
}

func (c *Customer) remoteColumns() []string {
	return []string{"email", "default_source_id", "balance", "currency", "delinquent"}
}

func (c *Card) applyRemote(obj external.Object, rel RelationSet) {
	c.ID = obj.ID()
	c.CustomerID = deref(rel.CustomerID)
	c.Brand = obj.String("brand")
	c.Last4 = obj.String("last4")
	c.ExpMonth = obj.Int("exp_month")
	c.ExpYear = obj.Int("exp_year")
	c.Country = obj.String("country")
	c.Fingerprint = obj.String("fingerprint")
	c.Funding = obj.String("funding")
}

func (c *Card) remoteColumns() []string {
	return []string{"customer_id", "brand", "last4", "exp_month", "exp_year", "country", "fingerprint", "funding"}
}

func (p *Plan) applyRemote(obj external.Object, rel RelationSet) {
	p.ID = obj.ID()
	p.Name = firstString(obj, "name", "nickname")
	p.Amount = obj.Cents("amount")
	p.Currency = obj.String("currency")
	p.Interval = obj.String("interval")
	p.IntervalCount = obj.Int("interval_count")
	if obj.Has("trial_period_days") {
		days := obj.Int("trial_period_days")
		p.TrialPeriodDays = &days
	}
}

func (p *Plan) remoteColumns() []string {
	return []string{"name", "amount", "currency", "interval", "interval_count", "trial_period_days"}
}

func (s *Subscription) applyRemote(obj external.Object, rel RelationSet) {
	s.ID = obj.ID()
	s.CustomerID = deref(rel.CustomerID)
	s.PlanID = deref(rel.PlanID)
	s.Quantity = obj.Int("quantity")
	s.Status = obj.String("status")
	if start := obj.Time("start_date"); start != nil {
		s.Start = *start
	} else if start := obj.Time("start"); start != nil {
		s.Start = *start
	}
	s.CurrentPeriodStart = obj.Time("current_period_start")
	s.CurrentPeriodEnd = obj.Time("current_period_end")
	s.TrialStart = obj.Time("trial_start")
	s.TrialEnd = obj.Time("trial_end")
	s.CanceledAt = obj.Time("canceled_at")
	s.EndedAt = obj.Time("ended_at")
	s.CancelAtPeriodEnd = obj.Bool("cancel_at_period_end")
}

func (s *Subscription) remoteColumns() []string {
	return []string{
		"customer_id", "plan_id", "quantity", "status", "start",
		"current_period_start", "current_period_end", "trial_start", "trial_end",
		"canceled_at", "ended_at", "cancel_at_period_end",
	}
}

func (i *Invoice) applyRemote(obj external.Object, rel RelationSet) {
	i.ID = obj.ID()
	i.CustomerID = deref(rel.CustomerID)
	i.ChargeID = external.StringPtr(obj.Ref("charge"))
	i.Attempted = obj.Bool("attempted")
	i.AttemptCount = obj.Int("attempt_count")
	i.Paid = obj.Bool("paid")
	status := obj.String("status")
	i.Closed = obj.Bool("closed") || status == "void" || status == "uncollectible"
	i.Subtotal = obj.Cents("subtotal")
	i.Total = obj.Cents("total")
	i.Currency = obj.String("currency")
	if obj.Has("date") {
		i.Date = obj.Time("date")
	} else {
		i.Date = obj.Time("created")
	}
	i.PeriodStart = obj.Time("period_start")
	i.PeriodEnd = obj.Time("period_end")
}

func (i *Invoice) remoteColumns() []string {
	return []string{
		"customer_id", "charge_id", "attempted", "attempt_count", "paid", "closed",
		"subtotal", "total", "currency", "date", "period_start", "period_end",
	}
}

func (i *InvoiceItem) applyRemote(obj external.Object, rel RelationSet) {
	i.ID = obj.ID()
	i.InvoiceID = deref(rel.InvoiceID)
	i.Amount = obj.Cents("amount")
	i.Currency = obj.String("currency")
	period := obj.Object("period")
	i.PeriodStart = period.Time("start")
	i.PeriodEnd = period.Time("end")
	i.Proration = obj.Bool("proration")
	i.LineType = obj.String("type")
	i.Description = obj.String("description")
	i.PlanID = rel.PlanID
	i.Quantity = obj.Int("quantity")
}

func (i *InvoiceItem) remoteColumns() []string {
	return []string{
		"invoice_id", "amount", "currency", "period_start", "period_end",
		"proration", "line_type", "description", "plan_id", "quantity",
	}
}

func (c *Charge) applyRemote(obj external.Object, rel RelationSet) {
	c.ID = obj.ID()
	c.CustomerID = deref(rel.CustomerID)
	c.InvoiceID = rel.InvoiceID
	c.TransferID = rel.TransferID
	c.AccountID = rel.AccountID
	c.SourceID = rel.SourceID
	c.Amount = obj.Cents("amount")
	c.AmountRefunded = obj.Cents("amount_refunded")
	c.Currency = obj.String("currency")
	c.Status = obj.String("status")
	c.Paid = obj.Bool("paid")
	c.Refunded = obj.Bool("refunded")
	c.Captured = obj.Bool("captured")
	c.Disputed = obj.Bool("disputed") || obj.Has("dispute")
	c.Description = obj.String("description")
	c.FailureCode = obj.String("failure_code")
	c.FailureMessage = obj.String("failure_message")
	c.Created = obj.Time("created")
}

func (c *Charge) remoteColumns() []string {
	return []string{
		"customer_id", "invoice_id", "transfer_id", "account_id", "source_id",
		"amount", "amount_refunded", "currency", "status", "paid", "refunded",
		"captured", "disputed", "description", "failure_code", "failure_message", "created",
	}
}

func (t *Transfer) applyRemote(obj external.Object, rel RelationSet) {
	t.ID = obj.ID()
	t.Amount = obj.Cents("amount")
	t.Currency = obj.String("currency")
	t.Status = obj.String("status")
	if obj.Has("date") {
		t.Date = obj.Time("date")
	} else {
		t.Date = obj.Time("created")
	}
	t.Description = obj.String("description")
	t.Destination = obj.Ref("destination")
}

func (t *Transfer) remoteColumns() []string {
	return []string{"amount", "currency", "status", "date", "description", "destination"}
}

func (a *Account) applyRemote(obj external.Object, rel RelationSet) {
	a.ID = obj.ID()
	a.Email = obj.String("email")
	a.BusinessName = obj.String("business_name")
	if profile := obj.Object("business_profile"); profile != nil && a.BusinessName == "" {
		a.BusinessName = profile.String("name")
	}
	a.Country = obj.String("country")
	a.DefaultCurrency = obj.String("default_currency")
	a.ChargesEnabled = obj.Bool("charges_enabled")
	a.PayoutsEnabled = obj.Bool("payouts_enabled") || obj.Bool("transfers_enabled")
}

func (a *Account) remoteColumns() []string {
	return []string{"email", "business_name", "country", "default_currency", "charges_enabled", "payouts_enabled"}
}
