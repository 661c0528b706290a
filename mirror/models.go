package mirror

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer mirrors a Stripe customer. Rows are never deleted, only purged.
type Customer struct {
	ID              string     `json:"id" gorm:"primaryKey"`            // Corresponds to Stripe's customer ID
	SubscriberID    *string    `json:"subscriberId" gorm:"uniqueIndex"` // Local identity owning this customer, cleared on purge
	Email           string     `json:"email"`
	DefaultSourceID *string    `json:"defaultSourceId"` // Payment source used when none is given for a charge
	Balance         int64      `json:"balance"`         // In minor units
	Currency        string     `json:"currency"`
	Delinquent      bool       `json:"delinquent"`
	DatePurged      *time.Time `json:"datePurged"` // Non-nil once anonymized
	Cards           []Card     `json:"cards,omitempty" gorm:"foreignKey:CustomerID"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Card is a card payment source attached to a customer
type Card struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	CustomerID  string    `json:"customerId" gorm:"index;not null"`
	Brand       string    `json:"brand"`
	Last4       string    `json:"last4"`
	ExpMonth    int64     `json:"expMonth"`
	ExpYear     int64     `json:"expYear"`
	Country     string    `json:"country"`
	Fingerprint string    `json:"fingerprint"`
	Funding     string    `json:"funding"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Plan is a pricing definition. Only Name may change after creation.
type Plan struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(7,2)"`
	Currency        string          `json:"currency"`
	Interval        string          `json:"interval"`
	IntervalCount   int64           `json:"intervalCount"`
	TrialPeriodDays *int64          `json:"trialPeriodDays"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Subscription statuses as reported by Stripe
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

type Subscription struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	CustomerID         string     `json:"customerId" gorm:"index;not null"`
	PlanID             string     `json:"planId" gorm:"index"`
	Quantity           int64      `json:"quantity"`
	Status             string     `json:"status"`
	Start              time.Time  `json:"start"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd"`
	TrialStart         *time.Time `json:"trialStart"`
	TrialEnd           *time.Time `json:"trialEnd"`
	CanceledAt         *time.Time `json:"canceledAt"`
	EndedAt            *time.Time `json:"endedAt"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type Invoice struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	CustomerID   string          `json:"customerId" gorm:"index;not null"`
	ChargeID     *string         `json:"chargeId"`
	Attempted    bool            `json:"attempted"`
	AttemptCount int64           `json:"attemptCount"`
	Paid         bool            `json:"paid"`
	Closed       bool            `json:"closed"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:decimal(9,2)"`
	Total        decimal.Decimal `json:"total" gorm:"type:decimal(9,2)"`
	Currency     string          `json:"currency"`
	Date         *time.Time      `json:"date"`
	PeriodStart  *time.Time      `json:"periodStart"`
	PeriodEnd    *time.Time      `json:"periodEnd"` // Period end of the last line item processed
	Items        []InvoiceItem   `json:"items,omitempty" gorm:"foreignKey:InvoiceID"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type InvoiceItem struct {
	ID          string          `json:"id" gorm:"primaryKey"` // Corresponds to the invoice line ID
	InvoiceID   string          `json:"invoiceId" gorm:"index;not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(7,2)"`
	Currency    string          `json:"currency"`
	PeriodStart *time.Time      `json:"periodStart"`
	PeriodEnd   *time.Time      `json:"periodEnd"`
	Proration   bool            `json:"proration"`
	LineType    string          `json:"lineType"`
	Description string          `json:"description"`
	PlanID      *string         `json:"planId"`
	Quantity    int64           `json:"quantity"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Charge struct {
	ID             string          `json:"id" gorm:"primaryKey"`
	CustomerID     string          `json:"customerId" gorm:"index;not null"`
	InvoiceID      *string         `json:"invoiceId" gorm:"index"`
	TransferID     *string         `json:"transferId"`
	AccountID      *string         `json:"accountId"`
	SourceID       *string         `json:"sourceId"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(9,2)"`
	AmountRefunded decimal.Decimal `json:"amountRefunded" gorm:"type:decimal(9,2)"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	Paid           bool            `json:"paid"`
	Refunded       bool            `json:"refunded"`
	Captured       bool            `json:"captured"`
	Disputed       bool            `json:"disputed"`
	Description    string          `json:"description"`
	FailureCode    string          `json:"failureCode"`
	FailureMessage string          `json:"failureMessage"`
	ReceiptSent    bool            `json:"receiptSent"` // Local only, guards at-most-once receipts
	Created        *time.Time      `json:"created"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Transfer struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	EventID     *string         `json:"eventId" gorm:"index"` // Event that first introduced the transfer
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(9,2)"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Date        *time.Time      `json:"date"`
	Description string          `json:"description"`
	Destination string          `json:"destination"`
	Fees        []TransferFee   `json:"fees,omitempty" gorm:"foreignKey:TransferID"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TransferFee rows are written once, when the transfer is first mirrored
type TransferFee struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	TransferID  string          `json:"transferId" gorm:"index;not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(7,2)"`
	Application string          `json:"application"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Account struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	Email           string    `json:"email"`
	BusinessName    string    `json:"businessName"`
	Country         string    `json:"country"`
	DefaultCurrency string    `json:"defaultCurrency"`
	ChargesEnabled  bool      `json:"chargesEnabled"`
	PayoutsEnabled  bool      `json:"payoutsEnabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Models lists every mirrored model for migration
func Models() []interface{} {
	return []interface{}{
		&Account{},
		&Customer{},
		&Card{},
		&Plan{},
		&Subscription{},
		&Invoice{},
		&InvoiceItem{},
		&Transfer{},
		&TransferFee{},
		&Charge{},
	}
}
