package external

import (
	"context"
	"fmt"
)

// Fields are form-encoded request parameters, using Stripe's bracket
// notation for nested keys (e.g. "metadata[subscriber]").
type Fields map[string]string

// Provider is the remote billing provider as seen by the mirror. Paths are
// relative API paths such as "/v1/customers/cus_123".
type Provider interface {
	Retrieve(ctx context.Context, path string) (Object, error)
	Post(ctx context.Context, path string, fields Fields) (Object, error)
	Delete(ctx context.Context, path string, fields Fields) (Object, error)
	List(ctx context.Context, path string, filter Fields) ([]Object, error)
}

const apiPrefix = "/v1/"

// Collection paths
const (
	Customers     = "customers"
	Subscriptions = "subscriptions"
	Plans         = "plans"
	Invoices      = "invoices"
	Charges       = "charges"
	Transfers     = "transfers"
	Accounts      = "accounts"
	Events        = "events"
)

// Path builds the path to a collection, or to one object when id is given
func Path(collection string, id ...string) string {
	p := apiPrefix + collection
	for _, segment := range id {
		p += "/" + segment
	}
	return p
}

// SourcePath is the path of a payment source attached to a customer
func SourcePath(customerID, sourceID string) string {
	if sourceID == "" {
		return fmt.Sprintf("%s%s/%s/sources", apiPrefix, Customers, customerID)
	}
	return fmt.Sprintf("%s%s/%s/sources/%s", apiPrefix, Customers, customerID, sourceID)
}

// PlatformAccountPath is the path of the account owning the API key
func PlatformAccountPath() string {
	return apiPrefix + "account"
}
