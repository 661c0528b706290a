package external

import (
	"context"
	"net/http"
	"strconv"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
)

const listPageSize = 100

// StripeClient implements Provider on top of stripe-go's backend, keeping
// payloads untyped so the mirror sees exactly what Stripe sent.
type StripeClient struct {
	backend stripe.Backend
	key     string
}

var _ Provider = &StripeClient{}

// NewStripeClient returns a Provider for the given secret key
func NewStripeClient(key string) *StripeClient {
	return NewStripeClientWithBackend(key, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeClientWithBackend is NewStripeClient with an explicit stripe.Backend
func NewStripeClientWithBackend(key string, backend stripe.Backend) *StripeClient {
	return &StripeClient{
		backend: backend,
		key:     key,
	}
}

type rawObject struct {
	stripe.APIResource
	Data Object
}

func (r *rawObject) UnmarshalJSON(b []byte) error {
	obj, err := DecodeObject(b)
	if err != nil {
		return err
	}
	r.Data = obj
	return nil
}

type rawList struct {
	stripe.APIResource
	Data    []Object
	HasMore bool
}

func (r *rawList) UnmarshalJSON(b []byte) error {
	obj, err := DecodeObject(b)
	if err != nil {
		return err
	}
	r.Data = obj.List("data")
	r.HasMore = obj.Bool("has_more")
	return nil
}

func newParams(ctx context.Context, fields Fields) *stripe.Params {
	params := &stripe.Params{
		Context: ctx,
	}
	for k, v := range fields {
		params.AddExtra(k, v)
	}
	return params
}

func (c *StripeClient) call(ctx context.Context, method, path string, fields Fields) (Object, error) {
	res := &rawObject{}
	if err := c.backend.Call(method, path, c.key, newParams(ctx, fields), res); err != nil {
		return nil, Classify(err)
	}
	return res.Data, nil
}

func (c *StripeClient) Retrieve(ctx context.Context, path string) (Object, error) {
	return c.call(ctx, http.MethodGet, path, nil)
}

func (c *StripeClient) Post(ctx context.Context, path string, fields Fields) (Object, error) {
	return c.call(ctx, http.MethodPost, path, fields)
}

func (c *StripeClient) Delete(ctx context.Context, path string, fields Fields) (Object, error) {
	return c.call(ctx, http.MethodDelete, path, fields)
}

// List walks every page of a list endpoint
func (c *StripeClient) List(ctx context.Context, path string, filter Fields) ([]Object, error) {
	results := make([]Object, 0, listPageSize)
	var startingAfter string
	for {
		fields := Fields{}
		for k, v := range filter {
			fields[k] = v
		}
		fields["limit"] = strconv.Itoa(listPageSize)
		if startingAfter != "" {
			fields["starting_after"] = startingAfter
		}

		page := &rawList{}
		if err := c.backend.Call(http.MethodGet, path, c.key, newParams(ctx, fields), page); err != nil {
			return nil, Classify(err)
		}
		results = append(results, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return results, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID()
		if startingAfter == "" {
			return nil, extErrors.New("Cannot paginate list without object ids")
		}
	}
}
