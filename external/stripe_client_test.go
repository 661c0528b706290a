package external

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/form"
)

type backendCall struct {
	method string
	path   string
	extra  url.Values
	ctx    context.Context
}

type fakeBackend struct {
	calls     []backendCall
	responses []string
	err       error
}

func (b *fakeBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	call := backendCall{method: method, path: path, extra: url.Values{}}
	if p := params.GetParams(); p != nil {
		call.ctx = p.Context
		if p.Extra != nil {
			call.extra = p.Extra.Values
		}
	}
	b.calls = append(b.calls, call)
	if b.err != nil {
		return b.err
	}
	body := b.responses[0]
	b.responses = b.responses[1:]
	v.SetLastResponse(&stripe.APIResponse{RawJSON: []byte(body)})
	return json.Unmarshal([]byte(body), v)
}

func (b *fakeBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (b *fakeBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (b *fakeBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (b *fakeBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

func TestStripeClientRetrieve(t *testing.T) {
	backend := &fakeBackend{
		responses: []string{`{"id":"cus_1","object":"customer","balance":1234567890123}`},
	}
	client := NewStripeClientWithBackend("sk_test", backend)
	ctx := context.Background()

	obj, err := client.Retrieve(ctx, Path(Customers, "cus_1"))
	require.NoError(t, err)
	assert.Equal(t, "cus_1", obj.ID())
	assert.Equal(t, "customer", obj.Kind())
	assert.Equal(t, int64(1234567890123), obj.Int("balance"))

	require.Len(t, backend.calls, 1)
	assert.Equal(t, http.MethodGet, backend.calls[0].method)
	assert.Equal(t, "/v1/customers/cus_1", backend.calls[0].path)
	assert.Equal(t, ctx, backend.calls[0].ctx)
}

func TestStripeClientPostSendsFields(t *testing.T) {
	backend := &fakeBackend{
		responses: []string{`{"id":"cus_2","object":"customer","email":"a@example.com"}`},
	}
	client := NewStripeClientWithBackend("sk_test", backend)

	obj, err := client.Post(context.Background(), Path(Customers), Fields{"email": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", obj.String("email"))
	assert.Equal(t, http.MethodPost, backend.calls[0].method)
	assert.Equal(t, "a@example.com", backend.calls[0].extra.Get("email"))
}

func TestStripeClientListPaginates(t *testing.T) {
	backend := &fakeBackend{
		responses: []string{
			`{"object":"list","has_more":true,"data":[{"id":"in_1"},{"id":"in_2"}]}`,
			`{"object":"list","has_more":false,"data":[{"id":"in_3"}]}`,
		},
	}
	client := NewStripeClientWithBackend("sk_test", backend)

	objs, err := client.List(context.Background(), Path(Invoices), Fields{"customer": "cus_1"})
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "in_3", objs[2].ID())

	require.Len(t, backend.calls, 2)
	assert.Equal(t, "cus_1", backend.calls[0].extra.Get("customer"))
	assert.Equal(t, "100", backend.calls[0].extra.Get("limit"))
	assert.Empty(t, backend.calls[0].extra.Get("starting_after"))
	assert.Equal(t, "in_2", backend.calls[1].extra.Get("starting_after"))
}

func TestStripeClientClassifiesErrors(t *testing.T) {
	backend := &fakeBackend{
		err: &stripe.Error{
			Code:           stripe.ErrorCodeResourceMissing,
			HTTPStatusCode: http.StatusNotFound,
			Msg:            "No such customer: 'cus_gone'",
			Type:           stripe.ErrorTypeInvalidRequest,
		},
	}
	client := NewStripeClientWithBackend("sk_test", backend)

	_, err := client.Delete(context.Background(), Path(Customers, "cus_gone"), nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsInvalidRequest(err))
	assert.NotEmpty(t, Body(err))
}
