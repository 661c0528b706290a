// Package externaltest provides an in-memory external.Provider for tests.
package externaltest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/zllovesuki/stripemirror/external"

	"github.com/stripe/stripe-go/v76"
)

// Call is a recorded provider call
type Call struct {
	Method string
	Path   string
	Fields external.Fields
}

// Provider answers calls from canned objects keyed by method and path
type Provider struct {
	mu        sync.Mutex
	responses map[string]external.Object
	lists     map[string][]external.Object
	errors    map[string]error
	calls     []Call
}

var _ external.Provider = &Provider{}

func New() *Provider {
	return &Provider{
		responses: make(map[string]external.Object),
		lists:     make(map[string][]external.Object),
		errors:    make(map[string]error),
	}
}

func key(method, path string) string {
	return method + " " + path
}

// Set registers the object returned for GET path
func (p *Provider) Set(path string, obj external.Object) {
	p.Respond(http.MethodGet, path, obj)
}

// Respond registers the object returned for method and path
func (p *Provider) Respond(method, path string, obj external.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[key(method, path)] = obj
}

// SetList registers the objects returned when listing path
func (p *Provider) SetList(path string, objs ...external.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists[path] = objs
}

// Fail makes method and path return err
func (p *Provider) Fail(method, path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors[key(method, path)] = err
}

// Calls returns the recorded calls matching method and path
func (p *Provider) Calls(method, path string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]Call, 0)
	for _, c := range p.calls {
		if c.Method == method && c.Path == path {
			matched = append(matched, c)
		}
	}
	return matched
}

// AllCalls returns every recorded call in order
func (p *Provider) AllCalls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Provider) do(method, path string, fields external.Fields) (external.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Path: path, Fields: fields})
	if err, ok := p.errors[key(method, path)]; ok {
		return nil, err
	}
	if obj, ok := p.responses[key(method, path)]; ok {
		return obj, nil
	}
	return nil, NotFound(fmt.Sprintf("No such object: %s", path))
}

func (p *Provider) Retrieve(ctx context.Context, path string) (external.Object, error) {
	return p.do(http.MethodGet, path, nil)
}

func (p *Provider) Post(ctx context.Context, path string, fields external.Fields) (external.Object, error) {
	return p.do(http.MethodPost, path, fields)
}

func (p *Provider) Delete(ctx context.Context, path string, fields external.Fields) (external.Object, error) {
	return p.do(http.MethodDelete, path, fields)
}

func (p *Provider) List(ctx context.Context, path string, filter external.Fields) ([]external.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "LIST", Path: path, Fields: filter})
	if err, ok := p.errors[key("LIST", path)]; ok {
		return nil, err
	}
	return p.lists[path], nil
}

// NotFound builds a classified "resource missing" error
func NotFound(msg string) *external.Error {
	return &external.Error{
		Kind:       external.KindNotFound,
		Type:       "invalid_request_error",
		Code:       "resource_missing",
		Message:    msg,
		StatusCode: http.StatusNotFound,
		Body:       []byte(fmt.Sprintf(`{"error":{"message":%q}}`, msg)),
	}
}

// Rejected runs an invalid request error carrying msg through
// external.Classify, the way the stripe client reports it
func Rejected(msg string) error {
	return external.Classify(&stripe.Error{
		Type:           stripe.ErrorTypeInvalidRequest,
		Msg:            msg,
		HTTPStatusCode: http.StatusBadRequest,
	})
}

// InvalidRequest builds an unclassified invalid request error
func InvalidRequest(msg string) *external.Error {
	return &external.Error{
		Kind:       external.KindOther,
		Type:       "invalid_request_error",
		Message:    msg,
		StatusCode: http.StatusBadRequest,
		Body:       []byte(fmt.Sprintf(`{"error":{"message":%q}}`, msg)),
	}
}

// APIError builds a provider error that is not an invalid request
func APIError(msg string) *external.Error {
	return &external.Error{
		Kind:       external.KindOther,
		Type:       "api_error",
		Message:    msg,
		StatusCode: http.StatusInternalServerError,
		Body:       []byte(fmt.Sprintf(`{"error":{"message":%q}}`, msg)),
	}
}
