package external

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Object is a decoded Stripe API object. Numbers are kept as json.Number so
// that integer amounts and timestamps survive decoding without loss.
type Object map[string]interface{}

// DecodeObject decodes a JSON document into an Object
func DecodeObject(b []byte) (Object, error) {
	obj := Object{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// ID returns the "id" field of the object
func (o Object) ID() string {
	return o.String("id")
}

// Kind returns the "object" field, e.g. "customer" or "invoice"
func (o Object) Kind() string {
	return o.String("object")
}

func (o Object) String(key string) string {
	if o == nil {
		return ""
	}
	switch v := o[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func (o Object) Bool(key string) bool {
	if o == nil {
		return false
	}
	b, _ := o[key].(bool)
	return b
}

func (o Object) Int(key string) int64 {
	if o == nil {
		return 0
	}
	switch v := o[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return int64(f)
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	}
	return 0
}

// Has reports whether the key is present and not null
func (o Object) Has(key string) bool {
	if o == nil {
		return false
	}
	v, ok := o[key]
	return ok && v != nil
}

// Time converts a unix timestamp field. Missing or null fields yield nil.
func (o Object) Time(key string) *time.Time {
	if !o.Has(key) {
		return nil
	}
	t := time.Unix(o.Int(key), 0).UTC()
	return &t
}

// Cents converts an integer amount in minor units into a decimal amount
func (o Object) Cents(key string) decimal.Decimal {
	return decimal.New(o.Int(key), -2)
}

// Object returns a nested object, or nil if the field is absent or is only an id
func (o Object) Object(key string) Object {
	if o == nil {
		return nil
	}
	switch v := o[key].(type) {
	case map[string]interface{}:
		return Object(v)
	case Object:
		return v
	}
	return nil
}

// Ref returns the id of a related object, whether the field holds the id
// itself or the expanded object.
func (o Object) Ref(key string) string {
	if nested := o.Object(key); nested != nil {
		return nested.ID()
	}
	return o.String(key)
}

// List returns the objects under key. Both bare arrays and Stripe list
// objects ({"object": "list", "data": [...]}) are accepted.
func (o Object) List(key string) []Object {
	if o == nil {
		return nil
	}
	var raw []interface{}
	switch v := o[key].(type) {
	case []Object:
		return v
	case []interface{}:
		raw = v
	case map[string]interface{}:
		raw, _ = v["data"].([]interface{})
	case Object:
		raw, _ = v["data"].([]interface{})
	}
	results := make([]Object, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]interface{}:
			results = append(results, Object(v))
		case Object:
			results = append(results, v)
		}
	}
	return results
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
