package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectAccessors(t *testing.T) {
	obj, err := DecodeObject([]byte(`{
		"id": "ch_1",
		"object": "charge",
		"amount": 1999,
		"paid": true,
		"created": 1500000000,
		"customer": "cus_1",
		"source": {"id": "card_1", "object": "card"},
		"refunds": {"object": "list", "data": [{"id": "re_1"}, {"id": "re_2"}]},
		"invoice": null
	}`))
	require.NoError(t, err)

	assert.Equal(t, "ch_1", obj.ID())
	assert.Equal(t, "charge", obj.Kind())
	assert.Equal(t, int64(1999), obj.Int("amount"))
	assert.Equal(t, "19.99", obj.Cents("amount").String())
	assert.True(t, obj.Bool("paid"))
	assert.Equal(t, int64(1500000000), obj.Time("created").Unix())
	assert.Equal(t, "cus_1", obj.Ref("customer"))
	assert.Equal(t, "card_1", obj.Ref("source"))
	assert.Equal(t, "card", obj.Object("source").Kind())
	assert.Len(t, obj.List("refunds"), 2)

	assert.False(t, obj.Has("invoice"))
	assert.Nil(t, obj.Time("invoice"))
	assert.Empty(t, obj.Ref("invoice"))
	assert.Nil(t, obj.Object("customer"))
}

func TestNilObject(t *testing.T) {
	var obj Object
	assert.Empty(t, obj.ID())
	assert.Zero(t, obj.Int("amount"))
	assert.Nil(t, obj.Object("x"))
	assert.Empty(t, obj.List("x"))
}
