package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), ErrNotFound().AddMessages("Customer not mirrored"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "Requested resources not found", body["message"])
	assert.Equal(t, []interface{}{"Customer not mirrored"}, body["messages"])
}

func TestWriteErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResponse(rec, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "cus_1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":false,"result":{"id":"cus_1"}}`, rec.Body.String())
}

func TestErrProvider(t *testing.T) {
	e := ErrProvider("card_declined")
	assert.Equal(t, 502, e.StatusCode)
	assert.Equal(t, "HTTP 502: Payment provider returned error", e.Error())
}
