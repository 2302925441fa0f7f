package fines

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Amount_JSON(t *testing.T) {
	raw, err := json.Marshal(NewAmount(decimal.RequireFromString("15")))
	require.NoError(t, err)
	assert.Equal(t, `"15.00"`, string(raw))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"2.5"`), &a))
	assert.Equal(t, "2.50", a.StringFixed(2))
}

func Test_Amount_RoundsToCents(t *testing.T) {
	assert.Equal(t, "0.34", NewAmount(decimal.RequireFromString("0.335")).String())
}

func Test_Amount_Value(t *testing.T) {
	v, err := NewAmount(decimal.NewFromInt(3)).Value()
	require.NoError(t, err)
	assert.Equal(t, "3.00", v)
}

func Test_Amount_Scan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan("12.50"))
	assert.Equal(t, "12.50", a.StringFixed(2))

	require.NoError(t, a.Scan([]byte("0.75")))
	assert.Equal(t, "0.75", a.StringFixed(2))
}
