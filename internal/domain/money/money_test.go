package money_test

import (
	"encoding/json"
	"testing"

	"bank-saga/internal/domain/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"integer", "10", "10", false},
		{"decimal", "10.50", "10.5", false},
		{"zero", "0", "0", false},
		{"negative", "-1", "", true},
		{"garbage", "ten", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := money.Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, a.String())
			}
		})
	}
}

func TestParsePositive(t *testing.T) {
	_, err := money.ParsePositive("0")
	assert.ErrorIs(t, err, money.ErrNotPositive)

	_, err = money.ParsePositive("0.01")
	assert.NoError(t, err)
}

func TestArithmeticIsExact(t *testing.T) {
	a := money.MustParse("0.1")
	b := money.MustParse("0.2")
	assert.Equal(t, "0.3", a.Add(b).String())

	balance := money.MustParse("10")
	assert.Equal(t, "4.99", balance.Sub(money.MustParse("5.01")).String())
}

func TestSignHelpers(t *testing.T) {
	assert.True(t, money.MustParse("5").Neg().IsNegative())
	assert.True(t, money.Zero().IsZero())
	assert.True(t, money.MustParse("5").GreaterOrEqual(money.MustParse("5")))
	assert.False(t, money.MustParse("4.99").GreaterOrEqual(money.MustParse("5")))
}

func TestJSONRoundTripsAsDecimalString(t *testing.T) {
	a := money.MustParse("10.50")

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"10.5"`, string(data))

	var back money.Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, a.Equal(back))
}
