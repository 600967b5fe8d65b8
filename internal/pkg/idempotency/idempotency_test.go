package idempotency_test

import (
	"testing"

	"bank-saga/internal/pkg/idempotency"

	"github.com/stretchr/testify/assert"
)

func TestSagaKeyIsDeterministic(t *testing.T) {
	deposits := [][2]string{{"A1", "10.00"}}
	withdrawals := [][2]string{{"A2", "10.00"}}

	assert.Equal(t,
		idempotency.SagaKey(deposits, withdrawals),
		idempotency.SagaKey(deposits, withdrawals),
	)
}

func TestSagaKeyDistinguishesRequests(t *testing.T) {
	base := idempotency.SagaKey([][2]string{{"A1", "10.00"}}, nil)

	assert.NotEqual(t, base, idempotency.SagaKey([][2]string{{"A1", "20.00"}}, nil))
	assert.NotEqual(t, base, idempotency.SagaKey([][2]string{{"A2", "10.00"}}, nil))
	// The same posting on the other side of the ledger is a different saga.
	assert.NotEqual(t, base, idempotency.SagaKey(nil, [][2]string{{"A1", "10.00"}}))
	assert.Len(t, base, 64)
}
