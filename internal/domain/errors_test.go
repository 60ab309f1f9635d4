package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"ledger-service/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestNewError_DropsReservedFields(t *testing.T) {
	err := domain.NewError(domain.KindInsufficientFunds, "insufficient funds", domain.Fields{
		"account_id":      "a-1",
		domain.FieldStack: "forged",
		domain.FieldCause: "forged",
		domain.FieldName:  "forged",
	})

	require.Equal(t, domain.Fields{"account_id": "a-1"}, err.Fields())
	require.Equal(t, "insufficient_funds", err.Name())
	require.NotContains(t, err.Stack(), "forged")
	require.Contains(t, err.Stack(), "TestNewError_DropsReservedFields")
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("withdraw: %w", domain.NewError(domain.KindInsufficientFunds, "balance too low", nil))

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestWrapError_KeepsCause(t *testing.T) {
	cause := errors.New("unique violation")
	err := domain.WrapError(cause, domain.KindConflict, "account exists", domain.Fields{"id": "x"})

	require.ErrorIs(t, err, cause)
	require.Same(t, cause, err.Cause())
	require.Equal(t, "account exists: unique violation", err.Error())

	d := err.Describe()
	require.Equal(t, "conflict", d[domain.FieldName])
	require.Equal(t, "unique violation", d[domain.FieldCause])
	require.Equal(t, "x", d["id"])
	require.NotEmpty(t, d[domain.FieldStack])
}

func TestFields_ReturnsCopy(t *testing.T) {
	err := domain.NewError(domain.KindNotFound, "account not found", domain.Fields{"id": "a"})
	f := err.Fields()
	f["id"] = "b"
	require.Equal(t, "a", err.Fields()["id"])
}

func TestValidateCurrency(t *testing.T) {
	require.True(t, domain.ValidateCurrency("EUR"))
	require.False(t, domain.ValidateCurrency("eur"))
	require.False(t, domain.ValidateCurrency("EURO"))
	require.False(t, domain.ValidateCurrency(""))
}
