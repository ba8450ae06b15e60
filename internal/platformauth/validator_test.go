package platformauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopValidatorAlwaysRejects(t *testing.T) {
	var v TokenValidator = NoopValidator{}
	_, err := v.ValidateToken("anything")
	require.Error(t, err)
}

func TestNewValidatorRejectsUnparseableURL(t *testing.T) {
	_, err := NewValidator(context.Background(), "://not-a-url", "issuer", "aud")
	require.Error(t, err)
}
