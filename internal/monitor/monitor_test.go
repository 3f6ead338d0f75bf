package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
)

const validBody = `{
	"orderItems": [{"productId": "p1", "name": "Widget", "price": 10.0, "quantity": 2, "image": "/img/p1.jpg"}],
	"shippingAddress": {"address": "1 High St", "city": "London", "postalCode": "E1 1AA", "country": "GB"},
	"paymentMethod": "paypal"
}`

func TestCheckoutContractMonitor(t *testing.T) {
	cm, err := monitor.NewCheckoutContractMonitor()
	require.NoError(t, err)

	t.Run("valid body", func(t *testing.T) {
		ok, violations, err := cm.Validate([]byte(validBody))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, violations)
	})

	t.Run("empty order items", func(t *testing.T) {
		body := `{"orderItems": [], "shippingAddress": {"address":"a","city":"b","postalCode":"c","country":"d"}}`
		ok, violations, err := cm.Validate([]byte(body))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotEmpty(t, violations)
	})

	t.Run("missing shipping field", func(t *testing.T) {
		body := `{
			"orderItems": [{"productId": "p1", "price": 10.0, "quantity": 1}],
			"shippingAddress": {"address": "1 High St", "city": "London", "country": "GB"}
		}`
		ok, violations, err := cm.Validate([]byte(body))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotEmpty(t, monitor.FormatErrors(violations))
	})

	t.Run("zero quantity", func(t *testing.T) {
		body := `{
			"orderItems": [{"productId": "p1", "price": 10.0, "quantity": 0}],
			"shippingAddress": {"address": "a", "city": "b", "postalCode": "c", "country": "d"}
		}`
		ok, _, err := cm.Validate([]byte(body))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed json is a validation error", func(t *testing.T) {
		_, _, err := cm.Validate([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestFormatErrors_Empty(t *testing.T) {
	assert.Equal(t, "", monitor.FormatErrors(nil))
}
