package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"notifyhub/internal/model"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    model.DeliveryStatus
		to      model.DeliveryStatus
		allowed bool
	}{
		{model.DeliveryPending, model.DeliverySent, true},
		{model.DeliveryPending, model.DeliveryFailed, true},
		{model.DeliveryPending, model.DeliveryDelivered, false},
		{model.DeliveryPending, model.DeliveryRead, false},

		{model.DeliverySent, model.DeliveryDelivered, true},
		{model.DeliverySent, model.DeliveryRead, true},
		{model.DeliverySent, model.DeliveryFailed, true},
		{model.DeliverySent, model.DeliveryPending, false},

		{model.DeliveryDelivered, model.DeliveryRead, true},
		{model.DeliveryDelivered, model.DeliveryClicked, true},
		{model.DeliveryDelivered, model.DeliverySent, false},
		{model.DeliveryDelivered, model.DeliveryFailed, false},

		{model.DeliveryRead, model.DeliveryClicked, true},
		{model.DeliveryRead, model.DeliveryRead, false},
		{model.DeliveryRead, model.DeliverySent, false},

		// Failed records may loop or re-enter dispatch on a retry.
		{model.DeliveryFailed, model.DeliveryFailed, true},
		{model.DeliveryFailed, model.DeliveryPending, true},
		{model.DeliveryFailed, model.DeliverySent, true},
		{model.DeliveryFailed, model.DeliveryDelivered, false},

		// Clicked is terminal.
		{model.DeliveryClicked, model.DeliveryRead, false},
		{model.DeliveryClicked, model.DeliveryClicked, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, s := range []model.DeliveryStatus{
		model.DeliveryPending, model.DeliverySent, model.DeliveryDelivered,
		model.DeliveryRead, model.DeliveryFailed, model.DeliveryClicked,
	} {
		assert.True(t, s.IsValid(), string(s))
	}

	assert.False(t, model.DeliveryStatus("bounced").IsValid())
	assert.False(t, model.DeliveryStatus("").IsValid())
}
