package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenantly/portal/backend/model"
)

func TestClassifyUrgency(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		expected model.Urgency
	}{
		{"gas leak is critical", []string{"I smell a GAS LEAK in the kitchen"}, model.UrgencyCritical},
		{"flooding hits critical first", []string{"basement flooding"}, model.UrgencyCritical},
		{"exposed wire", []string{"there is an exposed wire near the sink"}, model.UrgencyCritical},
		{"leak is high", []string{"Leaking kitchen faucet"}, model.UrgencyHigh},
		{"mold is high", []string{"mold in the bathroom"}, model.UrgencyHigh},
		{"no hot water is high", []string{"there is no hot water"}, model.UrgencyHigh},
		{"drip only is medium", []string{"the tap has a slow drip"}, model.UrgencyMedium},
		{"cosmetic is medium", []string{"paint scratch on door"}, model.UrgencyMedium},
		{"nothing matches", []string{"please check the doorbell"}, model.UrgencyMedium},
		{"empty", nil, model.UrgencyMedium},
		{"combined texts", []string{"kitchen", "image shows a broken pipe"}, model.UrgencyHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyUrgency(tt.texts...))
		})
	}
}

func TestClassifyUrgencyFaucetScenario(t *testing.T) {
	got := ClassifyUrgency("Leaking kitchen faucet", "Water drips constantly from the kitchen faucet and pools on the counter")
	assert.Equal(t, model.UrgencyHigh, got)
}
