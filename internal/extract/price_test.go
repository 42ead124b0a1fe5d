package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"plain integer", "499", 499, true},
		{"dot decimal", "499.00", 499, true},
		{"comma decimal", "499,00", 499, true},
		{"hryvnia comma decimal", "Грн 499,00", 499, true},
		{"symbol prefix", "$1,234.56", 1234.56, true},
		{"comma thousands", "1,234", 1234, true},
		{"dot thousands", "1.234", 1234, true},
		{"space thousands comma decimal", "1 234,56", 1234.56, true},
		{"multiple comma groups", "1,234,567", 1234567, false},
		{"nbsp thousands", "12 500", 12500, true},
		{"eur suffix", "99,95 €", 99.95, true},
		{"zero rejected", "0.00", 0, false},
		{"negative-free garbage", "free", 0, false},
		{"empty", "", 0, false},
		{"absurdly large is parse failure", "99999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePrice(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}
