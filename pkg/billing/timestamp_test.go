package billing

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeToDate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"nil", nil},
		{"NaN", math.NaN()},
		{"zero", 0},
		{"zero float", 0.0},
		{"negative", -1},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"non numeric string", "abc"},
		{"numeric string", "1700000000"},
		{"bool", true},
		{"beyond date range", 9e12},
		{"bad json number", json.Number("x1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, SafeToDate(tt.input))
		})
	}
}

func TestSafeToDate_ConvertsSeconds(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  time.Time
	}{
		{"float64", float64(1700000000), time.Unix(1700000000, 0).UTC()},
		{"int", 1700000000, time.Unix(1700000000, 0).UTC()},
		{"int64", int64(1), time.Unix(1, 0).UTC()},
		{"json number", json.Number("1700000000"), time.Unix(1700000000, 0).UTC()},
		{"fractional", 1700000000.5, time.Unix(1700000000, int64(500*time.Millisecond)).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeToDate(tt.input)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "want %v, got %v", tt.want, *got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
