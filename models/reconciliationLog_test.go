package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/shopspring/decimal"
)

func TestCalculateAccuracy(t *testing.T) {
	cases := []struct {
		name string
		diff float64
		real float64
		want string
	}{
		{"perfect", 0, 100, "100"},
		{"small miss", 5, 100, "95"},
		{"negative diff counts absolute", -5, 100, "95"},
		{"huge miss clamps to zero", 250, 100, "0"},
	}
	for _, tc := range cases {
		got := models.CalculateAccuracy(decimal.NewFromFloat(tc.diff), decimal.NewFromFloat(tc.real))
		if !got.Valid {
			t.Fatalf("%s: expected a value", tc.name)
		}
		if got.Decimal.String() != tc.want {
			t.Fatalf("%s: accuracy = %s, expected %s", tc.name, got.Decimal, tc.want)
		}
	}
}

func TestCalculateAccuracy_NullWhenNoRealCommission(t *testing.T) {
	got := models.CalculateAccuracy(decimal.NewFromInt(5), decimal.Zero)
	if got.Valid {
		t.Fatalf("expected null accuracy when real commission is zero, got %s", got.Decimal)
	}
}

func TestCalculateAccuracy_NeverExceedsHundred(t *testing.T) {
	// A negative real commission flips the ratio sign; the clamp still holds.
	got := models.CalculateAccuracy(decimal.NewFromInt(10), decimal.NewFromInt(-100))
	if !got.Valid {
		t.Fatal("expected a value")
	}
	if got.Decimal.GreaterThan(decimal.NewFromInt(100)) || got.Decimal.LessThan(decimal.Zero) {
		t.Fatalf("accuracy %s outside [0, 100]", got.Decimal)
	}
}
