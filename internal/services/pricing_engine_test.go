package services

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	domain "github.com/tidewatch/storefront/internal/domain"
)

func vtsProduct() Product {
	return Product{
		ID:         "prod-vts-standard",
		Name:       "Vessel Tracking",
		Type:       domain.ProductTypeVTS,
		Price:      decimal.RequireFromString("199.99"),
		CreditCost: 20,
	}
}

func vtsConfig(days int, imos ...string) *ProductConfiguration {
	return &ProductConfiguration{
		Type: domain.ProductTypeVTS,
		VTS: &domain.VTSConfiguration{
			TrackingDurationDays: days,
			SelectedCriteria:     []string{},
			VesselIMOs:           imos,
		},
	}
}

func intPtr(v int) *int { return &v }

func TestPricingEngineVTSDuration(t *testing.T) {
	engine := NewPricingEngine()

	quote, err := engine.Price(vtsProduct(), vtsConfig(72, "9074729"))
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("479.98")) {
		t.Fatalf("expected price 479.98, got %s", quote.Price)
	}
	if quote.CreditCost != 48 {
		t.Fatalf("expected 48 credits, got %d", quote.CreditCost)
	}
}

func TestPricingEngineVTSVesselFactor(t *testing.T) {
	engine := NewPricingEngine()

	tests := []struct {
		name        string
		config      *ProductConfiguration
		wantPrice   string
		wantCredits int
	}{
		{name: "no vessels clamps to one", config: vtsConfig(30), wantPrice: "199.99", wantCredits: 20},
		{name: "three vessels", config: vtsConfig(30, "9074729", "9321483", "9811000"), wantPrice: "239.99", wantCredits: 24},
		{
			name: "additional capacity counts",
			config: func() *ProductConfiguration {
				cfg := vtsConfig(30, "9074729")
				cfg.VTS.AdditionalVesselCapacity = 4
				return cfg
			}(),
			wantPrice:   "279.99",
			wantCredits: 28,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := engine.Price(vtsProduct(), tc.config)
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if !quote.Price.Equal(decimal.RequireFromString(tc.wantPrice)) {
				t.Fatalf("expected price %s, got %s", tc.wantPrice, quote.Price)
			}
			if quote.CreditCost != tc.wantCredits {
				t.Fatalf("expected %d credits, got %d", tc.wantCredits, quote.CreditCost)
			}
		})
	}
}

func TestPricingEngineReportDepth(t *testing.T) {
	engine := NewPricingEngine()
	product := Product{ID: "prod-report", Type: domain.ProductTypeReportCompliance, Price: decimal.NewFromInt(100), CreditCost: 10}

	for depth, want := range map[domain.ReportDepth]struct {
		price   string
		credits int
	}{
		domain.ReportDepthComprehensive: {"150", 15},
		domain.ReportDepthStandard:      {"100", 10},
		domain.ReportDepthBasic:         {"70", 7},
	} {
		quote, err := engine.Price(product, &ProductConfiguration{
			Type:   domain.ProductTypeReportCompliance,
			Report: &domain.ReportConfiguration{VesselIMO: "9074729", TimeframeStart: "2025-01-01", TimeframeEnd: "2025-01-31", Depth: depth},
		})
		if err != nil {
			t.Fatalf("Price(%s): %v", depth, err)
		}
		if !quote.Price.Equal(decimal.RequireFromString(want.price)) || quote.CreditCost != want.credits {
			t.Fatalf("depth %s: expected %s/%d, got %s/%d", depth, want.price, want.credits, quote.Price, quote.CreditCost)
		}
	}
}

func TestPricingEngineMaritimeAlertDuration(t *testing.T) {
	engine := NewPricingEngine()
	product := Product{ID: "prod-alert", Type: domain.ProductTypeMaritimeAlert, Price: decimal.RequireFromString("49.50"), CreditCost: 5}
	config := &ProductConfiguration{
		Type:          domain.ProductTypeMaritimeAlert,
		MaritimeAlert: &domain.MaritimeAlertConfiguration{MaritimeAlertType: domain.MaritimeAlertShip},
	}

	quote, err := engine.Price(product, config)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Price.Equal(product.Price) || quote.CreditCost != 5 {
		t.Fatalf("expected base values without duration, got %s/%d", quote.Price, quote.CreditCost)
	}

	config.MaritimeAlert.MonitoringDurationDays = intPtr(90)
	quote, err = engine.Price(product, config)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("148.5")) || quote.CreditCost != 15 {
		t.Fatalf("expected 148.50/15 for 90 days, got %s/%d", quote.Price, quote.CreditCost)
	}
}

func TestPricingEngineFlatAndNil(t *testing.T) {
	engine := NewPricingEngine()
	ams := Product{ID: "prod-ams", Type: domain.ProductTypeAMS, Price: decimal.RequireFromString("349.00"), CreditCost: 35}

	quote, err := engine.Price(ams, &ProductConfiguration{
		Type: domain.ProductTypeAMS,
		AMS:  &domain.AMSConfiguration{MonitoringDurationDays: 90, AOIDefinition: domain.Geometry(`{}`), UpdateFrequencyHours: 6},
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Price.Equal(ams.Price) || quote.CreditCost != ams.CreditCost {
		t.Fatalf("expected flat AMS price, got %s/%d", quote.Price, quote.CreditCost)
	}

	quote, err = engine.Price(vtsProduct(), nil)
	if err != nil {
		t.Fatalf("Price(nil): %v", err)
	}
	if !quote.Price.Equal(vtsProduct().Price) || quote.CreditCost != 20 {
		t.Fatalf("expected base values for nil configuration, got %s/%d", quote.Price, quote.CreditCost)
	}
}

func TestPricingEngineRejectsMismatchedConfiguration(t *testing.T) {
	engine := NewPricingEngine()
	_, err := engine.Price(vtsProduct(), &ProductConfiguration{
		Type:          domain.ProductTypeMaritimeAlert,
		MaritimeAlert: &domain.MaritimeAlertConfiguration{MaritimeAlertType: domain.MaritimeAlertArea},
	})
	if !errors.Is(err, ErrPricingTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}

	_, err = engine.Price(vtsProduct(), &ProductConfiguration{Type: domain.ProductTypeVTS})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input for missing variant, got %v", err)
	}
}

func TestPricingEngineCustomRule(t *testing.T) {
	doubleFTS := PricingRuleFunc(func(Product, ProductConfiguration) (Multiplier, error) {
		return Multiplier{Numerator: decimal.NewFromInt(2), Denominator: decimal.NewFromInt(1)}, nil
	})
	engine := NewPricingEngine(WithPricingRule(domain.ProductTypeFTS, doubleFTS))
	product := Product{ID: "prod-fts", Type: domain.ProductTypeFTS, Price: decimal.RequireFromString("10.25"), CreditCost: 3}

	quote, err := engine.Price(product, &ProductConfiguration{
		Type: domain.ProductTypeFTS,
		FTS:  &domain.FTSConfiguration{FleetName: "North", Vessels: []string{"9074729"}, MonitoringDurationDays: 30},
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("20.5")) || quote.CreditCost != 6 {
		t.Fatalf("expected custom rule applied, got %s/%d", quote.Price, quote.CreditCost)
	}
}

func TestPricingEngineDeterministic(t *testing.T) {
	engine := NewPricingEngine()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs price identically and never below zero", prop.ForAll(
		func(days, vessels, cents, credits int) bool {
			product := vtsProduct()
			product.Price = decimal.New(int64(cents), -2)
			product.CreditCost = credits
			imos := make([]string, vessels)
			for i := range imos {
				imos[i] = "9074729"
			}
			first, err1 := engine.Price(product, vtsConfig(days, imos...))
			second, err2 := engine.Price(product, vtsConfig(days, imos...))
			if err1 != nil || err2 != nil {
				return false
			}
			if !first.Price.Equal(second.Price) || first.CreditCost != second.CreditCost {
				return false
			}
			if first.Price.IsNegative() || first.CreditCost < 0 {
				return false
			}
			return first.Price.Exponent() >= -2 || first.Price.Equal(first.Price.Round(2))
		},
		gen.IntRange(1, 365),
		gen.IntRange(0, 25),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
