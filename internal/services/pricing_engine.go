package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/tidewatch/storefront/internal/domain"
)

var (
	// ErrPricingInvalidInput signals a product or configuration that cannot be priced.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingTypeMismatch is returned when the configuration belongs to another product type.
	ErrPricingTypeMismatch = errors.New("pricing: configuration type does not match product")
)

var (
	billingPeriodDays     = decimal.NewFromInt(30)
	extraVesselIncrement  = decimal.RequireFromString("0.1")
	depthMultiplierByName = map[domain.ReportDepth]decimal.Decimal{
		domain.ReportDepthComprehensive: decimal.RequireFromString("1.5"),
		domain.ReportDepthStandard:      decimal.NewFromInt(1),
		domain.ReportDepthBasic:         decimal.RequireFromString("0.7"),
	}
)

// Multiplier is an exact ratio applied to base price and credit cost. Keeping numerator and
// denominator apart lets the engine multiply fully before dividing.
type Multiplier struct {
	Numerator   decimal.Decimal
	Denominator decimal.Decimal
}

// Unit is the neutral multiplier.
func Unit() Multiplier {
	return Multiplier{Numerator: decimal.NewFromInt(1), Denominator: decimal.NewFromInt(1)}
}

// PricingRule derives the multiplier for one product type.
type PricingRule interface {
	Multiplier(product Product, config ProductConfiguration) (Multiplier, error)
}

// PricingRuleFunc adapts a function into a PricingRule.
type PricingRuleFunc func(product Product, config ProductConfiguration) (Multiplier, error)

func (f PricingRuleFunc) Multiplier(product Product, config ProductConfiguration) (Multiplier, error) {
	return f(product, config)
}

// PricingEngineOption customises the engine's rule table.
type PricingEngineOption func(*pricingEngine)

// WithPricingRule registers or replaces the rule for a product type. Types without a rule are
// flat-priced at the catalog values.
func WithPricingRule(productType ProductType, rule PricingRule) PricingEngineOption {
	return func(e *pricingEngine) {
		if rule == nil {
			delete(e.rules, productType)
			return
		}
		e.rules[productType] = rule
	}
}

type pricingEngine struct {
	rules map[ProductType]PricingRule
}

// NewPricingEngine builds an engine with the standard rules for VTS, maritime alerts and reports.
// AMS, FTS and investigations are flat-priced unless a rule is registered for them.
func NewPricingEngine(opts ...PricingEngineOption) PricingEngine {
	engine := &pricingEngine{
		rules: map[ProductType]PricingRule{
			domain.ProductTypeVTS:              PricingRuleFunc(vtsMultiplier),
			domain.ProductTypeMaritimeAlert:    PricingRuleFunc(maritimeAlertMultiplier),
			domain.ProductTypeReportCompliance: PricingRuleFunc(reportMultiplier),
			domain.ProductTypeReportChronology: PricingRuleFunc(reportMultiplier),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// Price returns the configured unit price (rounded half-up to cents) and credit cost (rounded to the
// nearest integer). A nil configuration prices at the catalog values.
func (e *pricingEngine) Price(product Product, config *ProductConfiguration) (PriceQuote, error) {
	if product.Price.IsNegative() || product.CreditCost < 0 {
		return PriceQuote{}, fmt.Errorf("%w: product %s has negative base values", ErrPricingInvalidInput, product.ID)
	}
	if config == nil {
		return PriceQuote{Price: product.Price, CreditCost: product.CreditCost}, nil
	}
	if config.Type != product.Type {
		return PriceQuote{}, fmt.Errorf("%w: %s configuration for %s product", ErrPricingTypeMismatch, config.Type, product.Type)
	}
	if _, err := config.Variant(); err != nil {
		return PriceQuote{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}

	multiplier := Unit()
	if rule, ok := e.rules[product.Type]; ok {
		var err error
		multiplier, err = rule.Multiplier(product, *config)
		if err != nil {
			return PriceQuote{}, err
		}
	}
	if !multiplier.Denominator.IsPositive() || multiplier.Numerator.IsNegative() {
		return PriceQuote{}, fmt.Errorf("%w: multiplier %s/%s", ErrPricingInvalidInput, multiplier.Numerator, multiplier.Denominator)
	}

	price := product.Price.Mul(multiplier.Numerator).Div(multiplier.Denominator).Round(2)
	credits := decimal.NewFromInt(int64(product.CreditCost)).
		Mul(multiplier.Numerator).
		Div(multiplier.Denominator).
		Round(0)
	return PriceQuote{Price: price, CreditCost: int(credits.IntPart())}, nil
}

func vtsMultiplier(_ Product, config ProductConfiguration) (Multiplier, error) {
	vts := config.VTS
	if vts.TrackingDurationDays <= 0 {
		return Multiplier{}, fmt.Errorf("%w: trackingDurationDays must be positive", ErrPricingInvalidInput)
	}
	totalVessels := len(vts.VesselIMOs) + vts.AdditionalVesselCapacity
	vesselFactor := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(totalVessels - 1)).Mul(extraVesselIncrement))
	if vesselFactor.LessThan(decimal.NewFromInt(1)) {
		vesselFactor = decimal.NewFromInt(1)
	}
	return Multiplier{
		Numerator:   decimal.NewFromInt(int64(vts.TrackingDurationDays)).Mul(vesselFactor),
		Denominator: billingPeriodDays,
	}, nil
}

func maritimeAlertMultiplier(_ Product, config ProductConfiguration) (Multiplier, error) {
	days := domain.DefaultDurationDays
	if configured := config.MaritimeAlert.MonitoringDurationDays; configured != nil {
		if *configured <= 0 {
			return Multiplier{}, fmt.Errorf("%w: monitoringDurationDays must be positive", ErrPricingInvalidInput)
		}
		days = *configured
	}
	return Multiplier{Numerator: decimal.NewFromInt(int64(days)), Denominator: billingPeriodDays}, nil
}

func reportMultiplier(_ Product, config ProductConfiguration) (Multiplier, error) {
	factor, ok := depthMultiplierByName[config.Report.Depth]
	if !ok {
		return Multiplier{}, fmt.Errorf("%w: unknown report depth %q", ErrPricingInvalidInput, config.Report.Depth)
	}
	return Multiplier{Numerator: factor, Denominator: decimal.NewFromInt(1)}, nil
}
