package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultDurationDays applies when a configuration carries no duration field.
const DefaultDurationDays = 30

var (
	// ErrConfigurationVariantMissing indicates the tag names a variant that was not populated.
	ErrConfigurationVariantMissing = errors.New("configuration: variant missing for type")
	// ErrConfigurationUnknownType indicates the tag is outside the ProductType enumeration.
	ErrConfigurationUnknownType = errors.New("configuration: unknown product type")
)

// Geometry is an opaque area-of-interest payload (typically GeoJSON). It is stored and compared
// but never interpreted.
type Geometry = json.RawMessage

// ReportDepth selects the level of detail of a report product.
type ReportDepth string

const (
	ReportDepthBasic         ReportDepth = "basic"
	ReportDepthStandard      ReportDepth = "standard"
	ReportDepthComprehensive ReportDepth = "comprehensive"
)

// Valid reports whether the depth is known.
func (d ReportDepth) Valid() bool {
	switch d {
	case ReportDepthBasic, ReportDepthStandard, ReportDepthComprehensive:
		return true
	}
	return false
}

// Timeframe is an inclusive ISO date range.
type Timeframe struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// VTSConfiguration configures vessel tracking.
type VTSConfiguration struct {
	TrackingDurationDays     int      `json:"trackingDurationDays"`
	SelectedCriteria         []string `json:"selectedCriteria"`
	VesselIMOs               []string `json:"vesselIMOs"`
	AdditionalVesselCapacity int      `json:"additionalVesselCapacity,omitempty"`
}

// AMSConfiguration configures area monitoring.
type AMSConfiguration struct {
	MonitoringDurationDays int      `json:"monitoringDurationDays"`
	AOIDefinition          Geometry `json:"aoiDefinition"`
	SelectedCriteria       []string `json:"selectedCriteria"`
	UpdateFrequencyHours   int      `json:"updateFrequencyHours"`
	AreaName               string   `json:"areaName,omitempty"`
	SpecificVesselIMOs     []string `json:"specificVesselIMOs,omitempty"`
	Notes                  string   `json:"notes,omitempty"`
}

// FTSConfiguration configures fleet tracking.
type FTSConfiguration struct {
	FleetName              string   `json:"fleetName"`
	Vessels                []string `json:"vessels"`
	MonitoringDurationDays int      `json:"monitoringDurationDays"`
	SelectedCriteria       []string `json:"selectedCriteria"`
}

// ReportConfiguration configures compliance and chronology reports.
type ReportConfiguration struct {
	VesselIMO      string      `json:"vesselIMO"`
	TimeframeStart string      `json:"timeframeStart"`
	TimeframeEnd   string      `json:"timeframeEnd"`
	Depth          ReportDepth `json:"depth"`
}

// InvestigationConfiguration configures an investigation request.
type InvestigationConfiguration struct {
	InvestigationType string     `json:"investigationType"`
	VesselIMO         string     `json:"vesselIMO,omitempty"`
	Region            string     `json:"region,omitempty"`
	Timeframe         *Timeframe `json:"timeframe,omitempty"`
	AdditionalInfo    string     `json:"additionalInfo,omitempty"`
}

// MaritimeAlertConfiguration configures a custom alert rule.
type MaritimeAlertConfiguration struct {
	MaritimeAlertType      MaritimeAlertType `json:"maritimeAlertType"`
	SelectedCriteria       []string          `json:"selectedCriteria"`
	VesselIMOs             []string          `json:"vesselIMOs,omitempty"`
	AOIDefinition          Geometry          `json:"aoiDefinition,omitempty"`
	MonitoringDurationDays *int              `json:"monitoringDurationDays,omitempty"`
	UpdateFrequencyHours   *int              `json:"updateFrequencyHours,omitempty"`
	CustomRuleName         string            `json:"customRuleName,omitempty"`
	Notes                  string            `json:"notes,omitempty"`
}

// ProductConfiguration is the tagged variant carried from the configuration form through cart,
// order and entitlement. Exactly one variant pointer matching Type is populated; report types
// share the Report variant.
type ProductConfiguration struct {
	Type          ProductType
	VTS           *VTSConfiguration
	AMS           *AMSConfiguration
	FTS           *FTSConfiguration
	Report        *ReportConfiguration
	Investigation *InvestigationConfiguration
	MaritimeAlert *MaritimeAlertConfiguration
}

// Variant returns the populated variant for the configuration tag.
func (c ProductConfiguration) Variant() (any, error) {
	var (
		variant any
		present bool
	)
	switch {
	case c.Type == ProductTypeVTS:
		variant, present = c.VTS, c.VTS != nil
	case c.Type == ProductTypeAMS:
		variant, present = c.AMS, c.AMS != nil
	case c.Type == ProductTypeFTS:
		variant, present = c.FTS, c.FTS != nil
	case c.Type.IsReport():
		variant, present = c.Report, c.Report != nil
	case c.Type == ProductTypeInvestigation:
		variant, present = c.Investigation, c.Investigation != nil
	case c.Type == ProductTypeMaritimeAlert:
		variant, present = c.MaritimeAlert, c.MaritimeAlert != nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrConfigurationUnknownType, c.Type)
	}
	if !present {
		return nil, fmt.Errorf("%w %s", ErrConfigurationVariantMissing, c.Type)
	}
	return variant, nil
}

// DurationDays returns the configured entitlement duration when the variant has one.
func (c ProductConfiguration) DurationDays() (int, bool) {
	switch c.Type {
	case ProductTypeVTS:
		if c.VTS != nil && c.VTS.TrackingDurationDays > 0 {
			return c.VTS.TrackingDurationDays, true
		}
	case ProductTypeAMS:
		if c.AMS != nil && c.AMS.MonitoringDurationDays > 0 {
			return c.AMS.MonitoringDurationDays, true
		}
	case ProductTypeFTS:
		if c.FTS != nil && c.FTS.MonitoringDurationDays > 0 {
			return c.FTS.MonitoringDurationDays, true
		}
	case ProductTypeMaritimeAlert:
		if c.MaritimeAlert != nil && c.MaritimeAlert.MonitoringDurationDays != nil && *c.MaritimeAlert.MonitoringDurationDays > 0 {
			return *c.MaritimeAlert.MonitoringDurationDays, true
		}
	}
	return 0, false
}

// MarshalJSON renders the configuration as a flat object with the "type" tag alongside the variant
// fields. Keys are emitted in sorted order so equal configurations encode identically.
func (c ProductConfiguration) MarshalJSON() ([]byte, error) {
	variant, err := c.Variant()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(string(c.Type))
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a flat tagged object into the matching variant. It performs no field
// validation; callers validate through the configuration registry.
func (c *ProductConfiguration) UnmarshalJSON(data []byte) error {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}
	productType := ProductType(header.Type)
	if !productType.Valid() {
		return fmt.Errorf("%w: %q", ErrConfigurationUnknownType, header.Type)
	}

	out := ProductConfiguration{Type: productType}
	var target any
	switch {
	case productType == ProductTypeVTS:
		out.VTS = &VTSConfiguration{}
		target = out.VTS
	case productType == ProductTypeAMS:
		out.AMS = &AMSConfiguration{}
		target = out.AMS
	case productType == ProductTypeFTS:
		out.FTS = &FTSConfiguration{}
		target = out.FTS
	case productType.IsReport():
		out.Report = &ReportConfiguration{}
		target = out.Report
	case productType == ProductTypeInvestigation:
		out.Investigation = &InvestigationConfiguration{}
		target = out.Investigation
	case productType == ProductTypeMaritimeAlert:
		out.MaritimeAlert = &MaritimeAlertConfiguration{}
		target = out.MaritimeAlert
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	*c = out
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *ProductConfiguration) Clone() *ProductConfiguration {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var out ProductConfiguration
	if err := json.Unmarshal(data, &out); err != nil {
		copied := *c
		return &copied
	}
	return &out
}

// EqualConfigurations reports deep equality of two optional configurations. Nil and empty slices
// compare equal, as do geometries that differ only in whitespace or key order.
func EqualConfigurations(a, b *ProductConfiguration) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type != b.Type {
		return false
	}
	left, err := canonicalJSON(a)
	if err != nil {
		return false
	}
	right, err := canonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func canonicalJSON(c *ProductConfiguration) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	for key, value := range generic {
		switch v := value.(type) {
		case nil:
			delete(generic, key)
		case []any:
			if len(v) == 0 {
				delete(generic, key)
			}
		}
	}
	return json.Marshal(generic)
}
