package services

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	domain "github.com/tidewatch/storefront/internal/domain"
)

const (
	schemaBaseURL = "https://schemas.tidewatch.local/configuration/"
	isoDateLayout = "2006-01-02"
)

var (
	// ErrConfigurationInvalid is wrapped by *ValidationErrors.
	ErrConfigurationInvalid = errors.New("configuration: invalid")
	// ErrConfigurationUnknownType indicates an unsupported product type.
	ErrConfigurationUnknownType = errors.New("configuration: unknown product type")

	//go:embed schemas/*.schema.json
	configurationSchemas embed.FS

	schemaFiles = map[domain.ProductType]string{
		domain.ProductTypeVTS:              "vts.schema.json",
		domain.ProductTypeAMS:              "ams.schema.json",
		domain.ProductTypeFTS:              "fts.schema.json",
		domain.ProductTypeReportCompliance: "report.schema.json",
		domain.ProductTypeReportChronology: "report.schema.json",
		domain.ProductTypeInvestigation:    "investigation.schema.json",
		domain.ProductTypeMaritimeAlert:    "maritime_alert.schema.json",
	}

	quotedName   = regexp.MustCompile(`['"]([^'"]+)['"]`)
	imoSeparator = regexp.MustCompile(`[\s,;]+`)
)

// FieldError describes one invalid or missing configuration field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors collects every field problem found in a configuration candidate.
type ValidationErrors struct {
	Type   ProductType
	Fields []FieldError
}

func (e *ValidationErrors) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrConfigurationInvalid.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field.Field, field.Message))
	}
	return fmt.Sprintf("%s %s: %s", ErrConfigurationInvalid, e.Type, strings.Join(parts, "; "))
}

func (e *ValidationErrors) Unwrap() error { return ErrConfigurationInvalid }

func (e *ValidationErrors) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ConfigurationRegistryDeps configures the registry.
type ConfigurationRegistryDeps struct {
	Clock func() time.Time
}

type configurationRegistry struct {
	clock   func() time.Time
	schemas map[domain.ProductType]*jsonschema.Schema
	raw     map[domain.ProductType]json.RawMessage
}

// NewConfigurationRegistry compiles the configuration schema for every product type.
func NewConfigurationRegistry(deps ConfigurationRegistryDeps) (ConfigurationRegistry, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	registry := &configurationRegistry{
		clock:   clock,
		schemas: make(map[domain.ProductType]*jsonschema.Schema, len(schemaFiles)),
		raw:     make(map[domain.ProductType]json.RawMessage, len(schemaFiles)),
	}
	compiled := make(map[string]*jsonschema.Schema)
	for _, productType := range domain.ProductTypes() {
		file := schemaFiles[productType]
		data, err := configurationSchemas.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("configuration registry: read schema %s: %w", file, err)
		}
		schema, ok := compiled[file]
		if !ok {
			url := schemaBaseURL + file
			if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("configuration registry: load schema %s: %w", file, err)
			}
			if schema, err = compiler.Compile(url); err != nil {
				return nil, fmt.Errorf("configuration registry: compile schema %s: %w", file, err)
			}
			compiled[file] = schema
		}
		registry.schemas[productType] = schema
		registry.raw[productType] = json.RawMessage(data)
	}
	return registry, nil
}

func (r *configurationRegistry) DefaultConfiguration(productType ProductType) (ProductConfiguration, error) {
	config := ProductConfiguration{Type: productType}
	switch {
	case productType == domain.ProductTypeVTS:
		config.VTS = &domain.VTSConfiguration{
			TrackingDurationDays: domain.DefaultDurationDays,
			SelectedCriteria:     []string{},
			VesselIMOs:           []string{},
		}
	case productType == domain.ProductTypeAMS:
		config.AMS = &domain.AMSConfiguration{
			MonitoringDurationDays: domain.DefaultDurationDays,
			AOIDefinition:          domain.Geometry(`{}`),
			SelectedCriteria:       []string{},
			UpdateFrequencyHours:   24,
		}
	case productType == domain.ProductTypeFTS:
		config.FTS = &domain.FTSConfiguration{
			Vessels:                []string{},
			MonitoringDurationDays: domain.DefaultDurationDays,
			SelectedCriteria:       []string{},
		}
	case productType.IsReport():
		end := r.clock().UTC()
		config.Report = &domain.ReportConfiguration{
			TimeframeStart: end.AddDate(0, 0, -domain.DefaultDurationDays).Format(isoDateLayout),
			TimeframeEnd:   end.Format(isoDateLayout),
			Depth:          domain.ReportDepthStandard,
		}
	case productType == domain.ProductTypeInvestigation:
		config.Investigation = &domain.InvestigationConfiguration{InvestigationType: "general"}
	case productType == domain.ProductTypeMaritimeAlert:
		config.MaritimeAlert = &domain.MaritimeAlertConfiguration{
			MaritimeAlertType: domain.MaritimeAlertShip,
			SelectedCriteria:  []string{},
		}
	default:
		return ProductConfiguration{}, fmt.Errorf("%w: %q", ErrConfigurationUnknownType, productType)
	}
	return config, nil
}

func (r *configurationRegistry) FormSchema(productType ProductType) (json.RawMessage, error) {
	raw, ok := r.raw[productType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigurationUnknownType, productType)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// ValidateConfiguration checks the candidate against the schema of productType. Every failure is
// reported as its own field error; values are never coerced.
func (r *configurationRegistry) ValidateConfiguration(productType ProductType, candidate json.RawMessage) (ProductConfiguration, error) {
	schema, ok := r.schemas[productType]
	if !ok {
		return ProductConfiguration{}, fmt.Errorf("%w: %q", ErrConfigurationUnknownType, productType)
	}
	problems := &ValidationErrors{Type: productType}

	var instance any
	decoder := json.NewDecoder(bytes.NewReader(candidate))
	decoder.UseNumber()
	if err := decoder.Decode(&instance); err != nil {
		problems.add("$", "configuration must be a JSON object")
		return ProductConfiguration{}, problems
	}
	if object, isObject := instance.(map[string]any); isObject {
		if tag, present := object["type"]; present {
			if tagString, _ := tag.(string); tagString != string(productType) {
				problems.add("type", fmt.Sprintf("must be %s", productType))
			}
		}
	}
	if err := schema.Validate(instance); err != nil {
		var validationErr *jsonschema.ValidationError
		if !errors.As(err, &validationErr) {
			return ProductConfiguration{}, fmt.Errorf("configuration registry: validate: %w", err)
		}
		collectSchemaErrors(validationErr, problems)
	}
	if len(problems.Fields) > 0 {
		sortFieldErrors(problems.Fields)
		return ProductConfiguration{}, problems
	}

	var config ProductConfiguration
	if err := json.Unmarshal(candidate, &config); err != nil {
		problems.add("$", err.Error())
		return ProductConfiguration{}, problems
	}
	normalizeConfiguration(&config)
	checkTimeframes(&config, problems)
	if len(problems.Fields) > 0 {
		return ProductConfiguration{}, problems
	}
	return config, nil
}

// ValidateForProduct re-validates a typed configuration against the product it is attached to,
// adding the completeness rules required to purchase it. A nil candidate is accepted for product
// types whose default configuration needs no user input.
func (r *configurationRegistry) ValidateForProduct(product Product, candidate *ProductConfiguration) (*ProductConfiguration, error) {
	if candidate == nil {
		return nil, nil
	}
	problems := &ValidationErrors{Type: product.Type}
	if candidate.Type != product.Type {
		problems.add("type", fmt.Sprintf("must be %s for product %s", product.Type, product.ID))
		return nil, problems
	}
	raw, err := json.Marshal(candidate)
	if err != nil {
		problems.add("$", err.Error())
		return nil, problems
	}
	config, err := r.ValidateConfiguration(product.Type, raw)
	if err != nil {
		return nil, err
	}

	switch {
	case config.Type.IsReport():
		if config.Report.VesselIMO == "" {
			problems.add("vesselIMO", "is required")
		}
	case config.Type == domain.ProductTypeFTS:
		if strings.TrimSpace(config.FTS.FleetName) == "" {
			problems.add("fleetName", "is required")
		}
		if len(config.FTS.Vessels) == 0 {
			problems.add("vessels", "must contain at least one vessel")
		}
	case config.Type == domain.ProductTypeMaritimeAlert:
		alert := config.MaritimeAlert
		if !product.OffersAlertType(alert.MaritimeAlertType) {
			problems.add("maritimeAlertType", fmt.Sprintf("%s is not offered by this product", alert.MaritimeAlertType))
		}
		watchesShip := alert.MaritimeAlertType == domain.MaritimeAlertShip || alert.MaritimeAlertType == domain.MaritimeAlertShipAndArea
		watchesArea := alert.MaritimeAlertType == domain.MaritimeAlertArea || alert.MaritimeAlertType == domain.MaritimeAlertShipAndArea
		if watchesShip && len(alert.VesselIMOs) == 0 {
			problems.add("vesselIMOs", "must contain at least one vessel")
		}
		if watchesArea && len(alert.AOIDefinition) == 0 {
			problems.add("aoiDefinition", "is required")
		}
	}
	if len(problems.Fields) > 0 {
		return nil, problems
	}
	return &config, nil
}

// ParseIMOList splits free text on commas, semicolons and whitespace. Blank input yields an empty,
// non-nil slice. Duplicates are dropped preserving first occurrence.
func (r *configurationRegistry) ParseIMOList(text string) []string {
	return ParseIMOList(text)
}

// ParseIMOList is the package-level form of ConfigurationRegistry.ParseIMOList.
func ParseIMOList(text string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, token := range imoSeparator.Split(strings.TrimSpace(text), -1) {
		token = strings.TrimSpace(token)
		token = strings.TrimPrefix(strings.ToUpper(token), "IMO")
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func collectSchemaErrors(err *jsonschema.ValidationError, problems *ValidationErrors) {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			collectSchemaErrors(cause, problems)
		}
		return
	}
	base := pointerToField(err.InstanceLocation)
	keyword := err.KeywordLocation[strings.LastIndex(err.KeywordLocation, "/")+1:]
	switch keyword {
	case "required":
		for _, match := range quotedName.FindAllStringSubmatch(err.Message, -1) {
			problems.add(joinField(base, match[1]), "is required")
		}
	case "additionalProperties":
		for _, match := range quotedName.FindAllStringSubmatch(err.Message, -1) {
			problems.add(joinField(base, match[1]), "is not allowed")
		}
	default:
		if base == "type" {
			// The tag mismatch is reported once by the explicit tag check.
			for _, existing := range problems.Fields {
				if existing.Field == "type" {
					return
				}
			}
		}
		if base == "" {
			base = "$"
		}
		problems.add(base, err.Message)
	}
}

func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	segments := strings.Split(pointer, "/")
	for idx, segment := range segments {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segments[idx] = strings.ReplaceAll(segment, "~0", "~")
	}
	return strings.Join(segments, ".")
}

func joinField(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func sortFieldErrors(fields []FieldError) {
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Field < fields[j].Field
	})
}

func normalizeConfiguration(config *ProductConfiguration) {
	nonNil := func(values []string) []string {
		if values == nil {
			return []string{}
		}
		return values
	}
	switch {
	case config.VTS != nil:
		config.VTS.SelectedCriteria = nonNil(config.VTS.SelectedCriteria)
		config.VTS.VesselIMOs = nonNil(config.VTS.VesselIMOs)
	case config.AMS != nil:
		config.AMS.SelectedCriteria = nonNil(config.AMS.SelectedCriteria)
		config.AMS.AOIDefinition = canonicalGeometry(config.AMS.AOIDefinition)
	case config.FTS != nil:
		config.FTS.SelectedCriteria = nonNil(config.FTS.SelectedCriteria)
		config.FTS.Vessels = nonNil(config.FTS.Vessels)
	case config.MaritimeAlert != nil:
		config.MaritimeAlert.SelectedCriteria = nonNil(config.MaritimeAlert.SelectedCriteria)
		config.MaritimeAlert.AOIDefinition = canonicalGeometry(config.MaritimeAlert.AOIDefinition)
	}
}

func canonicalGeometry(geometry domain.Geometry) domain.Geometry {
	if len(geometry) == 0 {
		return geometry
	}
	var generic any
	if err := json.Unmarshal(geometry, &generic); err != nil {
		return geometry
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return geometry
	}
	return canonical
}

func checkTimeframes(config *ProductConfiguration, problems *ValidationErrors) {
	check := func(startField, start, endField, end string) {
		startDate, err := time.Parse(isoDateLayout, start)
		if err != nil {
			problems.add(startField, "must be an ISO date (YYYY-MM-DD)")
			return
		}
		endDate, err := time.Parse(isoDateLayout, end)
		if err != nil {
			problems.add(endField, "must be an ISO date (YYYY-MM-DD)")
			return
		}
		if endDate.Before(startDate) {
			problems.add(endField, "must not be before "+startField)
		}
	}
	switch {
	case config.Report != nil:
		check("timeframeStart", config.Report.TimeframeStart, "timeframeEnd", config.Report.TimeframeEnd)
	case config.Investigation != nil && config.Investigation.Timeframe != nil:
		check("timeframe.start", config.Investigation.Timeframe.Start, "timeframe.end", config.Investigation.Timeframe.End)
	}
}
