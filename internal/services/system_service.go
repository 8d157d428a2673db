package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

const catalogCheckName = "catalog"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Catalog, when set, adds a readiness check that fails while no product is loaded.
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
	Build   BuildInfo
}

type systemService struct {
	health  repositories.HealthRepository
	catalog repositories.CatalogRepository
	now     func() time.Time
	build   BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service providing health reports and build metadata.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health:  deps.HealthRepository,
		catalog: deps.Catalog,
		now:     func() time.Time { return clock().UTC() },
		build:   deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	explicitStatus := report.Status != ""
	if s.catalog != nil {
		check := s.catalogCheck(ctx, now)
		report.Checks[catalogCheckName] = check
		if explicitStatus && check.Status == domain.HealthStatusError {
			report.Status = domain.HealthStatusError
		}
	}
	if !explicitStatus {
		report.Status = worstStatus(report.Checks)
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}

func (s *systemService) catalogCheck(ctx context.Context, now time.Time) domain.SystemHealthCheck {
	start := time.Now()
	products, err := s.catalog.List(ctx, domain.CatalogFilter{})
	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Latency: time.Since(start), CheckedAt: now}
	switch {
	case err != nil:
		check.Status, check.Detail = domain.HealthStatusError, err.Error()
	case len(products) == 0:
		check.Status, check.Detail = domain.HealthStatusError, "catalog is empty"
	default:
		check.Detail = fmt.Sprintf("%d products", len(products))
	}
	return check
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
