package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	rfiIDPrefix           = "rfi_"
	maxRFITitleLength     = 200
	maxRFITextLength      = 5000
	maxRFITargetAreaBytes = 64 * 1024
)

var (
	// ErrRFIInvalidInput indicates malformed RFI commands.
	ErrRFIInvalidInput = errors.New("rfi: invalid input")
	// ErrRFINotFound indicates the RFI does not exist for the caller.
	ErrRFINotFound = errors.New("rfi: not found")
	// ErrRFIInvalidState indicates the RFI no longer accepts changes.
	ErrRFIInvalidState = errors.New("rfi: invalid state")
	// ErrRFIUnavailable indicates the store could not be reached.
	ErrRFIUnavailable = errors.New("rfi: unavailable")
)

// RFIServiceDeps bundles constructor inputs for the RFI service.
type RFIServiceDeps struct {
	RFIs        repositories.RFIRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type rfiService struct {
	repo     repositories.RFIRepository
	now      func() time.Time
	newID    func() string
	logger   Logger
	sanitize *bluemonday.Policy
}

// NewRFIService constructs the RFI service.
func NewRFIService(deps RFIServiceDeps) (RFIService, error) {
	if deps.RFIs == nil {
		return nil, errors.New("rfi service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &rfiService{
		repo:     deps.RFIs,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
		sanitize: bluemonday.StrictPolicy(),
	}, nil
}

func (s *rfiService) CreateRFI(ctx context.Context, cmd CreateRFICommand) (RFI, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return RFI{}, fmt.Errorf("%w: user id is required", ErrRFIInvalidInput)
	}
	title := s.clean(cmd.Title)
	description := s.clean(cmd.Description)
	if title == "" {
		return RFI{}, fmt.Errorf("%w: title is required", ErrRFIInvalidInput)
	}
	if description == "" {
		return RFI{}, fmt.Errorf("%w: description is required", ErrRFIInvalidInput)
	}
	rfi := RFI{
		ID:                newID(s.newID, rfiIDPrefix),
		UserID:            userID,
		Title:             title,
		Description:       description,
		TargetArea:        strings.TrimSpace(cmd.TargetArea),
		DateRange:         cloneDateRange(cmd.DateRange),
		AdditionalDetails: s.clean(cmd.AdditionalDetails),
		Status:            domain.RFIStatusSubmitted,
	}
	if err := validateRFIFields(rfi); err != nil {
		return RFI{}, err
	}
	now := s.now()
	rfi.CreatedAt = now
	rfi.UpdatedAt = now

	if err := s.repo.Insert(ctx, rfi); err != nil {
		return RFI{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "rfi.created", map[string]any{
		"rfiId":  rfi.ID,
		"userId": userID,
	})
	return rfi, nil
}

func (s *rfiService) GetRFI(ctx context.Context, userID string, rfiID string) (RFI, error) {
	return s.load(ctx, userID, rfiID)
}

func (s *rfiService) ListRFIs(ctx context.Context, userID string) ([]RFI, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrRFIInvalidInput)
	}
	rfis, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if rfis == nil {
		rfis = []RFI{}
	}
	return rfis, nil
}

func (s *rfiService) UpdateRFI(ctx context.Context, cmd UpdateRFICommand) (RFI, error) {
	rfi, err := s.load(ctx, cmd.UserID, cmd.RFIID)
	if err != nil {
		return RFI{}, err
	}
	if rfi.Status.Terminal() {
		return RFI{}, fmt.Errorf("%w: rfi is %s", ErrRFIInvalidState, rfi.Status)
	}

	if cmd.Title != nil {
		rfi.Title = s.clean(*cmd.Title)
		if rfi.Title == "" {
			return RFI{}, fmt.Errorf("%w: title must not be empty", ErrRFIInvalidInput)
		}
	}
	if cmd.Description != nil {
		rfi.Description = s.clean(*cmd.Description)
		if rfi.Description == "" {
			return RFI{}, fmt.Errorf("%w: description must not be empty", ErrRFIInvalidInput)
		}
	}
	if cmd.TargetArea != nil {
		rfi.TargetArea = strings.TrimSpace(*cmd.TargetArea)
	}
	if cmd.DateRange != nil {
		rfi.DateRange = cloneDateRange(cmd.DateRange)
	}
	if cmd.AdditionalDetails != nil {
		rfi.AdditionalDetails = s.clean(*cmd.AdditionalDetails)
	}
	if cmd.Status != nil {
		if !cmd.Status.Valid() {
			return RFI{}, fmt.Errorf("%w: unknown status %q", ErrRFIInvalidInput, *cmd.Status)
		}
		rfi.Status = *cmd.Status
	}
	if err := validateRFIFields(rfi); err != nil {
		return RFI{}, err
	}
	rfi.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, rfi); err != nil {
		return RFI{}, s.mapRepositoryError(err)
	}
	return rfi, nil
}

func (s *rfiService) CancelRFI(ctx context.Context, userID string, rfiID string) (RFI, error) {
	rfi, err := s.load(ctx, userID, rfiID)
	if err != nil {
		return RFI{}, err
	}
	if rfi.Status.Terminal() {
		return RFI{}, fmt.Errorf("%w: rfi is %s", ErrRFIInvalidState, rfi.Status)
	}
	previous := rfi.Status
	rfi.Status = domain.RFIStatusCancelled
	rfi.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, rfi); err != nil {
		return RFI{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "rfi.cancelled", map[string]any{
		"rfiId":    rfi.ID,
		"userId":   rfi.UserID,
		"previous": string(previous),
	})
	return rfi, nil
}

func (s *rfiService) load(ctx context.Context, userID, rfiID string) (RFI, error) {
	userID = strings.TrimSpace(userID)
	rfiID = strings.TrimSpace(rfiID)
	if userID == "" || rfiID == "" {
		return RFI{}, fmt.Errorf("%w: user id and rfi id are required", ErrRFIInvalidInput)
	}
	rfi, err := s.repo.Get(ctx, rfiID)
	if err != nil {
		return RFI{}, s.mapRepositoryError(err)
	}
	if rfi.UserID != userID {
		return RFI{}, ErrRFINotFound
	}
	return rfi, nil
}

// textEntities reverses the escaping the policy applies to plain text. Angle brackets stay
// encoded so decoded input can never turn back into markup.
var textEntities = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`, "&quot;", `"`)

// clean strips markup from free text.
func (s *rfiService) clean(value string) string {
	return strings.TrimSpace(textEntities.Replace(s.sanitize.Sanitize(value)))
}

func (s *rfiService) mapRepositoryError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrRFINotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrRFIUnavailable, err)
	default:
		return fmt.Errorf("rfi: %w", err)
	}
}

func validateRFIFields(rfi RFI) error {
	if utf8.RuneCountInString(rfi.Title) > maxRFITitleLength {
		return fmt.Errorf("%w: title must be at most %d characters", ErrRFIInvalidInput, maxRFITitleLength)
	}
	if utf8.RuneCountInString(rfi.Description) > maxRFITextLength {
		return fmt.Errorf("%w: description must be at most %d characters", ErrRFIInvalidInput, maxRFITextLength)
	}
	if utf8.RuneCountInString(rfi.AdditionalDetails) > maxRFITextLength {
		return fmt.Errorf("%w: additionalDetails must be at most %d characters", ErrRFIInvalidInput, maxRFITextLength)
	}
	if len(rfi.TargetArea) > maxRFITargetAreaBytes {
		return fmt.Errorf("%w: targetArea is too large", ErrRFIInvalidInput)
	}
	if rfi.DateRange != nil && rfi.DateRange.End.Before(rfi.DateRange.Start) {
		return fmt.Errorf("%w: dateRange end must not precede start", ErrRFIInvalidInput)
	}
	return nil
}

func cloneDateRange(src *DateRange) *DateRange {
	if src == nil {
		return nil
	}
	copied := DateRange{Start: src.Start.UTC(), End: src.End.UTC()}
	return &copied
}
