// Package workflow merges new facility reports into matching pending reports
// or files them as new ones.
package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"reportdedup/logging"
	"reportdedup/types"
)

var (
	// ErrNoImage means the submission carried no photo
	ErrNoImage = errors.New("no image uploaded")
	// ErrAlreadyReported means the submitter already belongs to the matching report
	ErrAlreadyReported = errors.New("it appears you have already submitted a similar report; multiple reports from the same person for the same issue are not allowed")
	// ErrImageProcessing means the new photo could not be turned into features
	ErrImageProcessing = errors.New("could not process image")
	// ErrInvalidSubmission means a required field is missing
	ErrInvalidSubmission = errors.New("invalid submission")
)

// processingError reports a failed similarity check as ErrImageProcessing
// while keeping the cause reachable through errors.As
type processingError struct {
	cause error
}

func (e *processingError) Error() string {
	return ErrImageProcessing.Error() + ": " + e.cause.Error()
}

func (e *processingError) Is(target error) bool { return target == ErrImageProcessing }

func (e *processingError) Unwrap() error { return e.cause }

// ReportStore is the persistence the workflow needs
type ReportStore interface {
	ListPendingSimilar(ctx context.Context, campusID, areaID, categoryID string) ([]*types.Report, error)
	GetReportByID(ctx context.Context, id string) (*types.Report, error)
	CreateReport(ctx context.Context, r *types.Report) error
	// AddComplainant atomically appends c and increments the count, returning
	// ErrAlreadyReported when the person is already on the report
	AddComplainant(ctx context.Context, reportID string, c types.Complainant, updatedBy, when string) (*types.Report, error)
}

// ImageStore persists an uploaded photo and returns its public URL
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
}

// SimilarityChecker compares a photo with the photos of candidate reports
type SimilarityChecker interface {
	CheckImageSimilarity(ctx context.Context, newImage []byte, reports []types.ReportWithImages) (types.Verdict, error)
}

// Notifier is told about every newly created report
type Notifier interface {
	NotifyNewReport(ctx context.Context, r *types.Report) error
}

// Submission is one incoming facility report
type Submission struct {
	CampusID         string
	AreaID           string
	AreaName         string
	CategoryID       string
	CategoryName     string
	ComplainantID    string
	ComplainantName  string
	ComplainantEmail string
	Description      string
	Image            []byte
	// SubmittedBy is recorded as the creator or updater; defaults to the complainant name
	SubmittedBy string
}

// Validate checks the required identifiers
func (s Submission) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"campus_id", s.CampusID},
		{"area_id", s.AreaID},
		{"category_id", s.CategoryID},
		{"complainant_id", s.ComplainantID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrInvalidSubmission, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s Submission) actor() string {
	if s.SubmittedBy != "" {
		return s.SubmittedBy
	}
	return s.ComplainantName
}

// Result describes what SubmitReport did
type Result struct {
	Action  Action        `json:"action"`
	Report  *types.Report `json:"report"`
	Verdict types.Verdict `json:"verdict"`
}

// Service runs the submission workflow
type Service struct {
	reports  ReportStore
	images   ImageStore
	checker  SimilarityChecker
	notifier Notifier

	notifyTimeout time.Duration
	now           func() time.Time
	pending       sync.WaitGroup
}

// NewService creates a Service. notifier may be nil.
func NewService(reports ReportStore, images ImageStore, checker SimilarityChecker, notifier Notifier) *Service {
	return &Service{
		reports:       reports,
		images:        images,
		checker:       checker,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
		now:           time.Now,
	}
}

// SubmitReport checks the submission's photo against pending reports in the
// same campus, area and category. A match is merged unless the submitter is
// already on it; anything else becomes a new report.
func (s *Service) SubmitReport(ctx context.Context, sub Submission) (*Result, error) {
	if len(sub.Image) == 0 {
		return nil, ErrNoImage
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	pending, err := s.reports.ListPendingSimilar(ctx, sub.CampusID, sub.AreaID, sub.CategoryID)
	if err != nil {
		return nil, errors.Wrap(err, "loading candidate reports")
	}
	candidates := make([]types.ReportWithImages, 0, len(pending))
	for _, r := range pending {
		candidates = append(candidates, r.WithImages())
	}

	verdict, err := s.checker.CheckImageSimilarity(ctx, sub.Image, candidates)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logging.LogError("Similarity check failed for complainant %s: %v", sub.ComplainantID, err)
		return nil, &processingError{cause: err}
	}

	var matched *types.Report
	if verdict.Similar {
		matched, err = s.reports.GetReportByID(ctx, verdict.ReportID)
		if err != nil {
			return nil, errors.Wrapf(err, "loading matched report %s", verdict.ReportID)
		}
		if matched == nil {
			logging.LogWarning("Matched report %s no longer exists; filing a new report", verdict.ReportID)
		}
	}

	action := Decide(verdict, matched, sub.ComplainantID)
	if action == ActionRejectDuplicateSubmitter {
		logging.LogInfo("Complainant %s already reported %s", sub.ComplainantID, matched.ID)
		return &Result{Action: action, Report: matched, Verdict: verdict}, ErrAlreadyReported
	}

	imageURL, err := s.images.Save(ctx, sub.Image)
	if err != nil {
		return nil, errors.Wrap(err, "storing image")
	}

	now := s.now().UTC().Format(time.RFC3339)
	complainant := types.Complainant{
		PersonID:    sub.ComplainantID,
		Name:        sub.ComplainantName,
		Email:       sub.ComplainantEmail,
		Description: sub.Description,
		Image:       imageURL,
	}

	if action == ActionMergeInto {
		updated, err := s.reports.AddComplainant(ctx, matched.ID, complainant, sub.actor(), now)
		if errors.Is(err, ErrAlreadyReported) {
			// a concurrent submission by the same person merged first
			logging.LogInfo("Complainant %s joined %s concurrently", sub.ComplainantID, matched.ID)
			return &Result{Action: ActionRejectDuplicateSubmitter, Report: matched, Verdict: verdict}, ErrAlreadyReported
		}
		if err != nil {
			return nil, errors.Wrapf(err, "updating report %s", matched.ID)
		}
		logging.LogInfo("Merged complainant %s into report %s (similarity %.4f, count %d)",
			sub.ComplainantID, updated.ID, verdict.Similarity, updated.Count)
		return &Result{Action: action, Report: updated, Verdict: verdict}, nil
	}

	report := &types.Report{
		ID:              uuid.NewString(),
		CampusID:        sub.CampusID,
		AreaID:          sub.AreaID,
		AreaName:        sub.AreaName,
		CategoryID:      sub.CategoryID,
		CategoryName:    sub.CategoryName,
		Status:          types.StatusPending,
		Count:           1,
		Complainants:    []types.Complainant{complainant},
		CreatedBy:       sub.actor(),
		CreatedDate:     now,
		LastUpdatedBy:   sub.actor(),
		LastUpdatedDate: now,
	}
	if err := s.reports.CreateReport(ctx, report); err != nil {
		return nil, errors.Wrap(err, "creating report")
	}
	logging.LogInfo("Created report %s for campus %s (best similarity %.4f over %d candidates)",
		report.ID, report.CampusID, verdict.Similarity, verdict.Compared)

	s.notify(ctx, report)
	return &Result{Action: action, Report: report, Verdict: verdict}, nil
}

// notify sends the new-report event without blocking the caller
func (s *Service) notify(ctx context.Context, r *types.Report) {
	if s.notifier == nil {
		return
	}
	snapshot := *r
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyNewReport(nctx, &snapshot); err != nil {
			logging.LogWarning("Notification for report %s failed: %v", snapshot.ID, err)
		}
	}()
}

// Wait blocks until every outstanding notification has finished
func (s *Service) Wait() {
	s.pending.Wait()
}
