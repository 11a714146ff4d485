package database

import (
	"context"
	"database/sql"
	"errors"

	"reportdedup/types"
	"reportdedup/workflow"
)

// Store adapts the package functions to the workflow's ReportStore
type Store struct {
	DB *sql.DB
}

func (s Store) ListPendingSimilar(ctx context.Context, campusID, areaID, categoryID string) ([]*types.Report, error) {
	return ListPendingSimilar(ctx, s.DB, campusID, areaID, categoryID)
}

func (s Store) GetReportByID(ctx context.Context, id string) (*types.Report, error) {
	return GetReportByID(ctx, s.DB, id)
}

func (s Store) CreateReport(ctx context.Context, r *types.Report) error {
	return CreateReport(ctx, s.DB, r)
}

func (s Store) AddComplainant(ctx context.Context, reportID string, c types.Complainant, updatedBy, when string) (*types.Report, error) {
	r, err := AddComplainant(ctx, s.DB, reportID, c, updatedBy, when)
	if errors.Is(err, ErrAlreadyComplainant) {
		return nil, workflow.ErrAlreadyReported
	}
	return r, err
}
