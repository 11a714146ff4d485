package workflow

import (
	"context"

	"reportdedup/logging"
	"reportdedup/types"
)

// LogNotifier writes new-report events to the log
type LogNotifier struct{}

func (LogNotifier) NotifyNewReport(_ context.Context, r *types.Report) error {
	description := ""
	if len(r.Complainants) > 0 {
		description = r.Complainants[0].Description
	}
	logging.Logger().Info("new report",
		"report_id", r.ID,
		"campus_id", r.CampusID,
		"area", r.AreaName,
		"category", r.CategoryName,
		"description", description)
	return nil
}
