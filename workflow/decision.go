package workflow

import (
	"reportdedup/types"
)

// Action is what the submission workflow does with a new report
type Action string

const (
	// ActionCreateNew stores the submission as a new pending report
	ActionCreateNew Action = "created"
	// ActionMergeInto appends the submitter to the matched report
	ActionMergeInto Action = "merged"
	// ActionRejectDuplicateSubmitter refuses a second submission by the same person
	ActionRejectDuplicateSubmitter Action = "rejected"
)

// Decide turns a verdict into an action. matched is the report named by
// verdict.ReportID, or nil if it could not be loaded.
func Decide(verdict types.Verdict, matched *types.Report, complainantID string) Action {
	if !verdict.Similar || matched == nil {
		return ActionCreateNew
	}
	if matched.HasComplainant(complainantID) {
		return ActionRejectDuplicateSubmitter
	}
	return ActionMergeInto
}
