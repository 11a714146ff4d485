package types

// ComplainantImage is one submitter's photo attached to a report
type ComplainantImage struct {
	PersonID string `json:"person_id" yaml:"person_id"`
	URL      string `json:"url" yaml:"url"`
}

// ReportWithImages is the candidate shape handed to the detector by the data layer
type ReportWithImages struct {
	ID     string             `json:"id" yaml:"id"`
	Images []ComplainantImage `json:"images" yaml:"images"`
}

// Candidate is a single (report, image) pair compared against a new submission
type Candidate struct {
	ReportID string
	PersonID string
	ImageURL string
}

// ScoredCandidate holds the similarity score for one candidate
type ScoredCandidate struct {
	Candidate
	Similarity float64
}

// Verdict is the outcome of a similarity check
type Verdict struct {
	Similar    bool    `json:"similar"`
	Similarity float64 `json:"similarity"`
	ReportID   string  `json:"report_id"`
	Image      string  `json:"image"`
	PersonID   string  `json:"person_id,omitempty"`
	Compared   int     `json:"compared"`
}

// FlattenCandidates expands reports into one candidate per complainant image.
// Entries without an image URL are skipped; report order is preserved.
func FlattenCandidates(reports []ReportWithImages) []Candidate {
	var candidates []Candidate
	for _, report := range reports {
		for _, img := range report.Images {
			if img.URL == "" {
				continue
			}
			candidates = append(candidates, Candidate{
				ReportID: report.ID,
				PersonID: img.PersonID,
				ImageURL: img.URL,
			})
		}
	}
	return candidates
}
