package types

// Report statuses
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// Complainant is a person who submitted (or joined) a report
type Complainant struct {
	PersonID    string `json:"person_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Report is the stored facility issue document
type Report struct {
	ID              string        `json:"id"`
	CampusID        string        `json:"campus_id"`
	AreaID          string        `json:"area_id"`
	AreaName        string        `json:"area_name"`
	CategoryID      string        `json:"category_id"`
	CategoryName    string        `json:"category_name"`
	Status          string        `json:"status"`
	Count           int           `json:"count"`
	IsDeleted       bool          `json:"is_deleted"`
	Complainants    []Complainant `json:"complainants"`
	CreatedBy       string        `json:"created_by"`
	CreatedDate     string        `json:"created_date"`
	LastUpdatedBy   string        `json:"last_updated_by"`
	LastUpdatedDate string        `json:"last_updated_date"`
}

// HasComplainant reports whether personID already submitted to this report
func (r *Report) HasComplainant(personID string) bool {
	for _, c := range r.Complainants {
		if c.PersonID == personID {
			return true
		}
	}
	return false
}

// WithImages projects the report into the detector's candidate shape
func (r *Report) WithImages() ReportWithImages {
	out := ReportWithImages{ID: r.ID}
	for _, c := range r.Complainants {
		out.Images = append(out.Images, ComplainantImage{PersonID: c.PersonID, URL: c.Image})
	}
	return out
}
