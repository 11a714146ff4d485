package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"reportdedup/logging"
	"reportdedup/types"
)

// ErrAlreadyComplainant is returned by AddComplainant when the person is already on the report
var ErrAlreadyComplainant = errors.New("person already complained on this report")

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		campus_id TEXT NOT NULL,
		area_id TEXT NOT NULL,
		area_name TEXT,
		category_id TEXT NOT NULL,
		category_name TEXT,
		status TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_date TEXT,
		last_updated_by TEXT,
		last_updated_date TEXT
	);
	CREATE TABLE IF NOT EXISTS complainants (
		report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		person_id TEXT NOT NULL,
		name TEXT,
		email TEXT,
		description TEXT,
		image TEXT,
		PRIMARY KEY (report_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_reports_similar ON reports(campus_id, area_id, category_id, status, is_deleted);
	CREATE INDEX IF NOT EXISTS idx_complainants_person ON complainants(person_id);`

func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

// InitDatabase opens the database and creates the schema if needed
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema in %s: %v", dbPath, err)
	}
	logging.DebugLog("Database schema ready at %s", dbPath)
	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn(dbPath))
}

// CreateReport inserts a report with its complainants
func CreateReport(ctx context.Context, db *sql.DB, r *types.Report) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction for report %s: %v", r.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (
			id, campus_id, area_id, area_name, category_id, category_name, status, count, is_deleted,
			created_by, created_date, last_updated_by, last_updated_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampusID, r.AreaID, r.AreaName, r.CategoryID, r.CategoryName, r.Status, r.Count, r.IsDeleted,
		r.CreatedBy, r.CreatedDate, r.LastUpdatedBy, r.LastUpdatedDate,
	)
	if err != nil {
		return fmt.Errorf("cannot insert report %s: %v", r.ID, err)
	}

	if err := insertComplainants(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func insertComplainants(ctx context.Context, tx *sql.Tx, r *types.Report) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO complainants (report_id, position, person_id, name, email, description, image)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cannot prepare complainant insert for %s: %v", r.ID, err)
	}
	defer stmt.Close()

	for i, c := range r.Complainants {
		if _, err := stmt.ExecContext(ctx, r.ID, i, c.PersonID, c.Name, c.Email, c.Description, c.Image); err != nil {
			return fmt.Errorf("cannot insert complainant %s for %s: %v", c.PersonID, r.ID, err)
		}
	}
	return nil
}

// UpdateReport overwrites the report row and replaces its complainant list
func UpdateReport(ctx context.Context, db *sql.DB, r *types.Report) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction for report %s: %v", r.ID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE reports SET
			campus_id = ?, area_id = ?, area_name = ?, category_id = ?, category_name = ?,
			status = ?, count = ?, is_deleted = ?, last_updated_by = ?, last_updated_date = ?
		WHERE id = ?`,
		r.CampusID, r.AreaID, r.AreaName, r.CategoryID, r.CategoryName,
		r.Status, r.Count, r.IsDeleted, r.LastUpdatedBy, r.LastUpdatedDate, r.ID,
	)
	if err != nil {
		return fmt.Errorf("cannot update report %s: %v", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s not found", r.ID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM complainants WHERE report_id = ?", r.ID); err != nil {
		return fmt.Errorf("cannot clear complainants for %s: %v", r.ID, err)
	}
	if err := insertComplainants(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComplainant appends c to the report and increments its count in one
// transaction, so concurrent merges into the same report never lose a
// complainant. It returns the report as stored after the change.
func AddComplainant(ctx context.Context, db *sql.DB, reportID string, c types.Complainant, updatedBy, when string) (*types.Report, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction for report %s: %v", reportID, err)
	}
	defer tx.Rollback()

	var present int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM complainants WHERE report_id = ? AND person_id = ?", reportID, c.PersonID).Scan(&present)
	if err != nil {
		return nil, fmt.Errorf("cannot check complainants of %s: %v", reportID, err)
	}
	if present > 0 {
		return nil, ErrAlreadyComplainant
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE reports SET count = count + 1, last_updated_by = ?, last_updated_date = ?
		WHERE id = ? AND is_deleted = 0`,
		updatedBy, when, reportID)
	if err != nil {
		return nil, fmt.Errorf("cannot update report %s: %v", reportID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("report %s not found", reportID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO complainants (report_id, position, person_id, name, email, description, image)
		SELECT ?, COALESCE(MAX(position) + 1, 0), ?, ?, ?, ?, ? FROM complainants WHERE report_id = ?`,
		reportID, c.PersonID, c.Name, c.Email, c.Description, c.Image, reportID)
	if err != nil {
		return nil, fmt.Errorf("cannot insert complainant %s for %s: %v", c.PersonID, reportID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cannot commit complainant for %s: %v", reportID, err)
	}
	return GetReportByID(ctx, db, reportID)
}

// DeleteReport marks a report deleted; the row is kept
func DeleteReport(ctx context.Context, db *sql.DB, id, deletedBy, when string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE reports SET is_deleted = 1, last_updated_by = ?, last_updated_date = ? WHERE id = ?",
		deletedBy, when, id)
	if err != nil {
		return fmt.Errorf("cannot delete report %s: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s not found", id)
	}
	return nil
}

const reportColumns = `
	r.id, r.campus_id, r.area_id, r.area_name, r.category_id, r.category_name, r.status, r.count, r.is_deleted,
	r.created_by, r.created_date, r.last_updated_by, r.last_updated_date,
	c.person_id, c.name, c.email, c.description, c.image`

// GetReportByID returns the report, or nil if there is none (deleted reports included)
func GetReportByID(ctx context.Context, db *sql.DB, id string) (*types.Report, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM reports r LEFT JOIN complainants c ON c.report_id = r.id
		WHERE r.id = ?
		ORDER BY c.position`, id)
	if err != nil {
		return nil, fmt.Errorf("database error for report %s: %v", id, err)
	}
	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return reports[0], nil
}

// ListPendingSimilar returns pending, non-deleted reports in the same campus,
// area and category, oldest first
func ListPendingSimilar(ctx context.Context, db *sql.DB, campusID, areaID, categoryID string) ([]*types.Report, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM reports r LEFT JOIN complainants c ON c.report_id = r.id
		WHERE r.campus_id = ? AND r.area_id = ? AND r.category_id = ? AND r.status = ? AND r.is_deleted = 0
		ORDER BY r.created_date, r.rowid, c.position`,
		campusID, areaID, categoryID, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar reports: %v", err)
	}
	return scanReports(rows)
}

// ListPending returns every pending, non-deleted report, oldest first
func ListPending(ctx context.Context, db *sql.DB) ([]*types.Report, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM reports r LEFT JOIN complainants c ON c.report_id = r.id
		WHERE r.status = ? AND r.is_deleted = 0
		ORDER BY r.created_date, r.rowid, c.position`, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reports: %v", err)
	}
	return scanReports(rows)
}

// scanReports folds joined report/complainant rows back into reports,
// preserving row order. It closes rows.
func scanReports(rows *sql.Rows) ([]*types.Report, error) {
	defer rows.Close()

	var reports []*types.Report
	byID := make(map[string]*types.Report)

	for rows.Next() {
		var r types.Report
		var areaName, categoryName, createdBy, createdDate, updatedBy, updatedDate sql.NullString
		var personID, name, email, description, image sql.NullString

		err := rows.Scan(
			&r.ID, &r.CampusID, &r.AreaID, &areaName, &r.CategoryID, &categoryName, &r.Status, &r.Count, &r.IsDeleted,
			&createdBy, &createdDate, &updatedBy, &updatedDate,
			&personID, &name, &email, &description, &image,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning report row: %v", err)
		}

		report, seen := byID[r.ID]
		if !seen {
			r.AreaName = areaName.String
			r.CategoryName = categoryName.String
			r.CreatedBy = createdBy.String
			r.CreatedDate = createdDate.String
			r.LastUpdatedBy = updatedBy.String
			r.LastUpdatedDate = updatedDate.String
			report = &r
			byID[r.ID] = report
			reports = append(reports, report)
		}

		if personID.Valid {
			report.Complainants = append(report.Complainants, types.Complainant{
				PersonID:    personID.String,
				Name:        name.String,
				Email:       email.String,
				Description: description.String,
				Image:       image.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading report rows: %v", err)
	}
	return reports, nil
}

// Stats summarizes the report store
type Stats struct {
	TotalReports   int `json:"total_reports"`
	PendingReports int `json:"pending_reports"`
	Images         int `json:"images"`
}

// GetStats counts reports and stored images, ignoring deleted reports
func GetStats(ctx context.Context, db *sql.DB) (*Stats, error) {
	var stats Stats

	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE is_deleted = 0").Scan(&stats.TotalReports)
	if err != nil {
		return nil, fmt.Errorf("failed to get total reports: %v", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE is_deleted = 0 AND status = ?",
		types.StatusPending).Scan(&stats.PendingReports)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending reports: %v", err)
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM complainants c JOIN reports r ON r.id = c.report_id
		WHERE r.is_deleted = 0 AND c.image IS NOT NULL AND c.image != ''`).Scan(&stats.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to get image count: %v", err)
	}

	return &stats, nil
}
