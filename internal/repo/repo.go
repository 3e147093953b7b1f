package repo

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"
	"strings"

	"civicdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
	// OrderColumn is the recency column used when a caller asks for an
	// ordered listing. Tests point it at a missing column to exercise
	// the degraded path.
	OrderColumn string
}

var ErrNotFound = errors.New("not found")

const complaintColumns = `id,user_id,user_name,mobile,description,lat,lng,address,image_path,department,priority,status,deadline,created_at,last_updated`

func (r Repo) orderColumn() string {
	if r.OrderColumn != "" {
		return r.OrderColumn
	}
	return "created_at"
}

func scanComplaint(scan func(dest ...any) error) (domain.Complaint, error) {
	var c domain.Complaint
	var lat, lng sql.NullFloat64
	var imagePath, department, priority, deadline sql.NullString
	err := scan(&c.ID, &c.UserID, &c.UserName, &c.Mobile, &c.Description, &lat, &lng, &c.Address,
		&imagePath, &department, &priority, &c.Status, &deadline, &c.CreatedAt, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if lat.Valid {
		c.Lat = &lat.Float64
	}
	if lng.Valid {
		c.Lng = &lng.Float64
	}
	if imagePath.Valid {
		c.ImagePath = &imagePath.String
	}
	if department.Valid {
		c.Department = &department.String
	}
	if priority.Valid {
		c.Priority = &priority.String
	}
	if deadline.Valid {
		c.Deadline = &deadline.String
	}
	return c, nil
}

func (r Repo) InsertComplaintTx(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO complaints(`+complaintColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.UserName, c.Mobile, c.Description, nullableFloatPtr(c.Lat), nullableFloatPtr(c.Lng), c.Address,
		nullableStringPtr(c.ImagePath), nullableStringPtr(c.Department), nullableStringPtr(c.Priority), c.Status,
		nullableStringPtr(c.Deadline), c.CreatedAt, c.LastUpdated)
	return err
}

func (r Repo) GetComplaint(ctx context.Context, id string) (domain.Complaint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=?`, id)
	return scanComplaint(row.Scan)
}

func (r Repo) GetComplaintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Complaint, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=?`, id)
	return scanComplaint(row.Scan)
}

type ComplaintFilters struct {
	UserID     string
	Department string
	Status     string
	// NotStatus excludes a status (pending views exclude resolved).
	NotStatus string
	// OrderByCreated requests newest-first ordering. When the ordered
	// query fails the same filter is retried unordered and sorted here.
	OrderByCreated bool
	Limit          int
}

// ListComplaints applies the filters and returns matching complaints.
// An ordered listing never fails just because ordering does: the query is
// retried without ORDER BY and the result sorted in memory, so callers see
// a complete result either way.
func (r Repo) ListComplaints(ctx context.Context, f ComplaintFilters) ([]domain.Complaint, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Department != "" {
		clauses = append(clauses, "department=?")
		args = append(args, f.Department)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.NotStatus != "" {
		clauses = append(clauses, "status!=?")
		args = append(args, f.NotStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	base := `SELECT ` + complaintColumns + ` FROM complaints ` + where
	query := base
	if f.OrderByCreated {
		query += ` ORDER BY ` + r.orderColumn() + ` DESC, id DESC`
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	res, err := r.queryComplaints(ctx, query, args)
	if err != nil && f.OrderByCreated {
		log.Printf("civicdesk: ordered complaint query failed, retrying unordered: %v", err)
		// The retry must fetch the full filtered set: trimming before the
		// in-memory sort would keep an arbitrary subset, not the newest.
		fallbackArgs := args
		if f.Limit > 0 {
			fallbackArgs = args[:len(args)-1]
		}
		res, err = r.queryComplaints(ctx, base, fallbackArgs)
		if err == nil {
			sort.SliceStable(res, func(i, j int) bool {
				if res[i].CreatedAt != res[j].CreatedAt {
					return res[i].CreatedAt > res[j].CreatedAt
				}
				return res[i].ID > res[j].ID
			})
			if f.Limit > 0 && len(res) > f.Limit {
				res = res[:f.Limit]
			}
		}
	}
	return res, err
}

func (r Repo) queryComplaints(ctx context.Context, query string, args []any) ([]domain.Complaint, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateComplaintStatusTx(ctx context.Context, tx *sql.Tx, id, status, lastUpdated string) error {
	res, err := tx.ExecContext(ctx, `UPDATE complaints SET status=?, last_updated=? WHERE id=?`, status, lastUpdated, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateClassificationTx(ctx context.Context, tx *sql.Tx, id, department, priority, deadline, lastUpdated string) error {
	res, err := tx.ExecContext(ctx, `UPDATE complaints SET department=?, priority=?, deadline=?, status=?, last_updated=? WHERE id=?`,
		department, priority, deadline, domain.StatusClassified, lastUpdated, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListActions(ctx context.Context, complaintID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,complaint_id,action,ts,actor FROM complaint_actions WHERE complaint_id=? ORDER BY ts ASC, id ASC`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		var a domain.Action
		if err := rows.Scan(&a.ID, &a.ComplaintID, &a.Action, &a.TS, &a.By); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActionsForComplaints loads the audit trails for a set of complaints in
// one query, keyed by complaint id.
func (r Repo) ActionsForComplaints(ctx context.Context, ids []string) (map[string][]domain.Action, error) {
	res := map[string][]domain.Action{}
	if len(ids) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,complaint_id,action,ts,actor FROM complaint_actions WHERE complaint_id IN (`+placeholders+`) ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Action
		if err := rows.Scan(&a.ID, &a.ComplaintID, &a.Action, &a.TS, &a.By); err != nil {
			return nil, err
		}
		res[a.ComplaintID] = append(res[a.ComplaintID], a)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, complaintID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if complaintID != "" {
		clauses = append(clauses, "complaint_id=?")
		args = append(args, complaintID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,ts,type,COALESCE(complaint_id,''),actor_id,payload_json FROM events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ComplaintID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountComplaintsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM complaints GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
