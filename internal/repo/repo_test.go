package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"civicdesk/internal/db"
	"civicdesk/internal/domain"
	"civicdesk/internal/migrate"
	"civicdesk/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, conn
}

func insertComplaint(t *testing.T, r repo.Repo, conn *sql.DB, c domain.Complaint) {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertComplaintTx(context.Background(), tx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedComplaints(t *testing.T, r repo.Repo, conn *sql.DB, n int) []domain.Complaint {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var res []domain.Complaint
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		c := domain.Complaint{
			ID:          fmt.Sprintf("c-%02d", i),
			UserID:      "user-1",
			UserName:    "Asha",
			Description: fmt.Sprintf("complaint %d", i),
			Address:     domain.AddressUnavailable,
			Status:      domain.StatusNew,
			CreatedAt:   ts,
			LastUpdated: ts,
		}
		insertComplaint(t, r, conn, c)
		res = append(res, c)
	}
	return res
}

func TestGetComplaintNotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.GetComplaint(context.Background(), "nope")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListComplaintsOrdering(t *testing.T) {
	r, conn := newTestRepo(t)
	seeded := seedComplaints(t, r, conn, 4)

	list, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4, got %d", len(list))
	}
	if list[0].ID != seeded[3].ID || list[3].ID != seeded[0].ID {
		t.Fatal("expected newest-first ordering")
	}

	limited, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true, Limit: 2})
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != seeded[3].ID {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

// When the recency column is unusable the listing retries unordered and
// sorts in memory, so callers still get a complete newest-first result.
func TestListComplaintsDegradedOrdering(t *testing.T) {
	r, conn := newTestRepo(t)
	seeded := seedComplaints(t, r, conn, 3)
	r.OrderColumn = "no_such_column"

	list, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true})
	if err != nil {
		t.Fatalf("degraded list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
	if list[0].ID != seeded[2].ID || list[2].ID != seeded[0].ID {
		t.Fatal("expected newest-first ordering from the in-memory sort")
	}
}

// A limited listing through the degraded path must still return the newest
// rows: the retry fetches the full filtered set and trims after sorting.
func TestListComplaintsDegradedOrderingWithLimit(t *testing.T) {
	r, conn := newTestRepo(t)
	seeded := seedComplaints(t, r, conn, 5)
	r.OrderColumn = "no_such_column"

	list, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true, Limit: 2})
	if err != nil {
		t.Fatalf("degraded limited list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	if list[0].ID != seeded[4].ID || list[1].ID != seeded[3].ID {
		t.Fatalf("expected the newest two, got %s, %s", list[0].ID, list[1].ID)
	}
}

// Rows sharing a created_at instant fall back to id ordering, on both the
// SQL path and the in-memory sort.
func TestListComplaintsTieBreakOnID(t *testing.T) {
	r, conn := newTestRepo(t)
	ts := "2024-03-01T00:00:00Z"
	for _, id := range []string{"c-aa", "c-bb", "c-cc"} {
		insertComplaint(t, r, conn, domain.Complaint{
			ID: id, UserID: "user-1", UserName: "Asha", Description: "same instant",
			Address: domain.AddressUnavailable, Status: domain.StatusNew,
			CreatedAt: ts, LastUpdated: ts,
		})
	}
	want := []string{"c-cc", "c-bb", "c-aa"}

	list, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, c := range list {
		if c.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}

	r.OrderColumn = "no_such_column"
	list, err = r.ListComplaints(context.Background(), repo.ComplaintFilters{OrderByCreated: true})
	if err != nil {
		t.Fatalf("degraded list: %v", err)
	}
	for i, c := range list {
		if c.ID != want[i] {
			t.Fatalf("degraded position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}
}

func TestListComplaintsFilters(t *testing.T) {
	r, conn := newTestRepo(t)
	seedComplaints(t, r, conn, 2)
	dept := "Roads"
	status := domain.StatusResolved
	insertComplaint(t, r, conn, domain.Complaint{
		ID: "c-roads", UserID: "user-2", UserName: "Binod", Description: "pothole",
		Address: domain.AddressUnavailable, Department: &dept, Status: status,
		CreatedAt: "2024-03-02T00:00:00Z", LastUpdated: "2024-03-02T00:00:00Z",
	})

	byUser, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{UserID: "user-2"})
	if err != nil || len(byUser) != 1 || byUser[0].ID != "c-roads" {
		t.Fatalf("user filter: %v %+v", err, byUser)
	}
	byDept, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{Department: "Roads"})
	if err != nil || len(byDept) != 1 {
		t.Fatalf("department filter: %v %+v", err, byDept)
	}
	notResolved, err := r.ListComplaints(context.Background(), repo.ComplaintFilters{NotStatus: domain.StatusResolved})
	if err != nil || len(notResolved) != 2 {
		t.Fatalf("not-status filter: %v %+v", err, notResolved)
	}
}

func TestUpdateMissingComplaint(t *testing.T) {
	r, conn := newTestRepo(t)
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = r.UpdateComplaintStatusTx(context.Background(), tx, "nope", domain.StatusResolved, "2024-03-01T00:00:00Z")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err = r.UpdateClassificationTx(context.Background(), tx, "nope", "Roads", domain.PriorityLow, "", "2024-03-01T00:00:00Z")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActionsForComplaints(t *testing.T) {
	r, conn := newTestRepo(t)
	seedComplaints(t, r, conn, 2)
	ctx := context.Background()
	for i, row := range []struct{ id, action, ts string }{
		{"c-00", "Complaint Submitted", "2024-03-01T00:00:00Z"},
		{"c-00", "Status changed to classified", "2024-03-01T01:00:00Z"},
		{"c-01", "Complaint Submitted", "2024-03-01T02:00:00Z"},
	} {
		if _, err := conn.ExecContext(ctx, `INSERT INTO complaint_actions(complaint_id,action,ts,actor) VALUES (?,?,?,?)`,
			row.id, row.action, row.ts, "Asha"); err != nil {
			t.Fatalf("seed action %d: %v", i, err)
		}
	}

	got, err := r.ActionsForComplaints(ctx, []string{"c-00", "c-01"})
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(got["c-00"]) != 2 || len(got["c-01"]) != 1 {
		t.Fatalf("unexpected grouping: %+v", got)
	}
	if got["c-00"][0].Action != "Complaint Submitted" || got["c-00"][1].Action != "Status changed to classified" {
		t.Fatal("expected chronological order within a trail")
	}

	empty, err := r.ActionsForComplaints(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty map for no ids, got %v %+v", err, empty)
	}
}

func TestCountComplaintsByStatus(t *testing.T) {
	r, conn := newTestRepo(t)
	seedComplaints(t, r, conn, 3)
	insertComplaint(t, r, conn, domain.Complaint{
		ID: "c-done", UserID: "user-1", UserName: "Asha", Description: "fixed",
		Address: domain.AddressUnavailable, Status: domain.StatusResolved,
		CreatedAt: "2024-03-02T00:00:00Z", LastUpdated: "2024-03-02T00:00:00Z",
	})
	counts, err := r.CountComplaintsByStatus(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusNew] != 3 || counts[domain.StatusResolved] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
