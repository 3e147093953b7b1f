package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civicdesk/internal/config"
	"civicdesk/internal/db"
	"civicdesk/internal/domain"
	"civicdesk/internal/engine"
	"civicdesk/internal/geocode"
	"civicdesk/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func fixedNow() time.Time {
	return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T) testEnv {
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
	cfg := config.Default("civicdesk-test")
	eng := engine.New(conn, cfg)
	eng.Geo = nil // no network in tests unless a test wires its own
	eng.Now = fixedNow
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func submit(t *testing.T, env testEnv) domain.Complaint {
	t.Helper()
	c, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		UserID:      "user-1",
		UserName:    "Asha",
		Mobile:      "9999999999",
		Description: "Streetlight broken near the market",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return c
}

func TestSubmitCreatesFirstAction(t *testing.T) {
	env := newTestEnv(t)
	c := submit(t, env)
	if c.Status != domain.StatusNew {
		t.Fatalf("expected status new, got %s", c.Status)
	}
	if c.Address != domain.AddressUnavailable {
		t.Fatalf("expected address sentinel, got %q", c.Address)
	}
	actions, err := env.Engine.Repo.ListActions(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Action != "Complaint Submitted" || actions[0].By != "Asha" {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	// the writers share the engine clock
	if actions[0].TS != c.CreatedAt {
		t.Fatalf("first action at %s, complaint created at %s", actions[0].TS, c.CreatedAt)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT ts FROM events WHERE complaint_id=?`, c.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if ts != c.CreatedAt {
			t.Fatalf("event at %s, complaint created at %s", ts, c.CreatedAt)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	var verr *engine.ValidationError
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{UserName: "Asha", Description: "x"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing userId, got %v", err)
	}
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{UserID: "user-1", UserName: "Asha"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing description, got %v", err)
	}
	lat := 19.07
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{UserID: "user-1", UserName: "Asha", Description: "x", Lat: &lat})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for lat without lng, got %v", err)
	}
}

func TestSubmitResolvesAddress(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"display_name":"Market Road, Andheri, Mumbai, Maharashtra, India"}`))
	}))
	defer srv.Close()
	env.Engine.Geo = geocode.New(srv.URL, 3)
	lat, lng := 19.07, 72.87
	c, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		UserID: "user-1", UserName: "Asha", Description: "pothole", Lat: &lat, Lng: &lng,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.Address != "Market Road, Andheri, Mumbai" {
		t.Fatalf("unexpected address: %q", c.Address)
	}
}

func TestSubmitSurvivesGeocoderFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	env.Engine.Geo = geocode.New(srv.URL, 3)
	lat, lng := 19.07, 72.87
	c, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		UserID: "user-1", UserName: "Asha", Description: "pothole", Lat: &lat, Lng: &lng,
	})
	if err != nil {
		t.Fatalf("submit should not fail with geocoder down: %v", err)
	}
	if c.Address != domain.AddressUnavailable {
		t.Fatalf("expected address sentinel, got %q", c.Address)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := submit(t, env)
	// valid path
	c2, err := env.Engine.Classify(env.Ctx, c.ID, "Roads", domain.PriorityHigh, "Ravi")
	if err != nil || c2.Status != domain.StatusClassified {
		t.Fatalf("to classified: %v", err)
	}
	c3, err := env.Engine.Transition(env.Ctx, c.ID, domain.StatusUnderAction, "Ravi", false)
	if err != nil || c3.Status != domain.StatusUnderAction {
		t.Fatalf("to under_action: %v", err)
	}
	c4, err := env.Engine.Transition(env.Ctx, c.ID, domain.StatusResolved, "Ravi", false)
	if err != nil || c4.Status != domain.StatusResolved {
		t.Fatalf("to resolved: %v", err)
	}
	// resolved is terminal
	_, err = env.Engine.Transition(env.Ctx, c.ID, domain.StatusNew, "Ravi", false)
	if !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	// unknown status is rejected before the row is touched
	var verr *engine.ValidationError
	_, err = env.Engine.Transition(env.Ctx, c.ID, "escalated", "Ravi", false)
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestForcedTransitionAudited(t *testing.T) {
	env := newTestEnv(t)
	c := submit(t, env)
	_, err := env.Engine.Transition(env.Ctx, c.ID, domain.StatusResolved, "Ravi", false)
	if !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	c2, err := env.Engine.Transition(env.Ctx, c.ID, domain.StatusResolved, "Ravi", true)
	if err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if c2.Status != domain.StatusResolved {
		t.Fatalf("expected resolved, got %s", c2.Status)
	}
	actions, err := env.Engine.Repo.ListActions(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	last := actions[len(actions)-1]
	if last.Action != "Status force-changed to resolved" || last.By != "Ravi" {
		t.Fatalf("unexpected force audit entry: %+v", last)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='complaint.transition.forced' AND complaint_id=?`, c.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count != 1 {
		t.Fatalf("expected 1 forced-transition event, got %d", count)
	}
}

func TestClassifySetsDeadlineFromSLA(t *testing.T) {
	env := newTestEnv(t)
	c := submit(t, env)
	c2, err := env.Engine.Classify(env.Ctx, c.ID, "Roads", domain.PriorityHigh, "")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	want := fixedNow().Add(24 * time.Hour).Format(time.RFC3339)
	if c2.Deadline == nil || *c2.Deadline != want {
		t.Fatalf("expected deadline %s, got %v", want, c2.Deadline)
	}
	actions, _ := env.Engine.Repo.ListActions(env.Ctx, c.ID)
	last := actions[len(actions)-1]
	if last.Action != "Classified as Roads / High" || last.By != engine.DefaultActor {
		t.Fatalf("unexpected classify audit entry: %+v", last)
	}
	// classifying twice is an illegal transition
	_, err = env.Engine.Classify(env.Ctx, c.ID, "Roads", domain.PriorityLow, "")
	if !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition on reclassify, got %v", err)
	}
}

func TestActionsChronological(t *testing.T) {
	env := newTestEnv(t)
	c := submit(t, env)
	if _, err := env.Engine.Classify(env.Ctx, c.ID, "Roads", domain.PriorityMedium, "Ravi"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, c.ID, domain.StatusUnderAction, "Ravi", false); err != nil {
		t.Fatal(err)
	}
	actions, err := env.Engine.Repo.ListActions(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	want := []string{"Complaint Submitted", "Classified as Roads / Medium", "Status changed to under_action"}
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(actions))
	}
	for i, a := range actions {
		if a.Action != want[i] {
			t.Fatalf("action %d: expected %q, got %q", i, want[i], a.Action)
		}
	}
}

func TestComputeOverdue(t *testing.T) {
	now := fixedNow()
	past := now.Add(-time.Hour).Format(time.RFC3339)
	future := now.Add(time.Hour).Format(time.RFC3339)
	cases := []struct {
		name     string
		deadline *string
		status   string
		want     bool
	}{
		{"no deadline", nil, domain.StatusNew, false},
		{"future deadline", &future, domain.StatusClassified, false},
		{"past deadline", &past, domain.StatusUnderAction, true},
		{"past deadline resolved", &past, domain.StatusResolved, false},
	}
	for _, tc := range cases {
		c := domain.Complaint{Status: tc.status, Deadline: tc.deadline}
		if got := engine.ComputeOverdue(c, now); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestElapsedSince(t *testing.T) {
	now := fixedNow()
	created := now.Add(-26 * time.Hour).Format(time.RFC3339)
	e := engine.ElapsedSince(created, now)
	if e.Days != 1 || e.Hours != 2 {
		t.Fatalf("expected 1d 2h, got %+v", e)
	}
	if got := engine.FormatElapsed(e); got != "1d 2h" {
		t.Fatalf("expected \"1d 2h\", got %q", got)
	}
	created = now.Add(-5 * time.Hour).Format(time.RFC3339)
	e = engine.ElapsedSince(created, now)
	if e.Days != 0 || e.Hours != 5 {
		t.Fatalf("expected 0d 5h, got %+v", e)
	}
	if got := engine.FormatElapsed(e); got != "5h" {
		t.Fatalf("expected \"5h\", got %q", got)
	}
	if got := engine.HoursSince(created, now); got != 5 {
		t.Fatalf("expected 5 hours, got %d", got)
	}
	// malformed and future instants degrade to zero
	if e := engine.ElapsedSince("not-a-time", now); e != (domain.Elapsed{}) {
		t.Fatalf("expected zero elapsed for malformed instant, got %+v", e)
	}
}
