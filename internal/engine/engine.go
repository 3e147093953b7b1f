package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"civicdesk/internal/audit"
	"civicdesk/internal/config"
	"civicdesk/internal/domain"
	"civicdesk/internal/events"
	"civicdesk/internal/geocode"
	"civicdesk/internal/repo"
)

// DefaultActor attributes administrative writes when no actor is supplied.
const DefaultActor = "Admin"

// ErrIllegalTransition marks a status change the lifecycle does not allow.
// Callers can override with force, which is audited.
var ErrIllegalTransition = errors.New("illegal status transition")

// ValidationError rejects malformed input before anything is written.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Audit  audit.Writer
	Config *config.Config
	Geo    *geocode.Client
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	if cfg != nil && cfg.Geocode.URL != "" {
		e.Geo = geocode.New(cfg.Geocode.URL, cfg.Geocode.Parts)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// The writers stamp their own rows; they must share the engine clock or a
// pinned Now would leave action timestamps drifting from created_at.
func (e Engine) audit() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// SubmitOptions are parameters for filing a complaint.
type SubmitOptions struct {
	UserID      string
	UserName    string
	Mobile      string
	Description string
	Lat         *float64
	Lng         *float64
	ImagePath   string
}

// Submit files a new complaint. The complaint row, its first audit entry
// and the submission event commit together or not at all.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Complaint, error) {
	if opts.UserID == "" || opts.UserName == "" {
		return domain.Complaint{}, validationErrorf("userId and userName are required")
	}
	if opts.Description == "" {
		return domain.Complaint{}, validationErrorf("description is required")
	}
	if (opts.Lat == nil) != (opts.Lng == nil) {
		return domain.Complaint{}, validationErrorf("lat and lng must be provided together")
	}

	now := e.now().UTC().Format(time.RFC3339)
	address := domain.AddressUnavailable
	if opts.Lat != nil && opts.Lng != nil {
		resolved, err := e.Geo.ReverseLookup(ctx, *opts.Lat, *opts.Lng)
		if err != nil {
			// Submission must not depend on the geocoder.
			log.Printf("civicdesk: reverse geocode failed: %v", err)
		} else {
			address = resolved
		}
	}

	c := domain.Complaint{
		ID:          uuid.New().String(),
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		Mobile:      opts.Mobile,
		Description: opts.Description,
		Lat:         opts.Lat,
		Lng:         opts.Lng,
		Address:     address,
		ImagePath:   optionalString(opts.ImagePath),
		Status:      domain.StatusNew,
		CreatedAt:   now,
		LastUpdated: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertComplaintTx(ctx, tx, c); err != nil {
		return domain.Complaint{}, fmt.Errorf("insert complaint: %w", err)
	}
	if err := e.audit().Append(ctx, tx, c.ID, "Complaint Submitted", c.UserName); err != nil {
		return domain.Complaint{}, err
	}
	if err := e.events().Append(ctx, tx, events.TypeSubmitted, c.ID, c.UserID, events.EventPayload{"status": c.Status}); err != nil {
		return domain.Complaint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

// ensureStatusTransition checks the forward lifecycle. resolved is terminal.
func ensureStatusTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusNew:
		if newStatus == domain.StatusClassified {
			return nil
		}
	case domain.StatusClassified:
		if newStatus == domain.StatusUnderAction {
			return nil
		}
	case domain.StatusUnderAction:
		if newStatus == domain.StatusResolved {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, oldStatus, newStatus)
}

func knownStatus(status string) bool {
	switch status {
	case domain.StatusNew, domain.StatusClassified, domain.StatusUnderAction, domain.StatusResolved:
		return true
	}
	return false
}

// Transition moves a complaint to a new status. Illegal jumps are rejected
// unless forced; a forced jump is allowed but leaves a distinct audit entry
// and event so the override is visible.
func (e Engine) Transition(ctx context.Context, complaintID, newStatus, actorName string, force bool) (domain.Complaint, error) {
	if complaintID == "" || newStatus == "" {
		return domain.Complaint{}, validationErrorf("complaintId and status are required")
	}
	if !knownStatus(newStatus) {
		return domain.Complaint{}, validationErrorf("unknown status %q", newStatus)
	}
	if actorName == "" {
		actorName = DefaultActor
	}
	c, err := e.Repo.GetComplaint(ctx, complaintID)
	if err != nil {
		return c, err
	}
	forced := false
	if err := ensureStatusTransition(c.Status, newStatus); err != nil {
		if !force {
			return c, err
		}
		forced = true
		log.Printf("civicdesk: forced transition %s -> %s on complaint %s by %s", c.Status, newStatus, c.ID, actorName)
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateComplaintStatusTx(ctx, tx, c.ID, newStatus, now); err != nil {
		return c, err
	}
	actionText := "Status changed to " + newStatus
	evtType := events.TypeTransitioned
	if forced {
		actionText = "Status force-changed to " + newStatus
		evtType = events.TypeForcedTransition
	}
	if err := e.audit().Append(ctx, tx, c.ID, actionText, actorName); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, evtType, c.ID, actorName, events.EventPayload{
		"from": c.Status,
		"to":   newStatus,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Status = newStatus
	c.LastUpdated = now
	return c, nil
}

// Classify assigns a department and priority, stamps the SLA deadline and
// moves the complaint from new to classified.
func (e Engine) Classify(ctx context.Context, complaintID, department, priority, actorName string) (domain.Complaint, error) {
	if e.Config == nil {
		return domain.Complaint{}, errors.New("config not loaded")
	}
	if complaintID == "" || department == "" || priority == "" {
		return domain.Complaint{}, validationErrorf("complaintId, department and priority are required")
	}
	switch priority {
	case domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
	default:
		return domain.Complaint{}, validationErrorf("unknown priority %q", priority)
	}
	if actorName == "" {
		actorName = DefaultActor
	}
	c, err := e.Repo.GetComplaint(ctx, complaintID)
	if err != nil {
		return c, err
	}
	if err := ensureStatusTransition(c.Status, domain.StatusClassified); err != nil {
		return c, err
	}

	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	deadline := nowT.Add(time.Duration(e.Config.SLAHours(priority)) * time.Hour).Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateClassificationTx(ctx, tx, c.ID, department, priority, deadline, now); err != nil {
		return c, err
	}
	if err := e.audit().Append(ctx, tx, c.ID, fmt.Sprintf("Classified as %s / %s", department, priority), actorName); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, events.TypeClassified, c.ID, actorName, events.EventPayload{
		"department": department,
		"priority":   priority,
		"deadline":   deadline,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Department = &department
	c.Priority = &priority
	c.Deadline = &deadline
	c.Status = domain.StatusClassified
	c.LastUpdated = now
	return c, nil
}

// ComputeOverdue reports whether the complaint has blown its deadline.
// Resolved complaints are never overdue. Derived on every read, never stored.
func ComputeOverdue(c domain.Complaint, now time.Time) bool {
	if c.Deadline == nil || c.Status == domain.StatusResolved {
		return false
	}
	deadline, err := time.Parse(time.RFC3339, *c.Deadline)
	if err != nil {
		return false
	}
	return now.After(deadline)
}

// ElapsedSince splits the wall time since a stored RFC3339 instant into
// whole days and leftover hours. A malformed or future instant yields zero.
func ElapsedSince(createdAt string, now time.Time) domain.Elapsed {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return domain.Elapsed{}
	}
	d := now.Sub(t)
	if d < 0 {
		return domain.Elapsed{}
	}
	hours := int(d.Hours())
	return domain.Elapsed{Days: hours / 24, Hours: hours % 24}
}

// HoursSince is the total whole hours since a stored RFC3339 instant.
func HoursSince(createdAt string, now time.Time) int {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return 0
	}
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d.Hours())
}

// FormatElapsed renders an elapsed span the way the dashboards show it:
// "2d 5h" when at least a day old, plain "5h" otherwise.
func FormatElapsed(e domain.Elapsed) string {
	if e.Days > 0 {
		return fmt.Sprintf("%dd %dh", e.Days, e.Hours)
	}
	return fmt.Sprintf("%dh", e.Hours)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
