// Package projection builds the read models served to dashboards and the
// bot. All derived fields flow through Decorate so every view of a
// complaint agrees on its age and overdue state.
package projection

import (
	"context"
	"time"

	"civicdesk/internal/domain"
	"civicdesk/internal/engine"
	"civicdesk/internal/repo"
)

// Intents understood by StatusQuery.
const (
	IntentPending  = "pending"
	IntentResolved = "resolved"
	IntentRecent   = "recent"
	IntentDefault  = "default"
)

const recentCount = 3

type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Service {
	return Service{Repo: r, Now: time.Now}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Decorate attaches the derived read-time fields and display defaults to a
// complaint. It is the only place these are computed.
func Decorate(c domain.Complaint, actions []domain.Action, now time.Time) domain.DecoratedComplaint {
	d := domain.DecoratedComplaint{
		Complaint:   c,
		Actions:     actions,
		TimePassed:  engine.ElapsedSince(c.CreatedAt, now),
		HoursPassed: engine.HoursSince(c.CreatedAt, now),
		IsOverdue:   engine.ComputeOverdue(c, now),
	}
	if d.Priority == nil {
		p := domain.PriorityLow
		d.Priority = &p
	}
	if d.Department == nil {
		dept := "Unassigned"
		d.Department = &dept
	}
	if d.Actions == nil {
		d.Actions = []domain.Action{}
	}
	return d
}

// Overview is the admin dashboard read model. Recent and ByPriority are
// cut from Items after decoration, so the partitions can never disagree
// on derived fields.
type Overview struct {
	Items      []domain.DecoratedComplaint `json:"items"`
	Recent     []domain.DecoratedComplaint `json:"recent"`
	ByPriority map[string][]domain.DecoratedComplaint `json:"by_priority"`
	AnyOverdue bool                        `json:"any_overdue"`
}

// AllComplaints returns every complaint, optionally filtered by department,
// newest first.
func (s Service) AllComplaints(ctx context.Context, department string) (Overview, error) {
	list, err := s.Repo.ListComplaints(ctx, repo.ComplaintFilters{
		Department:     department,
		OrderByCreated: true,
	})
	if err != nil {
		return Overview{}, err
	}
	items, err := s.decorateAll(ctx, list)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		Items:      items,
		ByPriority: map[string][]domain.DecoratedComplaint{},
	}
	ov.Recent = items
	if len(ov.Recent) > recentCount {
		ov.Recent = ov.Recent[:recentCount]
	}
	for _, item := range items {
		p := *item.Priority
		ov.ByPriority[p] = append(ov.ByPriority[p], item)
		if item.IsOverdue {
			ov.AnyOverdue = true
		}
	}
	return ov, nil
}

// MyComplaints returns one citizen's complaints, newest first.
func (s Service) MyComplaints(ctx context.Context, userID string) ([]domain.DecoratedComplaint, error) {
	list, err := s.Repo.ListComplaints(ctx, repo.ComplaintFilters{
		UserID:         userID,
		OrderByCreated: true,
	})
	if err != nil {
		return nil, err
	}
	return s.decorateAll(ctx, list)
}

// StatusQuery returns the slice of a citizen's complaints matching an
// intent. Unknown intents behave like IntentDefault.
func (s Service) StatusQuery(ctx context.Context, userID, intent string) ([]domain.DecoratedComplaint, error) {
	f := repo.ComplaintFilters{UserID: userID, OrderByCreated: true}
	switch intent {
	case IntentPending:
		f.NotStatus = domain.StatusResolved
	case IntentResolved:
		f.Status = domain.StatusResolved
	case IntentRecent:
		f.Limit = recentCount
	}
	list, err := s.Repo.ListComplaints(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.decorateAll(ctx, list)
}

func (s Service) decorateAll(ctx context.Context, list []domain.Complaint) ([]domain.DecoratedComplaint, error) {
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	actions, err := s.Repo.ActionsForComplaints(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := make([]domain.DecoratedComplaint, 0, len(list))
	for _, c := range list {
		res = append(res, Decorate(c, actions[c.ID], now))
	}
	return res, nil
}

// One returns a single decorated complaint with its full audit trail.
func (s Service) One(ctx context.Context, id string) (domain.DecoratedComplaint, error) {
	c, err := s.Repo.GetComplaint(ctx, id)
	if err != nil {
		return domain.DecoratedComplaint{}, err
	}
	actions, err := s.Repo.ListActions(ctx, id)
	if err != nil {
		return domain.DecoratedComplaint{}, err
	}
	return Decorate(c, actions, s.now()), nil
}
