package domain

// Complaint statuses, in lifecycle order.
const (
	StatusNew         = "new"
	StatusClassified  = "classified"
	StatusUnderAction = "under_action"
	StatusResolved    = "resolved"
)

// Priorities recognized by the SLA table. Anything else is treated as Low
// for display purposes.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// AddressUnavailable is stored when a complaint carries no coordinates.
const AddressUnavailable = "Location not provided"

type Complaint struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	UserName    string   `json:"user_name"`
	Mobile      string   `json:"mobile,omitempty"`
	Description string   `json:"description"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Address     string   `json:"address"`
	ImagePath   *string  `json:"image_path,omitempty"`
	Department  *string  `json:"department,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	Status      string   `json:"status" enum:"new,classified,under_action,resolved"`
	Deadline    *string  `json:"deadline,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	LastUpdated string   `json:"last_updated" format:"date-time"`
}

// Action is one entry of a complaint's append-only audit trail.
type Action struct {
	ID          int64  `json:"id"`
	ComplaintID string `json:"complaint_id"`
	Action      string `json:"action"`
	TS          string `json:"ts" format:"date-time"`
	By          string `json:"by"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	ComplaintID string `json:"complaint_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

// Elapsed is wall time since a reference instant, split the way the
// dashboards render it.
type Elapsed struct {
	Days  int `json:"days"`
	Hours int `json:"hours"`
}

// DecoratedComplaint is a Complaint plus the derived read-time fields.
// Derived fields are never stored; they are recomputed on every read.
type DecoratedComplaint struct {
	Complaint
	Actions     []Action `json:"actions"`
	TimePassed  Elapsed  `json:"time_passed"`
	HoursPassed int      `json:"hours_passed"`
	IsOverdue   bool     `json:"is_overdue"`
}
