package server

import (
	"civicdesk/internal/domain"
	"civicdesk/internal/engine"
	"civicdesk/internal/projection"
)

type StatusMessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type UpdateStatusRequest struct {
	ComplaintID string `json:"complaintId"`
	Status      string `json:"status"`
	AdminName   string `json:"adminName,omitempty"`
	Forced      bool   `json:"forced,omitempty"`
}

type ClassifyRequest struct {
	ComplaintID string `json:"complaintId"`
	Department  string `json:"department"`
	Priority    string `json:"priority" enum:"High,Medium,Low"`
	AdminName   string `json:"adminName,omitempty"`
}

type BotQueryRequest struct {
	Message string `json:"message"`
}

type BotCheckStatusRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type BotReplyResponse struct {
	Reply string `json:"reply"`
}

type ActionResponse struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	By        string `json:"by"`
}

// ComplaintResponse is the wire form of a decorated complaint. TimePassed
// is pre-rendered ("2d 5h") so every client shows the same age.
type ComplaintResponse struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	UserName    string           `json:"userName"`
	Mobile      string           `json:"mobile,omitempty"`
	Description string           `json:"description"`
	Lat         *float64         `json:"lat,omitempty"`
	Lng         *float64         `json:"lng,omitempty"`
	Address     string           `json:"address"`
	ImagePath   string           `json:"imagePath,omitempty"`
	Department  string           `json:"department"`
	Priority    string           `json:"priority"`
	Status      string           `json:"status"`
	Deadline    string           `json:"deadline,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	LastUpdated string           `json:"lastUpdated"`
	Actions     []ActionResponse `json:"actions"`
	TimePassed  string           `json:"timePassed"`
	HoursPassed int              `json:"hoursPassed"`
	IsOverdue   bool             `json:"isOverdue"`
}

type ComplaintListResponse struct {
	Items []ComplaintResponse `json:"items"`
}

type OverviewResponse struct {
	Items      []ComplaintResponse            `json:"items"`
	Recent     []ComplaintResponse            `json:"recent"`
	ByPriority map[string][]ComplaintResponse `json:"byPriority"`
	AnyOverdue bool                           `json:"anyOverdue"`
}

func complaintResponse(d domain.DecoratedComplaint) ComplaintResponse {
	r := ComplaintResponse{
		ID:          d.ID,
		UserID:      d.UserID,
		UserName:    d.UserName,
		Mobile:      d.Mobile,
		Description: d.Description,
		Lat:         d.Lat,
		Lng:         d.Lng,
		Address:     d.Address,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		LastUpdated: d.LastUpdated,
		Actions:     []ActionResponse{},
		TimePassed:  engine.FormatElapsed(d.TimePassed),
		HoursPassed: d.HoursPassed,
		IsOverdue:   d.IsOverdue,
	}
	if d.ImagePath != nil {
		r.ImagePath = *d.ImagePath
	}
	if d.Department != nil {
		r.Department = *d.Department
	}
	if d.Priority != nil {
		r.Priority = *d.Priority
	}
	if d.Deadline != nil {
		r.Deadline = *d.Deadline
	}
	for _, a := range d.Actions {
		r.Actions = append(r.Actions, ActionResponse{Action: a.Action, Timestamp: a.TS, By: a.By})
	}
	return r
}

func mapComplaints(items []domain.DecoratedComplaint) []ComplaintResponse {
	res := make([]ComplaintResponse, 0, len(items))
	for _, d := range items {
		res = append(res, complaintResponse(d))
	}
	return res
}

func overviewResponse(ov projection.Overview) OverviewResponse {
	resp := OverviewResponse{
		Items:      mapComplaints(ov.Items),
		Recent:     mapComplaints(ov.Recent),
		ByPriority: map[string][]ComplaintResponse{},
		AnyOverdue: ov.AnyOverdue,
	}
	for p, items := range ov.ByPriority {
		resp.ByPriority[p] = mapComplaints(items)
	}
	return resp
}
