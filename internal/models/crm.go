package models

import "time"

type Contact struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Position  string    `json:"position,omitempty"`
	Tags      string    `json:"tags,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Deal stages, in pipeline order.
const (
	StageLead        = "lead"
	StageQualified   = "qualified"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

var DealStages = []string{StageLead, StageQualified, StageProposal, StageNegotiation, StageWon, StageLost}

type Deal struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ContactID *int64    `json:"contact_id,omitempty"`
	Title     string    `json:"title"`
	Value     float64   `json:"value"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Activity is a timeline entry written when records are created.
type Activity struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	ContactID   *int64    `json:"contact_id,omitempty"`
	DealID      *int64    `json:"deal_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
