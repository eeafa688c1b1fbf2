package server

import (
	"planline/internal/domain"
	"planline/internal/engine"
)

// Request payloads

type CreateBlockRequest struct {
	ID                *string  `json:"id,omitempty"`
	UserID            string   `json:"user_id"`
	Name              string   `json:"name"`
	StartTime         string   `json:"start_time" example:"09:00"`
	EndTime           string   `json:"end_time" example:"11:00"`
	RequiredEnergy    string   `json:"required_energy" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	PrimaryContext    string   `json:"primary_context" example:"@computer"`
	AlternateContexts []string `json:"alternate_contexts,omitempty"`
	IsBreak           bool     `json:"is_break,omitempty"`
	AppliesOnWorkdays *bool    `json:"applies_on_workdays,omitempty"`
	AppliesOnWeekends bool     `json:"applies_on_weekends,omitempty"`
	AppliesOnHolidays bool     `json:"applies_on_holidays,omitempty"`
	SortOrder         int      `json:"sort_order,omitempty"`
}

type UpdateBlockRequest struct {
	Name              *string  `json:"name,omitempty"`
	StartTime         *string  `json:"start_time,omitempty"`
	EndTime           *string  `json:"end_time,omitempty"`
	RequiredEnergy    *string  `json:"required_energy,omitempty" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	PrimaryContext    *string  `json:"primary_context,omitempty"`
	AlternateContexts []string `json:"alternate_contexts,omitempty"`
	SortOrder         *int     `json:"sort_order,omitempty"`
	IsActive          *bool    `json:"is_active,omitempty"`
}

type CreateTaskRequest struct {
	ID                *string `json:"id,omitempty"`
	UserID            string  `json:"user_id"`
	Title             string  `json:"title"`
	Priority          string  `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	DueDate           *string `json:"due_date,omitempty" format:"date"`
	EstimatedDuration int     `json:"estimated_duration"`
	RequiredContext   string  `json:"required_context,omitempty"`
	RequiredEnergy    *string `json:"required_energy,omitempty" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
}

type UpdateTaskRequest struct {
	Title             *string `json:"title,omitempty"`
	Priority          *string `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Status            *string `json:"status,omitempty" enum:"NEW,IN_PROGRESS,WAITING,COMPLETED,CANCELED"`
	DueDate           *string `json:"due_date,omitempty"`
	EstimatedDuration *int    `json:"estimated_duration,omitempty"`
	RequiredContext   *string `json:"required_context,omitempty"`
	RequiredEnergy    *string `json:"required_energy,omitempty"`
}

type PlanRunRequest struct {
	UserID string `json:"user_id"`
	From   string `json:"from" format:"date"`
	To     string `json:"to" format:"date"`
}

type CompleteScheduledRequest struct {
	ActualDuration *int `json:"actual_duration,omitempty"`
}

type RescheduleScheduledRequest struct {
	Reason string `json:"reason"`
}

type RecomputeAnalyticsRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date" format:"date"`
}

// Response payloads

type PlanResponse struct {
	Scheduled []domain.ScheduledTask `json:"scheduled"`
	Unplaced  []engine.PlanIssue     `json:"unplaced,omitempty"`
	Skipped   []engine.PlanIssue     `json:"skipped,omitempty"`
}

func planResponse(res engine.PlanResult) PlanResponse {
	return PlanResponse{
		Scheduled: res.Scheduled,
		Unplaced:  res.Unplaced,
		Skipped:   res.Skipped,
	}
}
