package domain

// Energy levels a block can demand or a task can require.
const (
	EnergyLow      = "LOW"
	EnergyMedium   = "MEDIUM"
	EnergyHigh     = "HIGH"
	EnergyCreative = "CREATIVE"
)

// Task priorities, highest first when scheduling.
const (
	PriorityUrgent = "URGENT"
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// Task statuses.
const (
	TaskNew        = "NEW"
	TaskInProgress = "IN_PROGRESS"
	TaskWaiting    = "WAITING"
	TaskCompleted  = "COMPLETED"
	TaskCanceled   = "CANCELED"
)

// ScheduledTask statuses.
const (
	SchedPlanned     = "PLANNED"
	SchedInProgress  = "IN_PROGRESS"
	SchedCompleted   = "COMPLETED"
	SchedCanceled    = "CANCELED"
	SchedRescheduled = "RESCHEDULED"
)

// Compatibility grades for a task/block pairing.
const (
	CompatExact        = "EXACT"
	CompatFallback     = "FALLBACK"
	CompatIncompatible = "INCOMPATIBLE"
)

// Estimate accuracy stamped on completion (tolerance band from config).
const (
	EstimateUnder = "UNDER"
	EstimateOn    = "ON_TARGET"
	EstimateOver  = "OVER"
)

type User struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EnergyBlock is a named recurring daily time window. Times are "HH:MM"
// strings; blocks are soft-disabled via IsActive so historical scheduling
// records stay resolvable.
type EnergyBlock struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	OrgID             string   `json:"org_id"`
	Name              string   `json:"name"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time"`
	RequiredEnergy    string   `json:"required_energy" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	PrimaryContext    string   `json:"primary_context"`
	AlternateContexts []string `json:"alternate_contexts,omitempty"`
	IsBreak           bool     `json:"is_break"`
	AppliesOnWorkdays bool     `json:"applies_on_workdays"`
	AppliesOnWeekends bool     `json:"applies_on_weekends"`
	AppliesOnHolidays bool     `json:"applies_on_holidays"`
	SortOrder         int      `json:"sort_order"`
	IsActive          bool     `json:"is_active"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

// Task is a schedulable work item. The scheduler never mutates business
// fields; the only scheduling write-back is the ScheduledTask linkage.
type Task struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	OrgID             string  `json:"org_id"`
	Title             string  `json:"title"`
	Priority          string  `json:"priority" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Status            string  `json:"status" enum:"NEW,IN_PROGRESS,WAITING,COMPLETED,CANCELED"`
	DueDate           *string `json:"due_date,omitempty" format:"date"`
	EstimatedDuration int     `json:"estimated_duration"`
	RequiredContext   string  `json:"required_context"`
	RequiredEnergy    *string `json:"required_energy,omitempty" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	// Seq is the monotonic intake sequence. Timestamps are second-resolution
	// and can tie; Seq is the authoritative creation order.
	Seq       int64  `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ScheduledTask binds a task to a block and calendar date. Records are never
// deleted on completion; a reschedule terminates the old record as
// RESCHEDULED and creates a successor.
type ScheduledTask struct {
	ID                string  `json:"id"`
	TaskID            *string `json:"task_id,omitempty"`
	UserID            string  `json:"user_id"`
	EnergyBlockID     string  `json:"energy_block_id"`
	ScheduledDate     string  `json:"scheduled_date" format:"date"`
	EstimatedDuration int     `json:"estimated_duration"`
	ActualDuration    *int    `json:"actual_duration,omitempty"`
	Status            string  `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED,CANCELED,RESCHEDULED"`
	Compatibility     string  `json:"compatibility" enum:"EXACT,FALLBACK"`
	EstimateAccuracy  *string `json:"estimate_accuracy,omitempty" enum:"UNDER,ON_TARGET,OVER"`
	StartedAt         *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	WasRescheduled    bool    `json:"was_rescheduled"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// IsActiveStatus reports whether a scheduled-task status still occupies
// block capacity.
func IsActiveStatus(status string) bool {
	return status == SchedPlanned || status == SchedInProgress
}

// EnergyAnalytics is the per-(block, day) rollup maintained by the
// aggregator. One row per observed day, overwritten on recomputation.
type EnergyAnalytics struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	EnergyBlockID     string  `json:"energy_block_id"`
	Date              string  `json:"date" format:"date"`
	PlannedEnergy     string  `json:"planned_energy" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	ActualEnergy      *string `json:"actual_energy,omitempty" enum:"LOW,MEDIUM,HIGH,CREATIVE"`
	EnergyScore       float64 `json:"energy_score"`
	TasksPlanned      int     `json:"tasks_planned"`
	TasksCompleted    int     `json:"tasks_completed"`
	ProductivityScore float64 `json:"productivity_score"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// EnergyRank orders levels for satisfiability checks. CREATIVE sits with
// HIGH: creative work is not placeable in low-energy windows.
func EnergyRank(level string) int {
	switch level {
	case EnergyLow:
		return 1
	case EnergyMedium:
		return 2
	case EnergyHigh, EnergyCreative:
		return 3
	default:
		return 0
	}
}

// DemoteEnergy returns the level one rank below, flooring at LOW. CREATIVE
// demotes to MEDIUM like HIGH does.
func DemoteEnergy(level string) string {
	switch level {
	case EnergyHigh, EnergyCreative:
		return EnergyMedium
	case EnergyMedium:
		return EnergyLow
	default:
		return EnergyLow
	}
}

// PriorityRank orders priorities for scheduling, highest first.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ValidEnergy reports whether level is a known energy level.
func ValidEnergy(level string) bool {
	return EnergyRank(level) > 0
}

// ValidPriority reports whether priority is a known priority.
func ValidPriority(priority string) bool {
	return PriorityRank(priority) > 0
}
