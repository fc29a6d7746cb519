package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status update would move a record
// out of a non-pending state.
var ErrInvalidTransition = errors.New("invalid status transition")

// Source identifies the external system a raw record was collected from.
type Source string

const (
	SourceGmail       Source = "gmail"
	SourceGoogleDrive Source = "google_drive"
	SourceIOSContacts Source = "ios_contacts"
	SourceIOSCalendar Source = "ios_calendar"
)

// Sources lists every known source in a stable order.
var Sources = []Source{SourceGmail, SourceGoogleDrive, SourceIOSContacts, SourceIOSCalendar}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Status is the processing lifecycle state of a raw record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// RawRecord is one ingested item from an external data source. RawPayload is
// the provider's serialized item; ProcessedFields is filled by extraction.
type RawRecord struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Source          Source         `json:"source"`
	DataType        string         `json:"data_type"`
	RawPayload      string         `json:"raw_payload"`
	ProcessedFields map[string]any `json:"processed_fields"`
	Status          Status         `json:"status"`
	CollectedAt     time.Time      `json:"collected_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type User struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	CreatedAt   time.Time        `json:"created_at"`
	LastLoginAt *time.Time       `json:"last_login_at,omitempty"`
	IsActive    bool             `json:"is_active"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

// UserPreferences is the aggregated profile derived from a user's raw records.
// It is always replaced as a whole, never merged.
type UserPreferences struct {
	Interests     []string       `json:"interests"`
	Habits        []string       `json:"habits"`
	Relationships []Relationship `json:"relationships"`
	Tasks         []TaskItem     `json:"tasks"`
	HealthInfo    *HealthInfo    `json:"health_info,omitempty"`
	WorkInfo      *WorkInfo      `json:"work_info,omitempty"`
	LastUpdated   time.Time      `json:"last_updated"`
}

type RelationshipType string

const (
	RelationshipDoctor    RelationshipType = "Doctor"
	RelationshipColleague RelationshipType = "Colleague"
	RelationshipFamily    RelationshipType = "Family"
	RelationshipFriend    RelationshipType = "Friend"
)

type Relationship struct {
	Name        string           `json:"name"`
	Type        RelationshipType `json:"type"`
	ContactInfo *ContactInfo     `json:"contact_info,omitempty"`
	Source      Source           `json:"source"`
	Confidence  float64          `json:"confidence"`
}

// DefaultTaskPriority is the only priority the aggregator assigns.
const DefaultTaskPriority = "Medium"

type TaskItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    string     `json:"priority"`
	IsCompleted bool       `json:"is_completed"`
	Source      Source     `json:"source"`
}

// TaskList is a slice of tasks with filtering helpers.
type TaskList []TaskItem

// Pending returns the tasks not yet completed, in their original order.
func (l TaskList) Pending() []TaskItem {
	var out []TaskItem
	for _, t := range l {
		if !t.IsCompleted {
			out = append(out, t)
		}
	}
	return out
}

type HealthInfo struct {
	Doctors     []Doctor `json:"doctors"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
}

type Doctor struct {
	Name        string       `json:"name"`
	Specialty   string       `json:"specialty"`
	ContactInfo *ContactInfo `json:"contact_info,omitempty"`
	LastVisit   *time.Time   `json:"last_visit,omitempty"`
}

type WorkInfo struct {
	Company    string         `json:"company,omitempty"`
	Position   string         `json:"position,omitempty"`
	Colleagues []Relationship `json:"colleagues"`
	Projects   []string       `json:"projects"`
}

type ContactInfo struct {
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatSession is a conversation with its full ordered message history.
// SessionID is the public identifier; ID is the storage key.
type ChatSession struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id"`
	Messages       []ChatMessage  `json:"messages"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	IsActive       bool           `json:"is_active"`
	Context        map[string]any `json:"context"`
}

type ChatMessage struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Role      Role           `json:"role"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Sources   []string       `json:"sources,omitempty"`
}
