package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NamingRequest struct {
	ID               string               `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SubmitterID      string               `json:"submitter_id" gorm:"index;not null"`
	Title            string               `json:"title" gorm:"not null"`
	FormData         map[string]any       `json:"form_data" gorm:"serializer:json;type:text"`
	Status           string               `json:"status" gorm:"default:submitted;not null;index"`
	AssignedReviewer string               `json:"assigned_reviewer" gorm:"index;not null;default:''"`
	ReviewNotes      string               `json:"review_notes" gorm:"type:text"`
	StatusHistory    []StatusHistoryEntry `json:"status_history" gorm:"foreignKey:RequestID"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// BeforeCreate assigns the opaque request id.
func (r *NamingRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// StatusHistoryEntry is one accepted status change. Rows are only ever inserted.
type StatusHistoryEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	RequestID string    `json:"-" gorm:"type:varchar(36);index;not null"`
	Status    string    `json:"status" gorm:"not null"`
	ChangedBy string    `json:"changed_by" gorm:"not null"`
	ChangedAt time.Time `json:"changed_at" gorm:"not null"`
	Comment   string    `json:"comment" gorm:"type:text"`
}

// LastStatus returns the status of the newest history entry, or "" when there is none.
func (r *NamingRequest) LastStatus() string {
	if len(r.StatusHistory) == 0 {
		return ""
	}
	return r.StatusHistory[len(r.StatusHistory)-1].Status
}
