package models

import (
	"fmt"
	"time"
)

// Recording is the metadata row of a stored composite lesson recording.
// The binary lives in the recordings bucket under StoragePath
// ({groupId}/{timestamp}.webm).
type Recording struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	LessonDate  string    `json:"lesson_date"` // YYYY-MM-DD
	UploadedBy  string    `json:"uploaded_by"`
	Title       string    `json:"title"`
	FileSize    int64     `json:"file_size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupRecordingStats aggregates the recordings of one group.
type GroupRecordingStats struct {
	GroupID    string `json:"group_id"`
	Recordings int    `json:"recordings"`
	TotalBytes int64  `json:"total_bytes"`
}

// CreateRecordingRequest carries the non-binary part of an upload.
type CreateRecordingRequest struct {
	GroupID    string
	LessonDate string
	Title      string
}

// Validate fills defaults and rejects malformed fields.
func (r *CreateRecordingRequest) Validate(now time.Time) error {
	if r.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if r.LessonDate == "" {
		r.LessonDate = now.Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, r.LessonDate); err != nil {
		return fmt.Errorf("lesson_date must be YYYY-MM-DD")
	}
	if r.Title == "" {
		r.Title = fmt.Sprintf("Group lesson %s", r.LessonDate)
	}
	if len(r.Title) > 200 {
		return fmt.Errorf("title is too long")
	}
	return nil
}
