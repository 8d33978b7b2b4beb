package models

import "time"

// ReviewResponse is a teacher's single reply to a review.
type ReviewResponse struct {
	ID           string    `db:"id" json:"id"`
	ReviewID     string    `db:"review_id" json:"review_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	ResponseText string    `db:"response_text" json:"response_text"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ReviewResponseRequest is the payload for adding or editing a response.
type ReviewResponseRequest struct {
	ResponseText string `json:"response_text"`
}
