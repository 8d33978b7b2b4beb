package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ModerationStatus is the closed set of review states.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "PENDING"
	StatusApproved ModerationStatus = "APPROVED"
	StatusRejected ModerationStatus = "REJECTED"
)

// ParseModerationStatus maps a caller supplied status onto the closed set.
// Unknown values are rejected rather than coerced.
func ParseModerationStatus(raw string) (ModerationStatus, error) {
	switch s := ModerationStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusApproved, StatusRejected:
		return s, nil
	default:
		return "", fmt.Errorf("unknown moderation status %q", raw)
	}
}

const (
	MinRating = 0.0
	MaxRating = 5.0
)

// Ratings are the per-review scores. Overall is mandatory, the rest optional.
type Ratings struct {
	Overall  float64  `db:"rating_overall" json:"overall"`
	Clarity  *float64 `db:"rating_clarity" json:"clarity,omitempty"`
	Material *float64 `db:"rating_material" json:"material,omitempty"`
	Pedagogy *float64 `db:"rating_pedagogy" json:"pedagogy,omitempty"`
}

// Validate checks range and precision of every present component.
func (r Ratings) Validate() error {
	if err := checkRating("overall", &r.Overall); err != nil {
		return err
	}
	if err := checkRating("clarity", r.Clarity); err != nil {
		return err
	}
	if err := checkRating("material", r.Material); err != nil {
		return err
	}
	return checkRating("pedagogy", r.Pedagogy)
}

func checkRating(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < MinRating || *v > MaxRating {
		return fmt.Errorf("%s rating must be between %.1f and %.1f", name, MinRating, MaxRating)
	}
	tenths := *v * 10
	if math.Abs(tenths-math.Round(tenths)) > 1e-9 {
		return fmt.Errorf("%s rating allows at most one decimal place", name)
	}
	return nil
}

// Review is a student's rating and comment on one course.
type Review struct {
	ID       string `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"user_id,omitempty"`
	CourseID string `db:"course_id" json:"course_id"`
	Ratings  `json:"ratings"`

	Comment     string           `db:"comment" json:"comment"`
	Anonymous   bool             `db:"anonymous" json:"anonymous"`
	Status      ModerationStatus `db:"status" json:"status"`
	ModeratedAt *time.Time       `db:"moderated_at" json:"moderated_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// AnonymousReviewer replaces the author name on anonymous reviews.
const AnonymousReviewer = "Anonymous"

// ReviewDetail is a review joined with author, course and teacher response.
type ReviewDetail struct {
	Review
	ReviewerName      string     `db:"reviewer_name" json:"reviewer_name"`
	CourseName        string     `db:"course_name" json:"course_name"`
	CourseCode        string     `db:"course_code" json:"course_code"`
	ResponseID        *string    `db:"response_id" json:"response_id,omitempty"`
	ResponseText      *string    `db:"response_text" json:"response_text,omitempty"`
	ResponseTeacherID *string    `db:"response_teacher_id" json:"response_teacher_id,omitempty"`
	ResponseCreatedAt *time.Time `db:"response_created_at" json:"response_created_at,omitempty"`
}

// Anonymize hides the author of an anonymous review.
func (d *ReviewDetail) Anonymize() {
	if !d.Anonymous {
		return
	}
	d.UserID = ""
	d.ReviewerName = AnonymousReviewer
}

// RatingsInput carries ratings as submitted; nil Overall is rejected.
type RatingsInput struct {
	Overall  *float64 `json:"overall"`
	Clarity  *float64 `json:"clarity"`
	Material *float64 `json:"material"`
	Pedagogy *float64 `json:"pedagogy"`
}

// CreateReviewRequest is the payload for submitting a review.
type CreateReviewRequest struct {
	CourseID  string       `json:"course_id" validate:"required"`
	Ratings   RatingsInput `json:"ratings"`
	Comment   string       `json:"comment"`
	Anonymous *bool        `json:"anonymous"`
}

// UpdateReviewRequest is the payload for editing a review.
type UpdateReviewRequest struct {
	Ratings   RatingsInput `json:"ratings"`
	Comment   string       `json:"comment"`
	Anonymous *bool        `json:"anonymous"`
}

// ModerateReviewRequest carries the requested status as free text.
type ModerateReviewRequest struct {
	Status string `json:"status" validate:"required"`
}

// ReviewCheck answers whether a user already reviewed a course.
type ReviewCheck struct {
	CourseID string `json:"course_id"`
	Reviewed bool   `json:"reviewed"`
}
