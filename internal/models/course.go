package models

import (
	"fmt"
	"strings"
	"time"
)

// CourseType separates taught courses from campus services.
type CourseType string

const (
	CourseTypeCourse  CourseType = "COURSE"
	CourseTypeService CourseType = "SERVICE"
)

// ParseCourseType accepts a type name in any case.
func ParseCourseType(raw string) (CourseType, error) {
	switch t := CourseType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case CourseTypeCourse, CourseTypeService:
		return t, nil
	default:
		return "", fmt.Errorf("unknown course type %q", raw)
	}
}

// Course is a reviewable course or service.
type Course struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Code        string     `db:"code" json:"code"`
	Description *string    `db:"description" json:"description,omitempty"`
	Type        CourseType `db:"type" json:"type"`
	TeacherID   *string    `db:"teacher_id" json:"teacher_id,omitempty"`
	Department  *string    `db:"department" json:"department,omitempty"`
	Semester    *string    `db:"semester" json:"semester,omitempty"`
	Credits     *int       `db:"credits" json:"credits,omitempty"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// CourseSummary is a course joined with its teacher name and cached statistics.
type CourseSummary struct {
	Course
	TeacherName *string `db:"teacher_name" json:"teacher_name,omitempty"`
	RatingAverages
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	Search     string
	Department string
	Type       *CourseType
	TeacherID  string
	// IncludeInactive is honoured for admins only.
	IncludeInactive bool
	Page            int
	PageSize        int
}

// CourseRequest is the admin payload for creating or updating a course.
type CourseRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Code        string  `json:"code" validate:"required,max=50"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Type        string  `json:"type" validate:"required"`
	TeacherID   *string `json:"teacher_id" validate:"omitempty,uuid"`
	Department  *string `json:"department" validate:"omitempty,max=100"`
	Semester    *string `json:"semester" validate:"omitempty,max=50"`
	Credits     *int    `json:"credits" validate:"omitempty,min=0,max=60"`
}
