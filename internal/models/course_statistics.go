package models

import "time"

// RatingAverages holds per-component means over approved reviews. A nil
// average means no approved review supplied that component.
type RatingAverages struct {
	AvgOverall   *float64 `db:"avg_rating_overall" json:"avg_rating_overall"`
	AvgClarity   *float64 `db:"avg_rating_clarity" json:"avg_rating_clarity"`
	AvgMaterial  *float64 `db:"avg_rating_material" json:"avg_rating_material"`
	AvgPedagogy  *float64 `db:"avg_rating_pedagogy" json:"avg_rating_pedagogy"`
	TotalReviews int      `db:"total_reviews" json:"total_reviews"`
}

// CourseStatistics is the cached aggregate row for one course.
type CourseStatistics struct {
	ID       string `db:"id" json:"-"`
	CourseID string `db:"course_id" json:"course_id"`
	RatingAverages
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
}

// CourseStatisticsRow is one line of the statistics export.
type CourseStatisticsRow struct {
	CourseID   string     `db:"course_id"`
	CourseCode string     `db:"course_code"`
	CourseName string     `db:"course_name"`
	Department *string    `db:"department"`
	Type       CourseType `db:"type"`
	RatingAverages
	LastUpdated *time.Time `db:"last_updated"`
}
