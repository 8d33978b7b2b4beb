package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
)

var errUniqueViolation = errors.New("pq: duplicate key value violates unique constraint")

// memStore backs the review, course, statistics and response fakes with one
// shared state. WithinTx serialises transactions the way the course row lock
// does in Postgres.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users     map[string]*models.User
	courses   map[string]*models.Course
	reviews   map[string]*models.Review
	responses map[string]*models.ReviewResponse
	stats     map[string]*models.CourseStatistics
	audits    []*models.AuditLog

	txCount   int
	upserts   int
	upsertErr error
	locks     []string
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*models.User{},
		courses:   map[string]*models.Course{},
		reviews:   map[string]*models.Review{},
		responses: map[string]*models.ReviewResponse{},
		stats:     map[string]*models.CourseStatistics{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()
	return fn(nil)
}

func (s *memStore) addUser(role models.UserRole) *models.User {
	u := &models.User{ID: uuid.NewString(), Username: string(role) + "-" + uuid.NewString()[:8], Role: role, Active: true, FullName: "User " + string(role)}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addCourse(teacherID string) *models.Course {
	c := &models.Course{ID: uuid.NewString(), Name: "Distributed Systems", Code: "CS-" + uuid.NewString()[:6], Type: models.CourseTypeCourse, Active: true}
	if teacherID != "" {
		c.TeacherID = &teacherID
	}
	s.courses[c.ID] = c
	return c
}

func (s *memStore) addReview(userID, courseID string, status models.ModerationStatus, overall float64) *models.Review {
	now := time.Now().UTC()
	r := &models.Review{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  courseID,
		Ratings:   models.Ratings{Overall: overall},
		Comment:   "seeded review comment",
		Anonymous: true,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.reviews[r.ID] = r
	return r
}

type fakeUsers struct{ *memStore }

func (f fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, log)
	return nil
}

type fakeCourses struct{ *memStore }

func (f fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f fakeCourses) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	f.mu.Lock()
	f.locks = append(f.locks, "course:"+id)
	f.mu.Unlock()
	return f.FindByID(ctx, id)
}

type fakeReviews struct{ *memStore }

func (f fakeReviews) FindByID(ctx context.Context, id string) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f fakeReviews) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Review, error) {
	return f.FindByID(ctx, id)
}

func (f fakeReviews) FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	d := f.detail(r)
	return &d, nil
}

func (f fakeReviews) detail(r *models.Review) models.ReviewDetail {
	d := models.ReviewDetail{Review: *r}
	if u, ok := f.users[r.UserID]; ok {
		d.ReviewerName = u.FullName
	}
	if c, ok := f.courses[r.CourseID]; ok {
		d.CourseName = c.Name
		d.CourseCode = c.Code
	}
	return d
}

func (f fakeReviews) ExistsByUserAndCourse(ctx context.Context, userID, courseID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.UserID == userID && r.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeReviews) Create(ctx context.Context, review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.UserID == review.UserID && r.CourseID == review.CourseID {
			return &repository.DuplicateError{Constraint: "reviews_user_course_key", Err: errUniqueViolation}
		}
	}
	review.ID = uuid.NewString()
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now
	cp := *review
	f.reviews[review.ID] = &cp
	return nil
}

func (f fakeReviews) UpdateContentWithTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[review.ID]; !ok {
		return sql.ErrNoRows
	}
	review.UpdatedAt = time.Now().UTC()
	cp := *review
	f.reviews[review.ID] = &cp
	return nil
}

func (f fakeReviews) UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ModerationStatus, moderatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.ModeratedAt = &moderatedAt
	r.UpdatedAt = moderatedAt
	return nil
}

func (f fakeReviews) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.reviews, id)
	delete(f.responses, id)
	return nil
}

func (f fakeReviews) ListApprovedRatingsWithTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Ratings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Ratings
	for _, r := range f.reviews {
		if r.CourseID == courseID && r.Status == models.StatusApproved {
			out = append(out, r.Ratings)
		}
	}
	return out, nil
}

func (f fakeReviews) ListCourseIDsByUserWithTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range f.reviews {
		if r.UserID == userID && !seen[r.CourseID] {
			seen[r.CourseID] = true
			out = append(out, r.CourseID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f fakeReviews) list(match func(r *models.Review) bool) []models.ReviewDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReviewDetail
	for _, r := range f.reviews {
		if match(r) {
			out = append(out, f.detail(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func pageSlice(items []models.ReviewDetail, page, pageSize int) []models.ReviewDetail {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []models.ReviewDetail{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (f fakeReviews) ListApprovedByCourse(ctx context.Context, courseID string, page, pageSize int) ([]models.ReviewDetail, int, error) {
	all := f.list(func(r *models.Review) bool { return r.CourseID == courseID && r.Status == models.StatusApproved })
	return pageSlice(all, page, pageSize), len(all), nil
}

func (f fakeReviews) ListByUser(ctx context.Context, userID string) ([]models.ReviewDetail, error) {
	return f.list(func(r *models.Review) bool { return r.UserID == userID }), nil
}

func (f fakeReviews) ListForTeacher(ctx context.Context, teacherID string) ([]models.ReviewDetail, error) {
	f.mu.Lock()
	owned := map[string]bool{}
	for id, c := range f.courses {
		if c.TeacherID != nil && *c.TeacherID == teacherID {
			owned[id] = true
		}
	}
	f.mu.Unlock()
	return f.list(func(r *models.Review) bool { return owned[r.CourseID] }), nil
}

func (f fakeReviews) ListPending(ctx context.Context, page, pageSize int) ([]models.ReviewDetail, int, error) {
	all := f.list(func(r *models.Review) bool { return r.Status == models.StatusPending })
	return pageSlice(all, page, pageSize), len(all), nil
}

func (f fakeReviews) CountPending(ctx context.Context) (int, error) {
	return len(f.list(func(r *models.Review) bool { return r.Status == models.StatusPending })), nil
}

func (f fakeReviews) ListRecentApproved(ctx context.Context, limit int) ([]models.ReviewDetail, error) {
	all := f.list(func(r *models.Review) bool { return r.Status == models.StatusApproved })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type fakeStats struct{ *memStore }

func (f fakeStats) FindByCourse(ctx context.Context, courseID string) (*models.CourseStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *st
	return &cp, nil
}

func (f fakeStats) UpsertWithTx(ctx context.Context, tx *sqlx.Tx, stats *models.CourseStatistics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	cp := *stats
	f.stats[stats.CourseID] = &cp
	return nil
}

type fakeResponses struct{ *memStore }

func (f fakeResponses) FindByReview(ctx context.Context, reviewID string) (*models.ReviewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.responses[reviewID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *resp
	return &cp, nil
}

func (f fakeResponses) Create(ctx context.Context, resp *models.ReviewResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.responses[resp.ReviewID]; ok {
		return &repository.DuplicateError{Constraint: "review_responses_review_id_key", Err: errUniqueViolation}
	}
	resp.ID = uuid.NewString()
	resp.CreatedAt = time.Now().UTC()
	resp.UpdatedAt = resp.CreatedAt
	cp := *resp
	f.responses[resp.ReviewID] = &cp
	return nil
}

func (f fakeResponses) Update(ctx context.Context, resp *models.ReviewResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.responses[resp.ReviewID]
	if !ok || cur.ID != resp.ID {
		return sql.ErrNoRows
	}
	cur.ResponseText = resp.ResponseText
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (f fakeResponses) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for reviewID, resp := range f.responses {
		if resp.ID == id {
			delete(f.responses, reviewID)
			return nil
		}
	}
	return sql.ErrNoRows
}

// reviewFixture wires the review, statistics and response services over one
// memStore.
type reviewFixture struct {
	store     *memStore
	stats     *StatisticsService
	reviews   *ReviewService
	responses *ReviewResponseService
	metrics   *MetricsService
}

func newReviewFixture() *reviewFixture {
	store := newMemStore()
	metrics := NewMetricsService()
	stats := NewStatisticsService(fakeReviews{store}, fakeStats{store}, fakeCourses{store}, store, nil, time.Minute, metrics, nil)
	reviews := NewReviewService(fakeReviews{store}, fakeUsers{store}, fakeCourses{store}, stats, store, metrics, nil, ReviewConfig{})
	responses := NewReviewResponseService(fakeResponses{store}, fakeReviews{store}, fakeCourses{store}, nil, 0)
	return &reviewFixture{store: store, stats: stats, reviews: reviews, responses: responses, metrics: metrics}
}

func floatPtr(v float64) *float64 { return &v }
