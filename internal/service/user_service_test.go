package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

func (f fakeUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (f fakeUsers) Counts(ctx context.Context) (*models.UserCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := &models.UserCounts{}
	for _, u := range f.users {
		counts.Total++
		if u.Active {
			counts.Active++
		}
		switch u.Role {
		case models.RoleStudent:
			counts.Students++
		case models.RoleTeacher:
			counts.Teachers++
		case models.RoleAdmin:
			counts.Admins++
		}
	}
	return counts, nil
}

func (f fakeUsers) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	return nil
}

func (f fakeUsers) SetActive(ctx context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = active
	return nil
}

func (f fakeUsers) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return sql.ErrNoRows
	}
	f.locks = append(f.locks, "user:"+id)
	return nil
}

func (f fakeUsers) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.users, id)
	for reviewID, r := range f.reviews {
		if r.UserID == id {
			delete(f.reviews, reviewID)
			delete(f.responses, reviewID)
		}
	}
	return nil
}

func newUserServiceForTest(f *reviewFixture) *UserService {
	return NewUserService(fakeUsers{f.store}, fakeReviews{f.store}, fakeCourses{f.store}, f.stats, f.store, nil)
}

func TestUserServiceDeleteRecomputesReviewedCourses(t *testing.T) {
	f := newReviewFixture()
	svc := newUserServiceForTest(f)
	admin := f.store.addUser(models.RoleAdmin)
	leaving := f.store.addUser(models.RoleStudent)
	staying := f.store.addUser(models.RoleStudent)
	algorithms := f.store.addCourse("")
	databases := f.store.addCourse("")
	f.store.addReview(leaving.ID, algorithms.ID, models.StatusApproved, 1.0)
	f.store.addReview(staying.ID, algorithms.ID, models.StatusApproved, 5.0)
	f.store.addReview(leaving.ID, databases.ID, models.StatusApproved, 2.0)
	ctx := context.Background()
	require.NoError(t, f.stats.RecomputeCourse(ctx, algorithms.ID))
	require.NoError(t, f.stats.RecomputeCourse(ctx, databases.ID))

	require.NoError(t, svc.Delete(ctx, leaving.ID, AuditMeta{ActorID: admin.ID}))

	algo, err := f.stats.Get(ctx, algorithms.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, algo.TotalReviews)
	assert.Equal(t, floatPtr(5.0), algo.AvgOverall)

	db, err := f.stats.Get(ctx, databases.ID)
	require.NoError(t, err)
	assert.Zero(t, db.TotalReviews)
	assert.Nil(t, db.AvgOverall)

	require.Len(t, f.store.audits, 1)
	assert.Equal(t, models.AuditActionUserDelete, f.store.audits[0].Action)
}

func TestUserServiceDeleteLocksUserBeforeEveryReviewedCourse(t *testing.T) {
	f := newReviewFixture()
	svc := newUserServiceForTest(f)
	admin := f.store.addUser(models.RoleAdmin)
	leaving := f.store.addUser(models.RoleStudent)
	approved := f.store.addCourse("")
	pending := f.store.addCourse("")
	f.store.addReview(leaving.ID, approved.ID, models.StatusApproved, 4.0)
	f.store.addReview(leaving.ID, pending.ID, models.StatusPending, 2.0)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, leaving.ID, AuditMeta{ActorID: admin.ID}))

	require.NotEmpty(t, f.store.locks)
	assert.Equal(t, "user:"+leaving.ID, f.store.locks[0])
	assert.Contains(t, f.store.locks, "course:"+approved.ID)
	assert.Contains(t, f.store.locks, "course:"+pending.ID)

	stats, err := f.stats.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReviews)
}

func TestUserServiceGuardsSelfManagement(t *testing.T) {
	f := newReviewFixture()
	svc := newUserServiceForTest(f)
	admin := f.store.addUser(models.RoleAdmin)
	meta := AuditMeta{ActorID: admin.ID, IP: "127.0.0.1"}
	ctx := context.Background()

	requireCode(t, svc.Delete(ctx, admin.ID, meta), appErrors.ErrForbidden)
	requireCode(t, svc.SetActive(ctx, admin.ID, false, meta), appErrors.ErrForbidden)
	_, err := svc.UpdateRole(ctx, admin.ID, models.UpdateRoleRequest{Role: "STUDENT"}, meta)
	requireCode(t, err, appErrors.ErrForbidden)

	requireCode(t, svc.Delete(ctx, "missing", meta), appErrors.ErrNotFound)
}

func TestUserServiceUpdateRoleAndStatus(t *testing.T) {
	f := newReviewFixture()
	svc := newUserServiceForTest(f)
	admin := f.store.addUser(models.RoleAdmin)
	student := f.store.addUser(models.RoleStudent)
	meta := AuditMeta{ActorID: admin.ID}
	ctx := context.Background()

	_, err := svc.UpdateRole(ctx, student.ID, models.UpdateRoleRequest{Role: "PRINCIPAL"}, meta)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	updated, err := svc.UpdateRole(ctx, student.ID, models.UpdateRoleRequest{Role: "teacher"}, meta)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, updated.Role)

	require.NoError(t, svc.SetActive(ctx, student.ID, false, meta))
	assert.False(t, f.store.users[student.ID].Active)

	counts, err := svc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Active)
	assert.Equal(t, 1, counts.Teachers)

	require.Len(t, f.store.audits, 2)
	assert.Equal(t, models.AuditActionRoleChange, f.store.audits[0].Action)
	assert.Equal(t, models.AuditActionUserDeactivate, f.store.audits[1].Action)
}

func TestUserServiceListDefaultsPaging(t *testing.T) {
	f := newReviewFixture()
	svc := newUserServiceForTest(f)
	f.store.addUser(models.RoleStudent)
	f.store.addUser(models.RoleTeacher)
	role := models.RoleTeacher

	users, pagination, err := svc.List(context.Background(), models.UserFilter{Role: &role})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
