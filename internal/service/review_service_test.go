package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/authz"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

func requireCode(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected app error, got %v", err)
	assert.Equal(t, want.Code, appErr.Code)
	assert.Equal(t, want.Status, appErr.Status)
}

func actorOf(u *models.User) authz.Actor {
	return authz.Actor{ID: u.ID, Role: u.Role}
}

func validCreate(courseID string) models.CreateReviewRequest {
	return models.CreateReviewRequest{
		CourseID: courseID,
		Ratings:  models.RatingsInput{Overall: floatPtr(4.5), Clarity: floatPtr(4.0)},
		Comment:  "Clear lectures and fair exams.",
	}
}

func TestReviewCreate(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")

	review, err := f.reviews.Create(context.Background(), student.ID, validCreate(course.ID))
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.Equal(t, models.StatusPending, review.Status)
	assert.True(t, review.Anonymous)
	assert.Equal(t, 4.5, review.Overall)
	assert.Zero(t, f.store.upserts, "pending reviews never trigger aggregation")
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ReviewsCreated)
}

func TestReviewCreateFailures(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	teacher := f.store.addUser(models.RoleTeacher)
	course := f.store.addCourse("")
	ctx := context.Background()

	_, err := f.reviews.Create(ctx, "ghost", validCreate(course.ID))
	requireCode(t, err, appErrors.ErrNotFound)

	_, err = f.reviews.Create(ctx, teacher.ID, validCreate(course.ID))
	requireCode(t, err, appErrors.ErrForbidden)

	_, err = f.reviews.Create(ctx, student.ID, validCreate("missing-course"))
	requireCode(t, err, appErrors.ErrNotFound)

	req := validCreate(course.ID)
	req.Ratings.Overall = floatPtr(5.5)
	_, err = f.reviews.Create(ctx, student.ID, req)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	req = validCreate(course.ID)
	req.Ratings.Clarity = floatPtr(3.25)
	_, err = f.reviews.Create(ctx, student.ID, req)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	req = validCreate(course.ID)
	req.Ratings.Overall = nil
	_, err = f.reviews.Create(ctx, student.ID, req)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	req = validCreate(course.ID)
	req.Comment = "   too short "
	_, err = f.reviews.Create(ctx, student.ID, req)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	req = validCreate(course.ID)
	req.Comment = strings.Repeat("x", 2001)
	_, err = f.reviews.Create(ctx, student.ID, req)
	requireCode(t, err, appErrors.ErrInvalidArgument)

	_, err = f.reviews.Create(ctx, student.ID, validCreate(course.ID))
	require.NoError(t, err)
	_, err = f.reviews.Create(ctx, student.ID, validCreate(course.ID))
	requireCode(t, err, appErrors.ErrConflict)
}

func TestReviewConcurrentCreateYieldsOneReview(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reviews.Create(context.Background(), student.ID, validCreate(course.ID))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, appErrors.ErrConflict)
		conflicts++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, f.store.reviews, 1)
}

func TestReviewEditResetsToPending(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")
	approved := f.store.addReview(student.ID, course.ID, models.StatusApproved, 5.0)
	ctx := context.Background()
	require.NoError(t, f.stats.RecomputeCourse(ctx, course.ID))

	anonymous := false
	updated, err := f.reviews.Edit(ctx, approved.ID, actorOf(student), models.UpdateReviewRequest{
		Ratings:   models.RatingsInput{Overall: floatPtr(2.0)},
		Comment:   "Changed my mind after the final.",
		Anonymous: &anonymous,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.Nil(t, updated.ModeratedAt)
	assert.False(t, updated.Anonymous)
	assert.Equal(t, 2.0, updated.Overall)

	stats, err := f.stats.Get(ctx, course.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReviews)
	assert.Nil(t, stats.AvgOverall)
	assert.Equal(t, 2, f.store.upserts)
}

func TestReviewEditOfPendingSkipsRecompute(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")
	pending := f.store.addReview(student.ID, course.ID, models.StatusRejected, 1.0)

	updated, err := f.reviews.Edit(context.Background(), pending.ID, actorOf(student), models.UpdateReviewRequest{
		Ratings: models.RatingsInput{Overall: floatPtr(3.0)},
		Comment: "Second attempt at a fair review.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.True(t, updated.Anonymous, "anonymity kept when omitted")
	assert.Zero(t, f.store.upserts)
}

func TestReviewEditGate(t *testing.T) {
	f := newReviewFixture()
	owner := f.store.addUser(models.RoleStudent)
	other := f.store.addUser(models.RoleStudent)
	admin := f.store.addUser(models.RoleAdmin)
	course := f.store.addCourse("")
	review := f.store.addReview(owner.ID, course.ID, models.StatusPending, 4.0)
	req := models.UpdateReviewRequest{Ratings: models.RatingsInput{Overall: floatPtr(3.0)}, Comment: "A different opinion."}
	ctx := context.Background()

	_, err := f.reviews.Edit(ctx, review.ID, actorOf(other), req)
	requireCode(t, err, appErrors.ErrForbidden)

	_, err = f.reviews.Edit(ctx, review.ID, actorOf(admin), req)
	requireCode(t, err, appErrors.ErrForbidden)

	_, err = f.reviews.Edit(ctx, "missing", actorOf(owner), req)
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestReviewModerate(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	admin := f.store.addUser(models.RoleAdmin)
	course := f.store.addCourse("")
	review := f.store.addReview(student.ID, course.ID, models.StatusPending, 4.0)
	ctx := context.Background()

	approved, err := f.reviews.Moderate(ctx, review.ID, actorOf(admin), "approved")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ModeratedAt)

	stats, err := f.stats.Get(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalReviews)
	assert.Equal(t, floatPtr(4.0), stats.AvgOverall)

	_, err = f.reviews.Moderate(ctx, review.ID, actorOf(admin), "APPROVED")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.upserts, "moderation always recomputes")

	_, err = f.reviews.Moderate(ctx, review.ID, actorOf(admin), "REJECTED")
	require.NoError(t, err)
	stats, err = f.stats.Get(ctx, course.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReviews)
	assert.Nil(t, stats.AvgOverall)

	require.Len(t, f.store.audits, 3)
	assert.Equal(t, models.AuditActionReviewModerate, f.store.audits[0].Action)
	assert.Equal(t, uint64(3), f.metrics.Snapshot().ReviewsModerated)
}

func TestReviewModerateRejectsBadInput(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	admin := f.store.addUser(models.RoleAdmin)
	course := f.store.addCourse("")
	review := f.store.addReview(student.ID, course.ID, models.StatusPending, 4.0)
	ctx := context.Background()

	_, err := f.reviews.Moderate(ctx, review.ID, actorOf(admin), "PENDING")
	requireCode(t, err, appErrors.ErrInvalidArgument)

	_, err = f.reviews.Moderate(ctx, review.ID, actorOf(admin), "ARCHIVED")
	requireCode(t, err, appErrors.ErrInvalidArgument)

	_, err = f.reviews.Moderate(ctx, "missing", actorOf(admin), "APPROVED")
	requireCode(t, err, appErrors.ErrNotFound)

	_, err = f.reviews.Moderate(ctx, review.ID, actorOf(student), "APPROVED")
	requireCode(t, err, appErrors.ErrForbidden)

	assert.Zero(t, f.store.upserts)
}

func TestReviewDeleteSoleApprovedClearsStatistics(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")
	review := f.store.addReview(student.ID, course.ID, models.StatusApproved, 4.0)
	f.store.responses[review.ID] = &models.ReviewResponse{ID: "resp-1", ReviewID: review.ID}
	ctx := context.Background()
	require.NoError(t, f.stats.RecomputeCourse(ctx, course.ID))

	require.NoError(t, f.reviews.Delete(ctx, review.ID, actorOf(student)))

	stats, err := f.stats.Get(ctx, course.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReviews)
	assert.Nil(t, stats.AvgOverall)
	assert.Empty(t, f.store.responses)
	assert.Empty(t, f.store.audits, "self deletion is not audited")
}

func TestReviewDeleteGate(t *testing.T) {
	f := newReviewFixture()
	owner := f.store.addUser(models.RoleStudent)
	other := f.store.addUser(models.RoleStudent)
	teacher := f.store.addUser(models.RoleTeacher)
	admin := f.store.addUser(models.RoleAdmin)
	course := f.store.addCourse(teacher.ID)
	review := f.store.addReview(owner.ID, course.ID, models.StatusPending, 4.0)
	ctx := context.Background()

	requireCode(t, f.reviews.Delete(ctx, review.ID, actorOf(other)), appErrors.ErrForbidden)
	requireCode(t, f.reviews.Delete(ctx, review.ID, actorOf(teacher)), appErrors.ErrForbidden)
	requireCode(t, f.reviews.Delete(ctx, "missing", actorOf(admin)), appErrors.ErrNotFound)

	require.NoError(t, f.reviews.Delete(ctx, review.ID, actorOf(admin)))
	assert.Zero(t, f.store.upserts, "pending deletion leaves statistics alone")
	require.Len(t, f.store.audits, 1)
	assert.Equal(t, models.AuditActionReviewDelete, f.store.audits[0].Action)
}

func TestReviewListApprovedForCourseHidesAnonymousAuthors(t *testing.T) {
	f := newReviewFixture()
	alice := f.store.addUser(models.RoleStudent)
	bob := f.store.addUser(models.RoleStudent)
	carol := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")
	anon := f.store.addReview(alice.ID, course.ID, models.StatusApproved, 4.0)
	named := f.store.addReview(bob.ID, course.ID, models.StatusApproved, 3.0)
	named.Anonymous = false
	f.store.addReview(carol.ID, course.ID, models.StatusPending, 1.0)

	reviews, pagination, err := f.reviews.ListApprovedForCourse(context.Background(), course.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)

	byID := map[string]models.ReviewDetail{}
	for _, r := range reviews {
		byID[r.ID] = r
	}
	assert.Empty(t, byID[anon.ID].UserID)
	assert.Equal(t, models.AnonymousReviewer, byID[anon.ID].ReviewerName)
	assert.Equal(t, bob.ID, byID[named.ID].UserID)
	assert.Equal(t, bob.FullName, byID[named.ID].ReviewerName)

	_, _, err = f.reviews.ListApprovedForCourse(context.Background(), "missing", 1, 10)
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestReviewGetVisibility(t *testing.T) {
	f := newReviewFixture()
	owner := f.store.addUser(models.RoleStudent)
	other := f.store.addUser(models.RoleStudent)
	teacher := f.store.addUser(models.RoleTeacher)
	course := f.store.addCourse(teacher.ID)
	pending := f.store.addReview(owner.ID, course.ID, models.StatusPending, 4.0)
	ctx := context.Background()

	_, err := f.reviews.Get(ctx, pending.ID, actorOf(other))
	requireCode(t, err, appErrors.ErrNotFound)

	own, err := f.reviews.Get(ctx, pending.ID, actorOf(owner))
	require.NoError(t, err)
	assert.Equal(t, owner.ID, own.UserID)

	seen, err := f.reviews.Get(ctx, pending.ID, actorOf(teacher))
	require.NoError(t, err)
	assert.Empty(t, seen.UserID)
}

func TestReviewHasUserReviewedCourse(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	course := f.store.addCourse("")
	ctx := context.Background()

	reviewed, err := f.reviews.HasUserReviewedCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.False(t, reviewed)

	f.store.addReview(student.ID, course.ID, models.StatusRejected, 2.0)
	reviewed, err = f.reviews.HasUserReviewedCourse(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, reviewed)
}

func TestReviewListForTeacherIncludesEveryStatus(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	teacher := f.store.addUser(models.RoleTeacher)
	mine := f.store.addCourse(teacher.ID)
	theirs := f.store.addCourse("")
	f.store.addReview(student.ID, mine.ID, models.StatusPending, 4.0)
	f.store.addReview(student.ID, theirs.ID, models.StatusApproved, 4.0)

	reviews, err := f.reviews.ListForTeacher(context.Background(), teacher.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, mine.ID, reviews[0].CourseID)
	assert.Empty(t, reviews[0].UserID)
}
