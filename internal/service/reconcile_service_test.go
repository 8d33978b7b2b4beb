package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/pkg/jobs"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type stubCourseIDs []string

func (s stubCourseIDs) ListIDs(ctx context.Context) ([]string, error) { return s, nil }

type recordingRecomputer struct {
	mu    sync.Mutex
	seen  []string
	errs  map[string]error
	delay time.Duration
}

func (r *recordingRecomputer) RecomputeCourse(ctx context.Context, courseID string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, courseID)
	return r.errs[courseID]
}

func (r *recordingRecomputer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestReconcilerSweepRecomputesEveryCourse(t *testing.T) {
	f := newReviewFixture()
	student := f.store.addUser(models.RoleStudent)
	first := f.store.addCourse("")
	second := f.store.addCourse("")
	f.store.addReview(student.ID, first.ID, models.StatusApproved, 3.0)
	f.store.stats[first.ID] = &models.CourseStatistics{CourseID: first.ID}

	reconciler := NewStatisticsReconciler(stubCourseIDs{first.ID, second.ID, "deleted"}, f.stats, f.metrics, nil, ReconcileConfig{Workers: 2})
	ctx := context.Background()
	require.NoError(t, reconciler.Start(ctx))
	defer reconciler.Stop()

	queued, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)

	require.Eventually(t, func() bool { return reconciler.queue.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	stats, err := f.stats.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalReviews)
	assert.Equal(t, floatPtr(3.0), stats.AvgOverall)
}

func TestReconcilerSweepOutlastsQueueBuffer(t *testing.T) {
	ids := make(stubCourseIDs, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("course-%03d", i)
	}
	recomputer := &recordingRecomputer{delay: time.Millisecond}
	reconciler := NewStatisticsReconciler(ids, recomputer, nil, nil, ReconcileConfig{Workers: 1})
	ctx := context.Background()
	require.NoError(t, reconciler.Start(ctx))
	defer reconciler.Stop()

	queued, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids), queued)
	require.Eventually(t, func() bool { return recomputer.count() == len(ids) }, 5*time.Second, 10*time.Millisecond)
}

func TestReconcilerSweepStopsWhenCancelled(t *testing.T) {
	ids := make(stubCourseIDs, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("course-%03d", i)
	}
	reconciler := NewStatisticsReconciler(ids, &recordingRecomputer{delay: 50 * time.Millisecond}, nil, nil, ReconcileConfig{Workers: 1})
	require.NoError(t, reconciler.Start(context.Background()))
	defer reconciler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	queued, err := reconciler.Sweep(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, queued, len(ids))
}

func TestReconcilerCountsGiveUps(t *testing.T) {
	metrics := NewMetricsService()
	recomputer := &recordingRecomputer{errs: map[string]error{"broken": errors.New("db down")}}
	reconciler := NewStatisticsReconciler(stubCourseIDs{"ok", "broken"}, recomputer, metrics, nil, ReconcileConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()
	require.NoError(t, reconciler.Start(ctx))
	defer reconciler.Stop()

	_, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reconcileFailures(t, metrics) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, recomputer.count())
}

func reconcileFailures(t *testing.T, metrics *MetricsService) float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "statistics_reconcile_failures_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestReconcilerRejectsBadSchedule(t *testing.T) {
	reconciler := NewStatisticsReconciler(stubCourseIDs{}, &recordingRecomputer{}, nil, nil, ReconcileConfig{Schedule: "every now and then"})
	assert.Error(t, reconciler.Start(context.Background()))
}

func TestReconcilerTreatsMissingCourseAsDone(t *testing.T) {
	recomputer := &recordingRecomputer{errs: map[string]error{"gone": appErrors.Clone(appErrors.ErrNotFound, "course not found")}}
	reconciler := NewStatisticsReconciler(stubCourseIDs{"gone"}, recomputer, nil, nil, ReconcileConfig{})
	assert.NoError(t, reconciler.recompute(context.Background(), jobs.Job[struct{}]{Key: "gone"}))
}
