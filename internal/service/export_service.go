package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/export"
)

var statisticsExportHeaders = []string{
	"Code", "Course", "Department", "Type", "Reviews",
	"Overall", "Clarity", "Material", "Pedagogy", "Last Updated",
}

type statisticsExportRepository interface {
	ListForExport(ctx context.Context) ([]models.CourseStatisticsRow, error)
}

// ExportResult is a rendered document ready to be served.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders course statistics reports.
type ExportService struct {
	repo      statisticsExportRepository
	renderers map[export.Format]export.Renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService with the CSV and PDF renderers.
func NewExportService(repo statisticsExportRepository, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo: repo,
		renderers: map[export.Format]export.Renderer{
			export.FormatCSV: export.NewCSVExporter(),
			export.FormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// ExportStatistics renders every course's statistics in the requested format.
func (s *ExportService) ExportStatistics(ctx context.Context, rawFormat string) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, err.Error())
	}

	rows, err := s.repo.ListForExport(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load course statistics")
	}

	data := export.Dataset{
		Title:   "Course Rating Statistics",
		Headers: statisticsExportHeaders,
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		data.Rows = append(data.Rows, statisticsRecord(row))
	}

	content, err := s.renderers[format].Render(data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render statistics export")
	}

	s.logger.Info("statistics exported", zap.String("format", string(format)), zap.Int("courses", len(rows)))
	return &ExportResult{
		Filename:    fmt.Sprintf("course-statistics-%s.%s", s.now().UTC().Format("20060102"), format),
		ContentType: format.ContentType(),
		Data:        content,
	}, nil
}

func statisticsRecord(row models.CourseStatisticsRow) []string {
	department := ""
	if row.Department != nil {
		department = *row.Department
	}
	updated := ""
	if row.LastUpdated != nil {
		updated = row.LastUpdated.UTC().Format(time.RFC3339)
	}
	return []string{
		row.CourseCode,
		row.CourseName,
		department,
		string(row.Type),
		strconv.Itoa(row.TotalReviews),
		formatAverage(row.AvgOverall),
		formatAverage(row.AvgClarity),
		formatAverage(row.AvgMaterial),
		formatAverage(row.AvgPedagogy),
		updated,
	}
}

func formatAverage(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
