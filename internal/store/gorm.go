package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quantsim/internal/domain"
)

// Compile-time interface check.
var _ JobStore = (*GormJobStore)(nil)

// JobModel is the gorm row for a SimulationJob.
type JobModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	Kind            string `gorm:"size:16;not null"`
	TriggerSource   string `gorm:"size:32"`
	Status          string `gorm:"size:16;not null;index"`
	TotalSteps      int
	CompletedSteps  int
	InitialCapital  float64
	CancelRequested bool
	Error           string
	ResultKey       string
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

// TableName pins the table name shared with the SQLite schema.
func (JobModel) TableName() string { return "simulation_jobs" }

func (m *JobModel) toDomain() *domain.SimulationJob {
	return &domain.SimulationJob{
		ID:              m.ID,
		Kind:            domain.JobKind(m.Kind),
		Trigger:         m.TriggerSource,
		Status:          domain.JobStatus(m.Status),
		TotalSteps:      m.TotalSteps,
		CompletedSteps:  m.CompletedSteps,
		InitialCapital:  m.InitialCapital,
		CancelRequested: m.CancelRequested,
		Error:           m.Error,
		ResultKey:       m.ResultKey,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

// GormJobStore implements JobStore on Postgres so workers on several hosts
// can share job status.
type GormJobStore struct {
	db *gorm.DB
}

// OpenPostgresJobStore connects to dsn and migrates the jobs table.
func OpenPostgresJobStore(dsn string) (*GormJobStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewGormJobStore(db)
}

// NewGormJobStore wraps an open gorm connection and migrates the jobs table.
func NewGormJobStore(db *gorm.DB) (*GormJobStore, error) {
	if err := db.AutoMigrate(&JobModel{}); err != nil {
		return nil, fmt.Errorf("migrating simulation_jobs: %w", err)
	}
	return &GormJobStore{db: db}, nil
}

// CreateJob inserts a new job.
func (s *GormJobStore) CreateJob(ctx context.Context, job *domain.SimulationJob) error {
	m := JobModel{
		ID:              job.ID,
		Kind:            string(job.Kind),
		TriggerSource:   job.Trigger,
		Status:          string(job.Status),
		TotalSteps:      job.TotalSteps,
		CompletedSteps:  job.CompletedSteps,
		InitialCapital:  job.InitialCapital,
		CancelRequested: job.CancelRequested,
		Error:           job.Error,
		ResultKey:       job.ResultKey,
		CreatedAt:       job.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	job.CreatedAt = m.CreatedAt.UTC()
	job.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}

// GetJob returns the job or domain.ErrJobNotFound.
func (s *GormJobStore) GetJob(ctx context.Context, id string) (*domain.SimulationJob, error) {
	var m JobModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	return m.toDomain(), nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *GormJobStore) ListJobs(ctx context.Context, limit int) ([]domain.SimulationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []JobModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	jobs := make([]domain.SimulationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *models[i].toDomain())
	}
	return jobs, nil
}

// StartJob moves a job to RUNNING.
func (s *GormJobStore) StartJob(ctx context.Context, id string, totalSteps int) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":      string(domain.JobRunning),
		"total_steps": totalSteps,
	})
}

// AdvanceProgress never moves completed_steps backwards.
func (s *GormJobStore) AdvanceProgress(ctx context.Context, id string, completed int) error {
	return s.update(ctx, id, map[string]interface{}{
		"completed_steps": gorm.Expr("GREATEST(completed_steps, ?)", completed),
	})
}

// FinishJob records a terminal status.
func (s *GormJobStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, resultKey, errMsg string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":     string(status),
		"result_key": resultKey,
		"error":      errMsg,
	})
}

// RequestCancel flags a job for cancellation.
func (s *GormJobStore) RequestCancel(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]interface{}{"cancel_requested": true})
}

func (s *GormJobStore) update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return nil
}
