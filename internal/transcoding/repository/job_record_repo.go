package repository

import (
	"context"
	"errors"

	"video_transcoding_service/internal/transcoding/domain"

	"gorm.io/gorm"
)

// JobRecordRepo definition terminal job outcomes in postgres
type JobRecordRepo interface {
	AutoMigrate() error
	SaveRecord(ctx context.Context, record *domain.JobRecord) error
	GetByJobID(ctx context.Context, jobID string) (*domain.JobRecord, error)
	FindByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error)
}

type jobRecordRepo struct {
	db *gorm.DB
}

// NewJobRecordRepo create JobRecordRepo
func NewJobRecordRepo(db *gorm.DB) JobRecordRepo {
	return &jobRecordRepo{db: db}
}

func (r *jobRecordRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.JobRecord{})
}

// SaveRecord insert or overwrite the record of record.JobID, a resubmitted job keeps one row
func (r *jobRecordRepo) SaveRecord(ctx context.Context, record *domain.JobRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

// GetByJobID domain.ErrJobNotFound when no outcome was recorded
func (r *jobRecordRepo) GetByJobID(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	var rec domain.JobRecord
	if err := r.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindByStatus newest first
func (r *jobRecordRepo) FindByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error) {
	var recs []domain.JobRecord
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("finished_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
