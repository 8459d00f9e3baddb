package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/soundspan/soundspan/internal/constants"
	"github.com/soundspan/soundspan/internal/domain"
)

const jobColumns = `id, user_id, subject, type, status, target_mbid, artist_mbid, correlation_id,
	lidarr_ref, lidarr_album_id, discovery_batch_id, metadata, created_at, started_at, completed_at, error`

// JobFilter describes a predicate over jobs. Zero-value fields are ignored
// so callers compose only the conditions they need.
type JobFilter struct {
	IDs              []string
	Statuses         []domain.JobStatus
	Types            []domain.JobType
	TargetMBID       string
	ArtistMBID       string
	LidarrRef        string
	LidarrAlbumID    *int64
	DiscoveryBatchID string
	HasLidarrRef     *bool
	CreatedBefore    *time.Time
	StartedBefore    *time.Time
	ExcludeID        string

	OrderByCreatedDesc bool
	Limit              uint64
}

func (f JobFilter) apply(b sq.SelectBuilder) sq.SelectBuilder {
	for _, cond := range f.conditions() {
		b = b.Where(cond)
	}
	if f.OrderByCreatedDesc {
		b = b.OrderBy("created_at DESC")
	} else {
		b = b.OrderBy("created_at ASC")
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	return b
}

func (f JobFilter) conditions() []sq.Sqlizer {
	var conds []sq.Sqlizer
	if len(f.IDs) > 0 {
		conds = append(conds, sq.Eq{"id": f.IDs})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, sq.Eq{"status": statuses})
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conds = append(conds, sq.Eq{"type": types})
	}
	if f.TargetMBID != "" {
		conds = append(conds, sq.Eq{"target_mbid": f.TargetMBID})
	}
	if f.ArtistMBID != "" {
		conds = append(conds, sq.Eq{"artist_mbid": f.ArtistMBID})
	}
	if f.LidarrRef != "" {
		conds = append(conds, sq.Eq{"lidarr_ref": f.LidarrRef})
	}
	if f.LidarrAlbumID != nil {
		conds = append(conds, sq.Eq{"lidarr_album_id": *f.LidarrAlbumID})
	}
	if f.DiscoveryBatchID != "" {
		conds = append(conds, sq.Eq{"discovery_batch_id": f.DiscoveryBatchID})
	}
	if f.HasLidarrRef != nil {
		if *f.HasLidarrRef {
			conds = append(conds, sq.And{sq.NotEq{"lidarr_ref": nil}, sq.NotEq{"lidarr_ref": ""}})
		} else {
			conds = append(conds, sq.Or{sq.Eq{"lidarr_ref": nil}, sq.Eq{"lidarr_ref": ""}})
		}
	}
	if f.CreatedBefore != nil {
		conds = append(conds, sq.Lt{"created_at": *f.CreatedBefore})
	}
	if f.StartedBefore != nil {
		conds = append(conds, sq.Lt{"started_at": *f.StartedBefore})
	}
	if f.ExcludeID != "" {
		conds = append(conds, sq.NotEq{"id": f.ExcludeID})
	}
	return conds
}

// JobUpdate describes a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status         *domain.JobStatus
	Error          *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ClearLidarrRef bool
}

func (q *Queries) CreateJob(ctx context.Context, job *domain.DownloadJob) error {
	query := `INSERT INTO download_jobs (id, user_id, subject, type, status, target_mbid, artist_mbid,
		correlation_id, lidarr_ref, lidarr_album_id, discovery_batch_id, metadata, created_at, started_at, completed_at, error)
		VALUES (:id, :user_id, :subject, :type, :status, :target_mbid, :artist_mbid,
		:correlation_id, :lidarr_ref, :lidarr_album_id, :discovery_batch_id, :metadata, :created_at, :started_at, :completed_at, :error)`

	_, err := sqlx.NamedExecContext(ctx, q.q, query, job)
	return err
}

func (q *Queries) GetJob(ctx context.Context, id string) (*domain.DownloadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM download_jobs WHERE id = ?`

	job := &domain.DownloadJob{}
	err := q.q.GetContext(ctx, job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SaveJob writes every mutable column of the job back to its row.
func (q *Queries) SaveJob(ctx context.Context, job *domain.DownloadJob) error {
	query := `UPDATE download_jobs SET user_id = :user_id, subject = :subject, type = :type,
		status = :status, target_mbid = :target_mbid, artist_mbid = :artist_mbid,
		correlation_id = :correlation_id, lidarr_ref = :lidarr_ref, lidarr_album_id = :lidarr_album_id,
		discovery_batch_id = :discovery_batch_id, metadata = :metadata,
		started_at = :started_at, completed_at = :completed_at, error = :error
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, q.q, query, job)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s not found", job.ID)
	}
	return nil
}

// FindJobs returns all jobs matching the filter.
func (q *Queries) FindJobs(ctx context.Context, f JobFilter) ([]*domain.DownloadJob, error) {
	query, args, err := f.apply(sq.Select(jobColumns).From(constants.JobsTable)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var jobs []*domain.DownloadJob
	if err := q.q.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindFirstJob returns the first job matching the filter, or nil.
func (q *Queries) FindFirstJob(ctx context.Context, f JobFilter) (*domain.DownloadJob, error) {
	f.Limit = 1
	jobs, err := q.FindJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// UpdateJobs applies a partial update to every job matching the filter and
// returns the number of rows touched.
func (q *Queries) UpdateJobs(ctx context.Context, f JobFilter, u JobUpdate) (int64, error) {
	b := sq.Update(constants.JobsTable)
	if u.Status != nil {
		b = b.Set("status", string(*u.Status))
	}
	if u.Error != nil {
		b = b.Set("error", *u.Error)
	}
	if u.StartedAt != nil {
		b = b.Set("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		b = b.Set("completed_at", *u.CompletedAt)
	}
	if u.ClearLidarrRef {
		b = b.Set("lidarr_ref", nil)
	}
	for _, cond := range f.conditions() {
		b = b.Where(cond)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build update: %w", err)
	}
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindNotifiedSibling returns a job for the same logical album that already
// carries the notification flag, excluding the given job id. Used by the
// notification policy's cross-job duplicate check.
func (q *Queries) FindNotifiedSibling(ctx context.Context, albumKey, excludeID string) (*domain.DownloadJob, error) {
	if albumKey == "" {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM download_jobs
		WHERE json_extract(metadata, '$.notificationSent') AND id != ?`

	var jobs []*domain.DownloadJob
	if err := q.q.SelectContext(ctx, &jobs, query, excludeID); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.AlbumKey() == albumKey {
			return job, nil
		}
	}
	return nil, nil
}

type JobStats struct {
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Completed  int `db:"completed" json:"completed"`
	Failed     int `db:"failed" json:"failed"`
	Exhausted  int `db:"exhausted" json:"exhausted"`
	Total      int `db:"total" json:"total"`
}

func (q *Queries) GetJobStats(ctx context.Context) (*JobStats, error) {
	query := `SELECT
		COUNT(*) as total,
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) as pending,
		COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) as processing,
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) as completed,
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed,
		COALESCE(SUM(CASE WHEN status = 'exhausted' THEN 1 ELSE 0 END), 0) as exhausted
	FROM download_jobs`

	stats := &JobStats{}
	err := q.q.GetContext(ctx, stats, query)
	return stats, err
}
