package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

type pgRecordingRepo struct {
	pool *pgxpool.Pool
}

// NewPGRecordingRepo returns the Postgres RecordingRepository.
func NewPGRecordingRepo(pool *pgxpool.Pool) RecordingRepository {
	return &pgRecordingRepo{pool: pool}
}

const pgRecordingColumns = `id, group_id, lesson_date, uploaded_by, title, file_size, storage_path, created_at`

func (r *pgRecordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO group_recordings (id, group_id, lesson_date, uploaded_by, title, file_size, storage_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			rec.ID, rec.GroupID, rec.LessonDate, rec.UploadedBy, rec.Title, rec.FileSize, rec.StoragePath,
		).Scan(&rec.CreatedAt); err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO group_recording_stats (group_id, recordings, total_bytes)
			VALUES ($1, 1, $2)
			ON CONFLICT (group_id) DO UPDATE SET
				recordings = group_recording_stats.recordings + 1,
				total_bytes = group_recording_stats.total_bytes + excluded.total_bytes`,
			rec.GroupID, rec.FileSize,
		); err != nil {
			return fmt.Errorf("failed to update recording stats: %w", err)
		}
		return nil
	})
}

func (r *pgRecordingRepo) GetByID(ctx context.Context, id string) (*models.Recording, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgRecordingColumns+` FROM group_recordings WHERE id = $1`, id)

	rec, err := scanPGRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

func (r *pgRecordingRepo) ListByGroup(ctx context.Context, groupID string) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgRecordingColumns+` FROM group_recordings WHERE group_id = $1 ORDER BY created_at DESC, id DESC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	recordings := []models.Recording{}
	for rows.Next() {
		rec, err := scanPGRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		recordings = append(recordings, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recording rows: %w", err)
	}
	return recordings, nil
}

func (r *pgRecordingRepo) Stats(ctx context.Context, groupID string) (*models.GroupRecordingStats, error) {
	stats := models.GroupRecordingStats{GroupID: groupID}
	err := r.pool.QueryRow(ctx,
		`SELECT recordings, total_bytes FROM group_recording_stats WHERE group_id = $1`, groupID,
	).Scan(&stats.Recordings, &stats.TotalBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording stats: %w", err)
	}
	return &stats, nil
}

func (r *pgRecordingRepo) Delete(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var groupID string
		var size int64
		err := tx.QueryRow(ctx,
			`DELETE FROM group_recordings WHERE id = $1 RETURNING group_id, file_size`, id,
		).Scan(&groupID, &size)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkg.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete recording: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE group_recording_stats
			SET recordings = recordings - 1, total_bytes = total_bytes - $1
			WHERE group_id = $2`, size, groupID,
		); err != nil {
			return fmt.Errorf("failed to update recording stats: %w", err)
		}
		return nil
	})
}

func scanPGRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	if err := row.Scan(
		&rec.ID, &rec.GroupID, &rec.LessonDate, &rec.UploadedBy,
		&rec.Title, &rec.FileSize, &rec.StoragePath, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
