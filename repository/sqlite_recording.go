package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/database"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

type sqliteRecordingRepo struct {
	db *sql.DB
}

// NewSQLiteRecordingRepo returns the SQLite RecordingRepository.
func NewSQLiteRecordingRepo(db *sql.DB) RecordingRepository {
	return &sqliteRecordingRepo{db: db}
}

func (r *sqliteRecordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}

		query := `
			INSERT INTO group_recordings (id, group_id, lesson_date, uploaded_by, title, file_size, storage_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

		if _, err := tx.ExecContext(ctx, query,
			rec.ID,
			rec.GroupID,
			rec.LessonDate,
			rec.UploadedBy,
			rec.Title,
			rec.FileSize,
			rec.StoragePath,
			rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_recording_stats (group_id, recordings, total_bytes)
			VALUES (?, 1, ?)
			ON CONFLICT(group_id) DO UPDATE SET
				recordings = recordings + 1,
				total_bytes = total_bytes + excluded.total_bytes`,
			rec.GroupID, rec.FileSize,
		); err != nil {
			return fmt.Errorf("failed to update recording stats: %w", err)
		}

		return nil
	})
}

func (r *sqliteRecordingRepo) GetByID(ctx context.Context, id string) (*models.Recording, error) {
	query := `
		SELECT id, group_id, lesson_date, uploaded_by, title, file_size, storage_path, created_at
		FROM group_recordings WHERE id = ?`

	var rec models.Recording
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.GroupID, &rec.LessonDate, &rec.UploadedBy,
		&rec.Title, &rec.FileSize, &rec.StoragePath, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	return &rec, nil
}

func (r *sqliteRecordingRepo) ListByGroup(ctx context.Context, groupID string) ([]models.Recording, error) {
	query := `
		SELECT id, group_id, lesson_date, uploaded_by, title, file_size, storage_path, created_at
		FROM group_recordings WHERE group_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	recordings := []models.Recording{}
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(
			&rec.ID, &rec.GroupID, &rec.LessonDate, &rec.UploadedBy,
			&rec.Title, &rec.FileSize, &rec.StoragePath, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		recordings = append(recordings, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recording rows: %w", err)
	}

	return recordings, nil
}

func (r *sqliteRecordingRepo) Stats(ctx context.Context, groupID string) (*models.GroupRecordingStats, error) {
	stats := models.GroupRecordingStats{GroupID: groupID}
	err := r.db.QueryRowContext(ctx,
		`SELECT recordings, total_bytes FROM group_recording_stats WHERE group_id = ?`, groupID,
	).Scan(&stats.Recordings, &stats.TotalBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording stats: %w", err)
	}
	return &stats, nil
}

func (r *sqliteRecordingRepo) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var groupID string
		var size int64
		err := tx.QueryRowContext(ctx,
			`DELETE FROM group_recordings WHERE id = ? RETURNING group_id, file_size`, id,
		).Scan(&groupID, &size)
		if errors.Is(err, sql.ErrNoRows) {
			return pkg.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete recording: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE group_recording_stats
			SET recordings = recordings - 1, total_bytes = total_bytes - ?
			WHERE group_id = ?`, size, groupID,
		); err != nil {
			return fmt.Errorf("failed to update recording stats: %w", err)
		}
		return nil
	})
}
