package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/email"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/repository"
	"github.com/google/uuid"
)

// RecordingService stores composite lesson recordings.
//
// A recording is persisted in two steps: the binary goes to the bucket
// directory, then the metadata row is inserted. When the insert fails the
// stored file is removed again, so the bucket never keeps a file that no
// row points to.
type RecordingService interface {
	Upload(ctx context.Context, user *models.AuthUser, req *models.CreateRecordingRequest, body io.Reader) (*models.Recording, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Recording, error)
	Stats(ctx context.Context, groupID string) (*models.GroupRecordingStats, error)
	// Open returns the metadata row and an open handle on the binary.
	// The caller closes the file.
	Open(ctx context.Context, id string) (*models.Recording, *os.File, error)
	Delete(ctx context.Context, user *models.AuthUser, id string) error
}

type recordingService struct {
	recordingRepo repository.RecordingRepository
	profileRepo   repository.ProfileRepository
	sender        email.Sender
	dir           string
	maxSize       int64
	now           func() time.Time
}

// NewRecordingService, constructor. sender may be email.NopSender{}.
func NewRecordingService(
	recordingRepo repository.RecordingRepository,
	profileRepo repository.ProfileRepository,
	sender email.Sender,
	dir string,
	maxSize int64,
) RecordingService {
	return &recordingService{
		recordingRepo: recordingRepo,
		profileRepo:   profileRepo,
		sender:        sender,
		dir:           dir,
		maxSize:       maxSize,
		now:           time.Now,
	}
}

func (s *recordingService) Upload(ctx context.Context, user *models.AuthUser, req *models.CreateRecordingRequest, body io.Reader) (*models.Recording, error) {
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only teachers upload recordings", pkg.ErrForbidden)
	}

	now := s.now().UTC()
	if err := req.Validate(now); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	if !validPathSegment(req.GroupID) {
		return nil, fmt.Errorf("%w: invalid group_id", pkg.ErrBadRequest)
	}

	groupDir := filepath.Join(s.dir, req.GroupID)
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}

	// {groupId}/{timestamp}.webm
	storagePath := req.GroupID + "/" + strconv.FormatInt(now.UnixMilli(), 10) + ".webm"
	destPath := filepath.Join(s.dir, filepath.FromSlash(storagePath))

	size, err := s.writeFile(destPath, body)
	if err != nil {
		return nil, err
	}

	rec := &models.Recording{
		ID:          uuid.NewString(),
		GroupID:     req.GroupID,
		LessonDate:  req.LessonDate,
		UploadedBy:  user.ID,
		Title:       req.Title,
		FileSize:    size,
		StoragePath: storagePath,
		CreatedAt:   now,
	}

	if err := s.recordingRepo.Create(ctx, rec); err != nil {
		if rmErr := os.Remove(destPath); rmErr != nil {
			log.Printf("[recording] failed to remove orphaned file %s: %v", destPath, rmErr)
		}
		return nil, fmt.Errorf("failed to create recording record: %w", err)
	}

	log.Printf("[recording] stored %s (%d bytes) for group %s", storagePath, size, req.GroupID)
	s.notifyUploader(ctx, user, rec)

	return rec, nil
}

// writeFile copies body to path. Empty and oversized bodies are rejected
// and leave nothing behind.
func (s *recordingService) writeFile(path string, body io.Reader) (int64, error) {
	dest, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: recording %s already exists", pkg.ErrAlreadyExists, filepath.Base(path))
		}
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, copyErr := io.Copy(dest, io.LimitReader(body, s.maxSize+1))
	closeErr := dest.Close()

	switch {
	case copyErr != nil:
		os.Remove(path)
		return 0, fmt.Errorf("failed to save file: %w", copyErr)
	case closeErr != nil:
		os.Remove(path)
		return 0, fmt.Errorf("failed to save file: %w", closeErr)
	case n == 0:
		os.Remove(path)
		return 0, fmt.Errorf("%w: recording is empty", pkg.ErrBadRequest)
	case n > s.maxSize:
		os.Remove(path)
		return 0, fmt.Errorf("%w: recording too large (max %dMB)", pkg.ErrPayloadTooLarge, s.maxSize/(1024*1024))
	}
	return n, nil
}

// notifyUploader is best effort; a failed email never fails the upload.
func (s *recordingService) notifyUploader(ctx context.Context, user *models.AuthUser, rec *models.Recording) {
	if user.Email == "" {
		return
	}

	lang := "en"
	if profile, err := s.profileRepo.GetByUserID(ctx, user.ID); err == nil && profile.Language != "" {
		lang = profile.Language
	}

	err := s.sender.SendRecordingSaved(ctx, user.Email, lang, email.RecordingSaved{
		Title:      rec.Title,
		LessonDate: rec.LessonDate,
		FileSize:   rec.FileSize,
		GroupID:    rec.GroupID,
	})
	if err != nil {
		log.Printf("[recording] notify %s: %v", user.ID, err)
	}
}

func (s *recordingService) ListByGroup(ctx context.Context, groupID string) ([]models.Recording, error) {
	return s.recordingRepo.ListByGroup(ctx, groupID)
}

func (s *recordingService) Stats(ctx context.Context, groupID string) (*models.GroupRecordingStats, error) {
	return s.recordingRepo.Stats(ctx, groupID)
}

func (s *recordingService) Open(ctx context.Context, id string) (*models.Recording, *os.File, error) {
	rec, err := s.recordingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(rec.StoragePath)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: recording file missing", pkg.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open recording: %w", err)
	}
	return rec, f, nil
}

func (s *recordingService) Delete(ctx context.Context, user *models.AuthUser, id string) error {
	rec, err := s.recordingRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.UploadedBy != user.ID && user.Role != models.RoleAdmin {
		return fmt.Errorf("%w: not the uploader", pkg.ErrForbidden)
	}

	if err := s.recordingRepo.Delete(ctx, id); err != nil {
		return err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(rec.StoragePath))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[recording] failed to remove %s: %v", path, err)
	}
	return nil
}

// validPathSegment rejects ids that could escape the bucket directory.
func validPathSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`+"\x00")
}
