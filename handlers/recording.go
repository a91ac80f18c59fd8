package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/services"
)

// multipartOverhead is the room left for boundaries and text fields on top
// of the recording itself.
const multipartOverhead = 1 << 20

// RecordingHandler serves composite lesson recordings.
type RecordingHandler struct {
	recordingService services.RecordingService
	maxUploadSize    int64
}

// NewRecordingHandler, constructor.
func NewRecordingHandler(recordingService services.RecordingService, maxUploadSize int64) *RecordingHandler {
	return &RecordingHandler{
		recordingService: recordingService,
		maxUploadSize:    maxUploadSize,
	}
}

// Upload stores a recording and its metadata row.
//
//	POST /api/groups/{groupId}/recordings
//	Content-Type: multipart/form-data
//	Fields: title, lesson_date (YYYY-MM-DD), then file
//
// The body is streamed to disk, so the text fields must precede the file
// part; fields after it are ignored.
func (h *RecordingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	req := models.CreateRecordingRequest{GroupID: r.PathValue("groupId")}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			pkg.Error(w, uploadError(err))
			return
		}

		switch part.FormName() {
		case "title":
			req.Title = readField(part)
		case "lesson_date":
			req.LessonDate = readField(part)
		case "file":
			rec, err := h.recordingService.Upload(r.Context(), user, &req, part)
			part.Close()
			if err != nil {
				pkg.Error(w, uploadError(err))
				return
			}
			pkg.JSON(w, http.StatusCreated, rec)
			return
		}
		part.Close()
	}
}

// uploadError maps a body that hit MaxBytesReader to 413.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: recording too large", pkg.ErrPayloadTooLarge)
	}
	return err
}

func readField(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return string(b)
}

// List returns a group's recordings, newest first, with totals.
//
//	GET /api/groups/{groupId}/recordings
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupId")

	recs, err := h.recordingService.ListByGroup(r.Context(), groupID)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	stats, err := h.recordingService.Stats(r.Context(), groupID)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	if recs == nil {
		recs = []models.Recording{}
	}

	pkg.JSON(w, http.StatusOK, map[string]any{
		"recordings": recs,
		"stats":      stats,
	})
}

// File streams the WebM binary. Range requests are honoured so players can
// seek.
//
//	GET /api/recordings/{id}/file
func (h *RecordingHandler) File(w http.ResponseWriter, r *http.Request) {
	rec, f, err := h.recordingService.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/webm")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.webm"`, rec.ID))
	http.ServeContent(w, r, rec.ID+".webm", rec.CreatedAt, f)
}

// Delete removes a recording. Only its uploader or an admin may.
//
//	DELETE /api/recordings/{id}
func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.recordingService.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "recording deleted"})
}
