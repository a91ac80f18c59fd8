package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// RecordingClient uploads composite recordings.
type RecordingClient struct {
	api *api
}

func NewRecordingClient(baseURL, token string, hc *http.Client) *RecordingClient {
	return &RecordingClient{api: newAPI(baseURL, token, hc)}
}

// Upload stores blob as the recording of a group lesson. date is
// YYYY-MM-DD; empty title and date are filled in by the server. The
// returned row is only valid when both the file and its metadata were
// stored.
func (c *RecordingClient) Upload(ctx context.Context, groupID, title, date string, blob []byte) (*models.Recording, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// text fields go first, the server streams the file part to disk
	go func() {
		err := writeUpload(mw, title, date, blob)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var rec models.Recording
	path := "/api/groups/" + url.PathEscape(groupID) + "/recordings"
	if err := c.api.do(ctx, http.MethodPost, path, mw.FormDataContentType(), pr, &rec); err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	return &rec, nil
}

func writeUpload(mw *multipart.Writer, title, date string, blob []byte) error {
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			return err
		}
	}
	if date != "" {
		if err := mw.WriteField("lesson_date", date); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", "recording.webm")
	if err != nil {
		return err
	}
	_, err = io.Copy(part, bytes.NewReader(blob))
	return err
}

// List returns a group's recordings, newest first.
func (c *RecordingClient) List(ctx context.Context, groupID string) ([]models.Recording, error) {
	var out struct {
		Recordings []models.Recording `json:"recordings"`
	}
	path := "/api/groups/" + url.PathEscape(groupID) + "/recordings"
	if err := c.api.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return out.Recordings, nil
}
