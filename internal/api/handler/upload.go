package handler

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aivira/jobchat/internal/api/response"
	"github.com/aivira/jobchat/internal/config"
	"github.com/google/uuid"
)

// UploadHandler handles file upload endpoints
type UploadHandler struct {
	cfg config.UploadConfig
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(cfg config.UploadConfig) *UploadHandler {
	// Ensure upload directory exists
	os.MkdirAll(cfg.Dir, 0755)
	return &UploadHandler{cfg: cfg}
}

// Upload stores a resume or job-description attachment and returns the URL
// the chat attaches to the file message.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxBytes); err != nil {
		response.BadRequest(w, "file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowedExts := map[string]bool{".pdf": true, ".doc": true, ".docx": true, ".txt": true, ".rtf": true}
	if !allowedExts[ext] {
		response.BadRequest(w, "invalid file type. Allowed: .pdf, .doc, .docx, .txt, .rtf")
		return
	}

	// Generate unique filename to avoid collisions
	uniqueName := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	destPath := filepath.Join(h.cfg.Dir, uniqueName)

	dst, err := os.Create(destPath)
	if err != nil {
		response.InternalError(w, "failed to save file")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(destPath) // cleanup on error
		response.InternalError(w, "failed to save file")
		return
	}

	response.OK(w, map[string]any{
		"file_url":      fmt.Sprintf("%s/%s", strings.TrimRight(h.cfg.PublicURL, "/"), uniqueName),
		"original_name": header.Filename,
		"size":          header.Size,
	})
}
