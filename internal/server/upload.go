package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/dharsanguruparan/docchat/internal/ingest"
	"github.com/dharsanguruparan/docchat/internal/model"
)

// uploadOverhead is the slack MaxBytesReader allows on top of the file limit
// for multipart boundaries and headers.
const uploadOverhead = 1 << 20

type uploadResponse struct {
	DocumentID string               `json:"doc_id"`
	Filename   string               `json:"filename"`
	Status     model.DocumentStatus `json:"status"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	// http.MaxBytesReader stops oversized bodies before they fill the disk.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+uploadOverhead)
	// MultipartReader streams parts instead of buffering the whole form.
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, fmt.Errorf("expecting multipart form: %w", model.ErrInvalidInput))
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		writeError(w, fmt.Errorf("missing file part: %w", model.ErrInvalidInput))
		return
	}
	spooled, err := s.spool(part)
	if err != nil {
		writeError(w, err)
		return
	}
	defer spooled.cleanup()

	doc, err := s.ingester.Accept(r.Context(), ingest.Upload{
		Filename: spooled.filename,
		Size:     spooled.size,
		Body:     spooled.f,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, uploadResponse{DocumentID: doc.ID, Filename: doc.Filename, Status: doc.Status})
}

// spooledUpload is an upload copied to a temp file so Accept can seek it.
type spooledUpload struct {
	f        *os.File
	size     int64
	filename string
}

func (u *spooledUpload) cleanup() {
	u.f.Close()
	os.Remove(u.f.Name())
}

// spool copies part into a temp file with a 32 KiB buffer, so memory use
// stays flat no matter how large the upload is.
func (s *Server) spool(part *multipart.Part) (*spooledUpload, error) {
	defer part.Close()
	tmp, err := os.CreateTemp(s.spoolDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	up := &spooledUpload{f: tmp, filename: part.FileName()}
	// Reading one byte past the limit tells an exact fit from an overflow.
	limited := io.LimitReader(part, s.cfg.MaxFileSize+1)
	written, err := io.CopyBuffer(tmp, limited, make([]byte, 32*1024))
	if err != nil {
		up.cleanup()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request exceeds %d bytes: %w", tooLarge.Limit, model.ErrInvalidInput)
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if written > s.cfg.MaxFileSize {
		up.cleanup()
		return nil, fmt.Errorf("file exceeds limit (%d bytes): %w", s.cfg.MaxFileSize, model.ErrInvalidInput)
	}
	up.size = written
	return up, nil
}

// nextFilePart skips form fields until it reaches the "file" part.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
