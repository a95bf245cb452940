package api

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
)

// multipart overhead allowed on top of the file limit
const uploadFormOverhead = 1 << 20

// handleUpload handles POST /api/uploads - multipart form with broker and file
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize+uploadFormOverhead)
	if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondServiceError(w, r, apperrors.NewFileTooLargeError(s.config.MaxUploadSize))
			return
		}
		respondServiceError(w, r, apperrors.NewInvalidParameterError("file", "expected a multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("file", "no file selected"))
		return
	}
	defer file.Close()

	// one extra byte lets the service see an oversized file
	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxUploadSize+1))
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("file", "could not read file"))
		return
	}

	result, err := s.services.Uploads.Upload(r.Context(), service.UploadInput{
		Broker:   r.FormValue("broker"),
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
