package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"reportdedup/logging"
	"reportdedup/types"
	"reportdedup/workflow"
)

const adminTokenHeader = "X-Admin-Token"

// response mirrors the envelope the mobile client already parses
type response struct {
	Success bool        `json:"success"`
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{
		Success: status < 400,
		Status:  status,
		Message: message,
		Data:    data,
	})
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			got := r.Header.Get(adminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
				writeJSON(w, http.StatusUnauthorized, "admin token required", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "feature cache stats", s.cache.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	before := s.cache.CacheStats()
	s.cache.ClearFeaturesCache()
	writeJSON(w, http.StatusOK, "feature cache cleared", before)
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid multipart form: "+err.Error(), nil)
		return
	}

	sub := workflow.Submission{
		CampusID:         r.FormValue("campus_id"),
		AreaID:           r.FormValue("area_id"),
		AreaName:         r.FormValue("area_name"),
		CategoryID:       r.FormValue("category_id"),
		CategoryName:     r.FormValue("category_name"),
		ComplainantID:    r.FormValue("complainant_id"),
		ComplainantName:  r.FormValue("complainant_name"),
		ComplainantEmail: r.FormValue("complainant_email"),
		Description:      r.FormValue("description"),
		SubmittedBy:      r.FormValue("submitted_by"),
	}

	file, _, err := r.FormFile("image")
	if err == nil {
		sub.Image, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, "could not read image upload", nil)
			return
		}
	}

	res, err := s.submitter.SubmitReport(r.Context(), sub)
	switch {
	case err == nil:
	case errors.Is(err, workflow.ErrNoImage):
		writeJSON(w, http.StatusBadRequest, "No image uploaded", nil)
		return
	case errors.Is(err, workflow.ErrAlreadyReported):
		// the client shows which report the submitter is already on
		var data interface{}
		if res != nil {
			data = res
		}
		writeJSON(w, http.StatusConflict, workflow.ErrAlreadyReported.Error(), data)
		return
	case errors.Is(err, workflow.ErrInvalidSubmission):
		writeJSON(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	case isDeploymentDefect(err):
		logging.LogError("Detector is misconfigured, submission from %s refused: %v", sub.ComplainantID, err)
		writeJSON(w, http.StatusServiceUnavailable, "duplicate detection is unavailable", nil)
		return
	case errors.Is(err, workflow.ErrImageProcessing):
		writeJSON(w, http.StatusUnprocessableEntity, workflow.ErrImageProcessing.Error(), nil)
		return
	default:
		logging.LogError("Report submission failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, "report submission failed", nil)
		return
	}

	if res.Action == workflow.ActionMergeInto {
		writeJSON(w, http.StatusOK, "Report merged into an existing report", res)
		return
	}
	writeJSON(w, http.StatusCreated, "Report created successfully", res)
}

// isDeploymentDefect tells a broken model deployment apart from a bad upload
func isDeploymentDefect(err error) bool {
	var loadErr *types.BackboneLoadError
	var dimErr *types.DimensionMismatchError
	return errors.As(err, &loadErr) || errors.As(err, &dimErr)
}
