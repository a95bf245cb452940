package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// ResolutionStatusView is the tracker state plus derived progress fields
type ResolutionStatusView struct {
	models.ResolutionStatus
	ProgressPercent     float64 `json:"progressPercent"`
	ElapsedSeconds      int64   `json:"elapsedSeconds"`
	Elapsed             string  `json:"elapsed"`
	ParentRemaining     int     `json:"parentSymbolsRemaining"`
	UnderlyingRemaining int     `json:"underlyingSymbolsRemaining"`
	QueuePending        int     `json:"queuePending"`
	QueueActive         int64   `json:"queueActive,omitempty"`
}

// handleResolutionStatus handles GET /api/resolution/status
func (s *Server) handleResolutionStatus(w http.ResponseWriter, r *http.Request) {
	status := s.services.Status.Current(r.Context())
	elapsed := status.Elapsed(s.now())

	respondJSON(w, http.StatusOK, ResolutionStatusView{
		ResolutionStatus:    status,
		ProgressPercent:     status.ProgressPercent(),
		ElapsedSeconds:      int64(elapsed.Seconds()),
		Elapsed:             elapsed.String(),
		ParentRemaining:     status.ParentRemaining(),
		UnderlyingRemaining: status.UnderlyingRemaining(),
		QueuePending:        s.services.Queue.Pending(),
		QueueActive:         s.services.Queue.Active(),
	})
}

// handleEnqueueSnapshot handles POST /api/resolution/snapshots/{id}
func (s *Server) handleEnqueueSnapshot(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("id", "must be a positive integer"))
		return
	}

	snapshot, err := s.services.Snapshots.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("get snapshot", err))
		return
	}
	if snapshot == nil {
		respondServiceError(w, r, apperrors.NewNotFoundError("snapshot", idStr))
		return
	}

	queued, err := s.services.Queue.Enqueue(id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"snapshotId": id,
		"queued":     queued,
		"pending":    s.services.Queue.Pending(),
	})
}

// handleSweep handles POST /api/resolution/sweep - queue every snapshot
// with unresolved holdings
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	added, err := s.services.Sweeper.RunNow(r.Context())
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("sweep unresolved snapshots", err))
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":  added,
		"pending": s.services.Queue.Pending(),
	})
}
