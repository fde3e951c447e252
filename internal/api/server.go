package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// StatsProvider exposes component statistics for the health endpoint.
type StatsProvider interface {
	Stats() map[string]int
}

// Server is the management HTTP layer: classroom creation, teardown, status,
// and report retrieval. No hub logic lives here, only HTTP handling and JSON
// serialization.
type Server struct {
	sessions *session.Manager
	archive  interfaces.IncidentStore // optional; nil disables archive lookups
	registry StatsProvider
	rooms    StatsProvider
	router   *mux.Router
}

// NewServer creates the management API server.
func NewServer(sessions *session.Manager, archive interfaces.IncidentStore, registry, rooms StatsProvider) *Server {
	s := &Server{
		sessions: sessions,
		archive:  archive,
		registry: registry,
		rooms:    rooms,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/api/classrooms", s.createClassroom).Methods(http.MethodPost)
	s.router.HandleFunc("/api/classrooms/{id}", s.getStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/classrooms/{id}", s.endClassroom).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/classrooms/{id}/pause", s.pauseClassroom).Methods(http.MethodPost)
	s.router.HandleFunc("/api/classrooms/{id}/resume", s.resumeClassroom).Methods(http.MethodPost)
	s.router.HandleFunc("/api/classrooms/{id}/report", s.getReport).Methods(http.MethodGet)
	s.router.HandleFunc("/api/classrooms/{id}/incidents", s.getIncidents).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createClassroomRequest struct {
	TeacherID     string `json:"teacher_id"`
	Subject       string `json:"subject"`
	MaxStudents   int    `json:"max_students"`
	AgeRestricted bool   `json:"age_restricted"`
}

type endClassroomRequest struct {
	RequestedBy string `json:"requested_by"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createClassroom(w http.ResponseWriter, r *http.Request) {
	var req createClassroomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	classroom, err := s.sessions.CreateClassroom(req.TeacherID, req.Subject, types.ClassroomSettings{
		MaxStudents:   req.MaxStudents,
		AgeRestricted: req.AgeRestricted,
	})
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusCreated, classroom)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.GetSessionStatus(mux.Vars(r)["id"])
	if err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

func (s *Server) endClassroom(w http.ResponseWriter, r *http.Request) {
	var req endClassroomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	report, err := s.sessions.EndClassroomSession(r.Context(), mux.Vars(r)["id"], req.RequestedBy, false)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrClassroomNotFound):
			s.sendError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, session.ErrNotClassroomTeacher):
			s.sendError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, session.ErrClassroomEnded):
			s.sendError(w, err.Error(), http.StatusConflict)
		default:
			s.sendError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

func (s *Server) pauseClassroom(w http.ResponseWriter, r *http.Request) {
	s.transition(w, mux.Vars(r)["id"], s.sessions.PauseClassroom)
}

func (s *Server) resumeClassroom(w http.ResponseWriter, r *http.Request) {
	s.transition(w, mux.Vars(r)["id"], s.sessions.ResumeClassroom)
}

func (s *Server) transition(w http.ResponseWriter, classroomID string, fn func(string) error) {
	if err := fn(classroomID); err != nil {
		switch {
		case errors.Is(err, session.ErrClassroomNotFound):
			s.sendError(w, err.Error(), http.StatusNotFound)
		default:
			s.sendError(w, err.Error(), http.StatusConflict)
		}
		return
	}
	status, err := s.sessions.GetSessionStatus(classroomID)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	classroomID := mux.Vars(r)["id"]

	if report, exists := s.sessions.Report(classroomID); exists {
		s.sendJSON(w, http.StatusOK, report)
		return
	}

	// Fall back to the archive once the grace window has purged the
	// in-memory report.
	if s.archive != nil {
		report, err := s.archive.ReportByClassroom(r.Context(), classroomID)
		if err != nil {
			s.sendError(w, "report lookup failed", http.StatusInternalServerError)
			return
		}
		if report != nil {
			s.sendJSON(w, http.StatusOK, report)
			return
		}
	}

	s.sendError(w, "report not found", http.StatusNotFound)
}

func (s *Server) getIncidents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.sendError(w, "incident archive disabled", http.StatusNotFound)
		return
	}

	incidents, err := s.archive.IncidentsByClassroom(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendError(w, "incident lookup failed", http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []types.SafetyIncident{}
	}
	s.sendJSON(w, http.StatusOK, incidents)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"connections": s.registry.Stats(),
		"rooms":       s.rooms.Stats(),
		"sessions":    s.sessions.Stats(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, errorResponse{Error: message})
}
