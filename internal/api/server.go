// Package api exposes the mapping pipeline over HTTP: lifecycle control,
// point cloud and metrics reads, filter tuning, interchange import and
// export, and a debug chart of the current snapshot.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lidarworks/roommapper/internal/httputil"
	"github.com/lidarworks/roommapper/internal/mapper"
	"github.com/lidarworks/roommapper/internal/mapperdb"
)

type Server struct {
	session *mapper.Session
	db      *mapperdb.DB
}

// NewServer wraps a session. db may be nil when session history is disabled.
func NewServer(session *mapper.Session, db *mapperdb.DB) *Server {
	return &Server{
		session: session,
		db:      db,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Welcome to the Room Mapper Server!"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/points", s.showPoints)
	mux.HandleFunc("/api/metrics", s.showMetrics)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/start", s.startScan)
	mux.HandleFunc("/api/stop", s.stopScan)
	mux.HandleFunc("/api/clear", s.clearPoints)
	mux.HandleFunc("/api/filter", s.setFilter)
	mux.HandleFunc("/api/export", s.exportSnapshot)
	mux.HandleFunc("/api/import", s.importSnapshot)
	mux.HandleFunc("/chart", s.showChart)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

// stateResponse is the GET /api/state payload.
type stateResponse struct {
	State      string              `json:"state"`
	ScanCount  int                 `json:"scan_count"`
	PointCount int                 `json:"point_count"`
	Filter     mapper.FilterConfig `json:"filter"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, stateResponse{
		State:      s.session.State().String(),
		ScanCount:  s.session.ScanCount(),
		PointCount: len(s.session.Snapshot()),
		Filter:     s.session.Filter(),
	})
}

func (s *Server) showPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := mapper.ExportJSON(w, s.snapshotDocument()); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to write points")
	}
}

func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	metrics, ok := s.session.Metrics()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf(
			"metrics undefined: fewer than %d points captured", mapper.MinMetricsPoints))
		return
	}
	httputil.WriteJSON(w, metrics)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "session history not enabled")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = v
	}
	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	httputil.WriteJSON(w, sessions)
}

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.session.Start(r.Context()); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSON(w, map[string]string{"state": s.session.State().String()})
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Stop()
	httputil.WriteJSON(w, map[string]string{"state": s.session.State().String()})
}

func (s *Server) clearPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Clear()
	httputil.WriteJSON(w, map[string]int{"point_count": 0})
}

// filterRequest is the POST /api/filter body. Retroactive also re-filters
// the stored history instead of only changing the rule for new frames.
type filterRequest struct {
	MaxDistanceMM float64 `json:"max_distance_mm"`
	MinQuality    int     `json:"min_quality"`
	Retroactive   bool    `json:"retroactive"`
}

func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid filter body")
		return
	}
	if req.MaxDistanceMM < mapper.MinFilterDistanceMM || req.MaxDistanceMM > mapper.MaxFilterDistanceMM {
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf(
			"max_distance_mm must be between %v and %v",
			mapper.MinFilterDistanceMM, mapper.MaxFilterDistanceMM))
		return
	}
	if req.MinQuality < 0 || req.MinQuality > 255 {
		httputil.WriteJSONError(w, http.StatusBadRequest, "min_quality must be between 0 and 255")
		return
	}
	removed := s.session.SetFilter(mapper.FilterConfig{
		MaxDistanceMM: req.MaxDistanceMM,
		MinQuality:    uint8(req.MinQuality),
	}, req.Retroactive)
	httputil.WriteJSON(w, map[string]int{"removed": removed})
}

// exportSnapshot streams the current point cloud as a download. The format
// query parameter selects json (default) or csv.
func (s *Server) exportSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	doc := s.snapshotDocument()
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="room_scan.json"`)
		if err := mapper.ExportJSON(w, doc); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to export points")
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="room_scan.csv"`)
		if err := mapper.ExportCSV(w, doc.Points); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to export points")
		}
	default:
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}

// importSnapshot replaces the point cloud with the request body. Refused
// while a scan is running: the scheduler owns the store until Stop.
func (s *Server) importSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var doc mapper.ScanDocument
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		d, err := mapper.ImportJSON(r.Body)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc = d
	case "csv":
		points, err := mapper.ImportCSV(r.Body)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc = mapper.ScanDocument{Points: points}
	default:
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown import format %q", format))
		return
	}

	if err := s.session.Load(doc); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSON(w, map[string]int{"loaded": len(doc.Points)})
}

// snapshotDocument assembles the interchange document for the live cloud.
func (s *Server) snapshotDocument() mapper.ScanDocument {
	return mapper.ScanDocument{
		Points:         s.session.Snapshot(),
		ScanCount:      s.session.ScanCount(),
		Timestamp:      time.Now().UTC(),
		FilterDistance: s.session.Filter().MaxDistanceMM,
	}
}
