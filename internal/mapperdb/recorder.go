package mapperdb

import (
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lidarworks/roommapper/internal/mapper"
)

// Recorder is a mapper.Observer that writes the pipeline's life to the
// database: a session row per scan, a metrics row per decimated refresh,
// and a full point cloud snapshot when the session ends. Database failures
// are logged and never propagate into the pipeline.
type Recorder struct {
	db   *DB
	port string

	mu        sync.Mutex
	session   *mapper.Session
	sessionID string
	fault     string

	lastSnapshot []mapper.Point
	lastFilter   float64
}

// NewRecorder creates a recorder for scans on the given port.
func NewRecorder(db *DB, port string) *Recorder {
	return &Recorder{db: db, port: port}
}

// Bind attaches the session whose counters the recorder reads at session
// end. Called once after the session is constructed.
func (r *Recorder) Bind(session *mapper.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = session
}

func (r *Recorder) OnBatchMerged(snapshot []mapper.Point, metrics mapper.RoomMetrics, ok bool) {
	r.mu.Lock()
	sessionID := r.sessionID
	r.lastSnapshot = snapshot
	if r.session != nil {
		r.lastFilter = r.session.Filter().MaxDistanceMM
	}
	r.mu.Unlock()

	if sessionID == "" || !ok {
		return
	}
	if err := r.db.RecordMetrics(sessionID, metrics); err != nil {
		log.Printf("recorder: %v", err)
	}
}

func (r *Recorder) OnFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = err.Error()
}

func (r *Recorder) OnStateChanged(state mapper.State) {
	switch state {
	case mapper.StateScanning:
		id, err := r.db.StartSession(r.port)
		if err != nil {
			log.Printf("recorder: %v", err)
			return
		}
		r.mu.Lock()
		r.sessionID = id
		r.fault = ""
		r.lastSnapshot = nil
		r.mu.Unlock()
		log.Printf("recording scan session %s", id)

	case mapper.StateIdle:
		r.mu.Lock()
		sessionID := r.sessionID
		r.sessionID = ""
		fault := r.fault
		snapshot := r.lastSnapshot
		filter := r.lastFilter
		session := r.session
		r.mu.Unlock()

		if sessionID == "" {
			return
		}
		scanCount := 0
		if session != nil {
			scanCount = session.ScanCount()
		}
		if len(snapshot) > 0 {
			doc := mapper.ScanDocument{
				Points:         snapshot,
				ScanCount:      scanCount,
				Timestamp:      time.Now().UTC(),
				FilterDistance: filter,
			}
			if err := r.db.SaveSnapshot(sessionID, doc); err != nil {
				log.Printf("recorder: %v", err)
			}
		}
		if err := r.db.EndSession(sessionID, scanCount, len(snapshot), fault); err != nil {
			log.Printf("recorder: %v", err)
		}
		log.Printf("closed scan session %s: %s scans, %s points",
			sessionID, humanize.Comma(int64(scanCount)), humanize.Comma(int64(len(snapshot))))
	}
}
