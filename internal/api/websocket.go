package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantsim/internal/domain"
	"quantsim/internal/jobs"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	subBuffer  = 64
)

// JobReader fetches the current job record.
type JobReader interface {
	Get(ctx context.Context, id string) (*domain.SimulationJob, error)
}

// JobReaderFunc adapts a lookup function, such as a job store's GetJob, to
// JobReader.
type JobReaderFunc func(ctx context.Context, id string) (*domain.SimulationJob, error)

// Get calls f(ctx, id).
func (f JobReaderFunc) Get(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return f(ctx, id)
}

// ProgressHub fans job snapshots out to WebSocket clients watching a job.
// It implements jobs.Observer so the orchestrator pushes every status and
// progress change into it.
type ProgressHub struct {
	jobs     JobReader
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan domain.SimulationJob // jobID -> subID -> ch
}

var _ jobs.Observer = (*ProgressHub)(nil)

// NewProgressHub creates a hub that reads initial snapshots from r.
func NewProgressHub(r JobReader) *ProgressHub {
	return &ProgressHub{
		jobs: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:  slog.Default().With("component", "progress-hub"),
		subs: make(map[string]map[int]chan domain.SimulationJob),
	}
}

// JobUpdated broadcasts job to its subscribers. Slow consumers drop updates.
func (h *ProgressHub) JobUpdated(job domain.SimulationJob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[job.ID] {
		select {
		case ch <- job:
		default:
		}
	}
}

// Subscribe registers a channel receiving updates for jobID.
func (h *ProgressHub) Subscribe(jobID string, bufSize int) (int, <-chan domain.SimulationJob) {
	ch := make(chan domain.SimulationJob, bufSize)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan domain.SimulationJob)
	}
	h.subs[jobID][id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *ProgressHub) Unsubscribe(jobID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[jobID]
	if ch, ok := m[id]; ok {
		delete(m, id)
		close(ch)
	}
	if len(m) == 0 {
		delete(h.subs, jobID)
	}
}

// Subscribers returns the number of open subscriptions for jobID.
func (h *ProgressHub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// ServeJob upgrades the request to a WebSocket and streams snapshots of
// jobID: the current record first, then every change until the job is
// terminal or the client goes away.
func (h *ProgressHub) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	subID, ch := h.Subscribe(jobID, subBuffer)
	defer h.Unsubscribe(jobID, subID)

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrJobNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "jobID", jobID, "err", err)
		return
	}
	defer conn.Close()
	log := h.log.With("jobID", jobID, "remote", r.RemoteAddr)
	log.Info("progress client connected")

	// Client messages are ignored; reading detects the close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := *job
	if err := writeJob(conn, last); err != nil {
		return
	}
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for !last.Status.Terminal() {
		select {
		case <-ctx.Done():
			log.Info("progress client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case upd, ok := <-ch:
			if !ok {
				return
			}
			// Updates queued before the snapshot was read may be stale.
			if upd.CompletedSteps < last.CompletedSteps && !upd.Status.Terminal() {
				continue
			}
			last = upd
			if err := writeJob(conn, last); err != nil {
				log.Warn("writing progress", "err", err)
				return
			}
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status)),
		time.Now().Add(writeWait))
}

func writeJob(conn *websocket.Conn, job domain.SimulationJob) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(job)
}
