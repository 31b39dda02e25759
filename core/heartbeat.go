package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

const (
	WorkerHeartbeatPrefix   = "authqueue:worker:"
	WorkerHeartbeatTTL      = 45 * time.Second
	workerHeartbeatInterval = 5 * time.Second
)

// WorkerHeartbeatKey returns Redis key for given worker ID.
func WorkerHeartbeatKey(id string) string {
	return WorkerHeartbeatPrefix + id
}

// WorkerHeartbeat is what an invalidation worker publishes periodically.
type WorkerHeartbeat struct {
	WorkerID       string    `json:"worker_id"`
	Hostname       string    `json:"hostname"`
	PID            int       `json:"pid"`
	Concurrency    int       `json:"concurrency"`
	Status         string    `json:"status"` // starting|idle|busy
	Running        int       `json:"running"`
	ProcessedTotal int64     `json:"processed_total"`
	FailedTotal    int64     `json:"failed_total"`
	LastError      string    `json:"last_error,omitempty"`
	NumGoroutine   int       `json:"num_goroutine"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SaveHeartbeat stores heartbeat JSON with TTL.
func SaveHeartbeat(ctx context.Context, client RedisClientRaw, hb WorkerHeartbeat) error {
	hb.UpdatedAt = time.Now()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}

// HeartbeatState aggregates the counters of one worker process.
type HeartbeatState struct {
	mu sync.Mutex
	hb WorkerHeartbeat
}

func NewHeartbeatState(workerID, hostname string, concurrency int) *HeartbeatState {
	now := time.Now()
	return &HeartbeatState{hb: WorkerHeartbeat{
		WorkerID:    workerID,
		Hostname:    hostname,
		PID:         os.Getpid(),
		Concurrency: concurrency,
		Status:      "starting",
		StartedAt:   now,
		UpdatedAt:   now,
	}}
}

// Start publishes the heartbeat immediately and then every few seconds until ctx ends.
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	ticker := time.NewTicker(workerHeartbeatInterval)
	defer ticker.Stop()
	s.flush(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx, client)
		}
	}
}

func (s *HeartbeatState) JobStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.Running++
	s.hb.Status = "busy"
}

func (s *HeartbeatState) JobFinished(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hb.Running > 0 {
		s.hb.Running--
	}
	s.hb.ProcessedTotal++
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	}
	if s.hb.Running == 0 {
		s.hb.Status = "idle"
	}
}

// Snapshot returns a copy of the current heartbeat.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb := s.hb
	hb.UptimeSeconds = int64(time.Since(hb.StartedAt).Seconds())
	hb.NumGoroutine = runtime.NumGoroutine()
	return hb
}

func (s *HeartbeatState) flush(ctx context.Context, client RedisClientRaw) {
	if err := SaveHeartbeat(ctx, client, s.Snapshot()); err != nil && ctx.Err() == nil {
		slog.Warn("heartbeat publish failed", "error", err)
	}
}
