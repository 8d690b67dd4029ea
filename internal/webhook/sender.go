package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"backtest-api/internal/core"
)

type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
)

type Payload struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      JobEventData `json:"data"`
	Signature string       `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string `json:"job_id"`
	Type         string `json:"type"`
	OwnerID      string `json:"owner_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Duration     int64  `json:"duration_ms,omitempty"`
}

type Config struct {
	Endpoints   []string
	Secret      string
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	url     string
	payload *Payload
}

// Sender delivers job lifecycle events to configured endpoints. Tasks
// are queued and delivered by a small worker pool; a full task queue
// drops events rather than blocking the job pipeline.
type Sender struct {
	endpoints  []string
	secret     string
	httpClient *http.Client
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		endpoints: cfg.Endpoints,
		secret:    cfg.Secret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		workers: cfg.WorkerCount,
		queue:   make(chan *task, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// NotifyTerminal is wired to the job store as a terminal hook.
func (s *Sender) NotifyTerminal(job *core.Job) {
	if len(s.endpoints) == 0 {
		return
	}

	var event Event
	switch job.Status {
	case core.JobStatusCompleted:
		event = EventJobCompleted
	case core.JobStatusFailed:
		event = EventJobFailed
	case core.JobStatusCancelled:
		event = EventJobCancelled
	default:
		return
	}

	data := JobEventData{
		JobID:        job.ID,
		Type:         job.Type,
		OwnerID:      job.OwnerID,
		Status:       string(job.Status),
		ErrorMessage: job.Error,
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		data.Duration = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}

	s.enqueue(event, data)
}

func (s *Sender) enqueue(event Event, data JobEventData) {
	for _, url := range s.endpoints {
		t := &task{
			url: url,
			payload: &Payload{
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- t:
		default:
			log.Printf("[webhook] queue full, dropping event %s for %s", event, url)
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.send(t); err != nil {
				log.Printf("[webhook worker %d] failed to deliver %s to %s: %v", id, t.payload.Event, t.url, err)
			}
		}
	}
}

func (s *Sender) send(t *task) error {
	dataBytes, err := json.Marshal(t.payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if s.secret != "" {
		t.payload.Signature = s.sign(dataBytes)
	}

	body, err := json.Marshal(t.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", t.payload.Signature)
	req.Header.Set("X-Webhook-Event", t.payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func (s *Sender) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(s.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
