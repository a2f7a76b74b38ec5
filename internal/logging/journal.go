package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxError = 256

const (
	OutcomeSuccess      = "success"
	OutcomeFailed       = "failed"
	OutcomePrerequisite = "prerequisite"
)

// Deployment is written as a single JSON object per push.
type Deployment struct {
	Timestamp   time.Time `json:"ts"`
	AppUUID     string    `json:"app_uuid"`
	Server      string    `json:"server"`
	Outcome     string    `json:"outcome"`
	FailedStep  string    `json:"failed_step,omitempty"`
	Error       string    `json:"error,omitempty"`
	Written     []string  `json:"written"`
	Removed     []string  `json:"removed"`
	Diagnostics int       `json:"diagnostics"`
	DurationMS  int64     `json:"duration_ms"`
}

type Journal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJournal(w io.Writer) *Journal {
	return &Journal{w: w}
}

func OpenJournal(path string) (*Journal, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewJournal(file), file.Close, nil
}

// Write appends one record. A nil journal discards it.
func (j *Journal) Write(d Deployment) error {
	if j == nil {
		return nil
	}
	if len(d.Error) > maxError {
		d.Error = d.Error[:maxError]
	}

	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(append(data, '\n'))
	return err
}
