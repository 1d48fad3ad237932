package client

import (
	"encoding/json"
	"time"
)

// Status is the daemon state summary from GET /v1/status.
type Status struct {
	Mounted    bool     `json:"mounted"`
	Stale      bool     `json:"stale"`
	RunID      int64    `json:"run_id,omitempty"`
	Mounts     int      `json:"mounts"`
	Modules    int      `json:"modules"`
	Active     int      `json:"active"`
	Partitions []string `json:"partitions"`
	Version    string   `json:"version"`
}

// Module is an installed module and its state markers.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	VersionCode int64  `json:"versionCode"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled"`
	Remove      bool   `json:"remove"`
	SkipMount   bool   `json:"skipMount"`
	Updated     bool   `json:"updated"`
	HasContent  bool   `json:"hasContent"`
}

// InstallResult is the response from installing a module.
type InstallResult struct {
	Module   Module `json:"module"`
	Replaced bool   `json:"replaced"`
	Source   string `json:"source"`
	Digest   string `json:"digest,omitempty"`
}

// Request is one mount operation of a plan or run journal.
type Request struct {
	Mode   string `json:"mode"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Module string `json:"module,omitempty"`
}

// Plan is the dry-run mount layout from GET /v1/plan.
type Plan struct {
	Modules  []string  `json:"modules"`
	Requests []Request `json:"requests"`
}

// Run is one realization run.
type Run struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	Modules    []string        `json:"modules"`
	Requests   json.RawMessage `json:"requests,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Journal decodes the run's recorded mount operations.
func (r *Run) Journal() []Request {
	var reqs []Request
	if len(r.Requests) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Requests, &reqs); err != nil {
		return nil
	}
	return reqs
}

// SweepResult summarizes a storage sweep.
type SweepResult struct {
	Referenced     int `json:"referenced"`
	SourcesDropped int `json:"sources_dropped"`
}

// APIError is returned when the API returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}
