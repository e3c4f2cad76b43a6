package retry

import (
	"sort"
	"sync"

	"video_transcoding_service/internal/transcoding/domain"
)

// History bounded per-job error history kept in memory
type History struct {
	mu      sync.Mutex
	size    int
	maxJobs int
	jobs    map[string][]domain.ClassifiedError
	// insertion order of job ids, oldest first
	order []string
}

// NewHistory size entries per job, maxJobs tracked jobs; oldest jobs are forgotten first
func NewHistory(size, maxJobs int) *History {
	if size <= 0 {
		size = 50
	}
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	return &History{
		size:    size,
		maxJobs: maxJobs,
		jobs:    make(map[string][]domain.ClassifiedError),
	}
}

// Record append e to its job history
func (h *History) Record(e domain.ClassifiedError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, ok := h.jobs[e.JobID]
	if !ok {
		h.order = append(h.order, e.JobID)
		for len(h.order) > h.maxJobs {
			delete(h.jobs, h.order[0])
			h.order = h.order[1:]
		}
	}
	entries = append(entries, e)
	if len(entries) > h.size {
		entries = entries[len(entries)-h.size:]
	}
	h.jobs[e.JobID] = entries
}

// ForJob copy of a job's history, oldest first
func (h *History) ForJob(jobID string) []domain.ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ClassifiedError(nil), h.jobs[jobID]...)
}

// Clear forget a job, used when it is submitted again
func (h *History) Clear(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.jobs[jobID]; !ok {
		return
	}
	delete(h.jobs, jobID)
	for i, id := range h.order {
		if id == jobID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// MessageCount one frequent message
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Stats definition error statistics over the retained history
type Stats struct {
	Total       int                      `json:"total"`
	Jobs        int                      `json:"jobs"`
	ByType      map[domain.ErrorType]int `json:"by_type"`
	BySeverity  map[domain.Severity]int  `json:"by_severity"`
	ByStage     map[domain.Stage]int     `json:"by_stage"`
	TopMessages []MessageCount           `json:"top_messages"`
}

// Stats counts by class, severity and stage plus the top most frequent messages
func (h *History) Stats(top int) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Jobs:       len(h.jobs),
		ByType:     make(map[domain.ErrorType]int),
		BySeverity: make(map[domain.Severity]int),
		ByStage:    make(map[domain.Stage]int),
	}
	messages := make(map[string]int)
	for _, entries := range h.jobs {
		for _, e := range entries {
			st.Total++
			st.ByType[e.Type]++
			st.BySeverity[e.Severity]++
			st.ByStage[e.Stage]++
			messages[e.Message]++
		}
	}

	for m, n := range messages {
		st.TopMessages = append(st.TopMessages, MessageCount{Message: m, Count: n})
	}
	sort.Slice(st.TopMessages, func(i, j int) bool {
		if st.TopMessages[i].Count != st.TopMessages[j].Count {
			return st.TopMessages[i].Count > st.TopMessages[j].Count
		}
		return st.TopMessages[i].Message < st.TopMessages[j].Message
	})
	if top > 0 && len(st.TopMessages) > top {
		st.TopMessages = st.TopMessages[:top]
	}
	return st
}
