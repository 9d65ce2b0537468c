// Package progress implements the observable download progress model and
// reporter (§4.2): per-URL log throttling, grouped-progress aggregation,
// and human-readable byte formatting. Subscribers receive snapshots over a
// buffered channel, the same lightweight pub/sub shape the teacher's
// content fetcher uses for its own stats/error counters, generalized here
// to a proper broadcast.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexusforge/modcache/internal/logging"
)

// Status is the lifecycle state of a single download (§3).
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusSkipped    Status = "Skipped"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// DownloadProgress is the observable record tracked per URL (§3).
type DownloadProgress struct {
	ModName            string
	URL                string
	Status             Status
	ProgressPercentage float64
	BytesDownloaded    uint64
	TotalBytes         uint64
	StatusMessage      string
	ErrorMessage       string
	FilePath           string
	StartTime          time.Time
	EndTime            *time.Time
	Err                error
	Log                []string

	IsGrouped bool
	Children  []*DownloadProgress

	lastLogAt     time.Time
	lastLogStatus Status
}

// AppendLog appends a line to the progress's append-only log.
func (p *DownloadProgress) AppendLog(line string) {
	p.Log = append(p.Log, line)
}

// Reporter tracks a set of DownloadProgress records keyed by URL and
// notifies subscribers whenever one changes.
type Reporter struct {
	mu          sync.Mutex
	progresses  map[string]*DownloadProgress
	subscribers []chan *DownloadProgress
}

// NewReporter creates an empty Reporter.
func NewReporter() *Reporter {
	return &Reporter{
		progresses: make(map[string]*DownloadProgress),
	}
}

// Track registers a DownloadProgress under its URL.
func (r *Reporter) Track(p *DownloadProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progresses[p.URL] = p
}

// Get returns the tracked progress for a URL, if any.
func (r *Reporter) Get(url string) (*DownloadProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progresses[url]
	return p, ok
}

// Subscribe returns a channel that receives a snapshot every time Update is
// called for any tracked URL. The channel is buffered; slow subscribers
// drop notifications rather than blocking the reporter.
func (r *Reporter) Subscribe() <-chan *DownloadProgress {
	ch := make(chan *DownloadProgress, 64)
	r.mu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()
	return ch
}

// Update mutates the tracked progress for url via fn, applies the §4.2
// log-throttling rule, and notifies subscribers. If url isn't tracked yet,
// a new Pending record is created first.
func (r *Reporter) Update(url string, fn func(*DownloadProgress)) *DownloadProgress {
	r.mu.Lock()
	p, ok := r.progresses[url]
	if !ok {
		p = &DownloadProgress{URL: url, Status: StatusPending, StartTime: time.Now()}
		r.progresses[url] = p
	}

	prevStatus := p.Status
	fn(p)

	r.maybeLog(p, prevStatus)

	snapshot := *p
	subs := append([]chan *DownloadProgress(nil), r.subscribers...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- &snapshot:
		default:
		}
	}

	return p
}

const logInterval = 30 * time.Second

// maybeLog applies §4.2 rule 1: emit only on first update, status change,
// terminal status, error present, or after 30s since the last emission.
func (r *Reporter) maybeLog(p *DownloadProgress, prevStatus Status) {
	now := time.Now()
	first := p.lastLogAt.IsZero()
	statusChanged := prevStatus != p.Status
	isTerminal := p.Status.terminal()
	hasError := p.ErrorMessage != "" || p.Err != nil
	elapsed := now.Sub(p.lastLogAt) >= logInterval

	if !(first || statusChanged || isTerminal || hasError || elapsed) {
		return
	}

	p.lastLogAt = now
	p.lastLogStatus = p.Status

	logging.Component("progress").WithField("url", p.URL).WithField("status", p.Status).
		Infof("%s: %.1f%% (%s)", p.ModName, p.ProgressPercentage, p.StatusMessage)
}

// Aggregate derives a parent's status/percentage from its children per
// §4.2 rule 2.
func Aggregate(parent *DownloadProgress) {
	if !parent.IsGrouped || len(parent.Children) == 0 {
		return
	}

	var anyInProgress, anyPending bool
	var failed, succeededOrSkipped int
	var sum float64
	var failMessages []string

	for _, c := range parent.Children {
		sum += c.ProgressPercentage
		switch c.Status {
		case StatusInProgress:
			anyInProgress = true
		case StatusPending:
			anyPending = true
		case StatusFailed:
			failed++
			if c.ErrorMessage != "" {
				failMessages = append(failMessages, fmt.Sprintf("%s: %s", c.ModName, c.ErrorMessage))
			}
		case StatusCompleted, StatusSkipped:
			succeededOrSkipped++
		}
	}

	parent.ProgressPercentage = sum / float64(len(parent.Children))

	switch {
	case anyInProgress:
		parent.Status = StatusInProgress
	case anyPending:
		parent.Status = StatusInProgress
	case failed > 0 && succeededOrSkipped == 0:
		parent.Status = StatusFailed
		parent.ProgressPercentage = 100
		parent.StatusMessage = "all failed"
	case failed > 0 && succeededOrSkipped > 0:
		parent.Status = StatusFailed
		parent.ProgressPercentage = 100
		parent.StatusMessage = "partial completion: " + joinWithSemicolons(failMessages)
	default:
		parent.Status = StatusCompleted
	}
}

func joinWithSemicolons(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += "; "
		}
		out += it
	}
	return out
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// HumanBytes renders n using divisor-1024 units with two-decimal precision
// (§4.2 rule 3).
func HumanBytes(n uint64) string {
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%.0f %s", value, byteUnits[unit])
	}
	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}
