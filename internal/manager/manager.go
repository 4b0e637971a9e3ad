// Package manager synchronizes the device with the remote management
// server: it fetches pending updates (on demand and on a polling fallback),
// deduplicates them against work already in flight, fans them out through
// the update state machine, and reports completion back.
package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/paradrop/agent/internal/chute"
	"github.com/paradrop/agent/internal/history"
	"github.com/paradrop/agent/internal/metrics"
	"github.com/paradrop/agent/internal/pdserver"
	"github.com/paradrop/agent/internal/store"
	"github.com/paradrop/agent/internal/uci"
	"github.com/paradrop/agent/internal/update"
)

// DefaultPollInterval is the fallback cadence when no push notification
// arrives.
const DefaultPollInterval = 15 * time.Minute

// ServerClient is the slice of the management server API the manager needs.
// *pdserver.Client satisfies it.
type ServerClient interface {
	ListUpdates(ctx context.Context) (*pdserver.UpdatesResponse, error)
	MarkCompleted(ctx context.Context, updateID string) error
	SendStateReport(ctx context.Context, report *pdserver.StateReport) error
}

type retryParams struct {
	attempts int
	interval time.Duration
}

// Options configures a Manager. Server and Machine are required; everything
// else degrades gracefully when absent.
type Options struct {
	Server       ServerClient
	Machine      *update.Machine
	Chutes       chute.Store   // for state report content; may be nil
	Outcomes     store.Store   // persistent outcome log; may be nil
	Sinks        []history.Sink
	RouterID     string
	PollInterval time.Duration
	// Completion-report retry. Defaults: 3 attempts, 5s apart.
	ReportAttempts int
	ReportInterval time.Duration
	Logger         *slog.Logger
}

// Manager owns the in-progress set and the polling timer.
type Manager struct {
	mu         sync.Mutex
	inProgress map[string]struct{}

	timer        Timer
	server       ServerClient
	machine      *update.Machine
	chutes       chute.Store
	outcomes     store.Store
	sinks        []history.Sink
	routerID     string
	pollInterval time.Duration
	reportRetry  retryParams
	logger       *slog.Logger
}

func New(opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReportAttempts <= 0 {
		opts.ReportAttempts = 3
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		inProgress:   make(map[string]struct{}),
		server:       opts.Server,
		machine:      opts.Machine,
		chutes:       opts.Chutes,
		outcomes:     opts.Outcomes,
		sinks:        opts.Sinks,
		routerID:     opts.RouterID,
		pollInterval: opts.PollInterval,
		reportRetry:  retryParams{attempts: opts.ReportAttempts, interval: opts.ReportInterval},
		logger:       opts.Logger,
	}
}

// StartUpdate fetches pending updates and drives any newly admitted ones to
// completion, including the aggregate state report for the batch. auto marks
// a scheduled (timer-fired) fetch; an explicit fetch restarts the countdown
// so the next scheduled one is not redundant. The polling fallback arms on
// the first call.
//
// The call blocks until the admitted batch has completed and been reported;
// callers that must not block run it in a goroutine.
func (m *Manager) StartUpdate(ctx context.Context, auto bool) {
	if !auto {
		m.timer.Reset()
	}
	metrics.IncPollCycle(auto)
	m.timer.Arm(m.pollInterval, func() {
		m.StartUpdate(context.Background(), true)
	})

	resp, err := m.server.ListUpdates(ctx)
	if err != nil {
		// A fetch failure costs nothing but the delay to the next cycle.
		m.logger.Error("fetch updates failed", "err", err)
		metrics.IncFetchError()
		return
	}
	if !resp.Success || resp.Data == nil {
		// The server answered but did not vouch for the listing. Same as a
		// failed fetch: tracking stays untouched.
		m.logger.Error("fetch updates refused", "success", resp.Success)
		metrics.IncFetchError()
		return
	}
	m.updatesReceived(ctx, resp.Data)
}

// Stop cancels the polling fallback.
func (m *Manager) Stop() {
	m.timer.Cancel()
}

// InProgress returns the external IDs currently being worked, for status
// reporting.
func (m *Manager) InProgress() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.inProgress))
	for id := range m.inProgress {
		out = append(out, id)
	}
	return out
}

// updatesReceived reconciles the in-progress set against one fetched listing
// and dispatches the newly admitted updates concurrently. Items are skipped
// when already in progress here, or when another device process has marked
// them started. IDs the server no longer lists are presumed finished
// elsewhere and dropped from tracking.
func (m *Manager) updatesReceived(ctx context.Context, items []pdserver.UpdateItem) {
	received := make(map[string]struct{}, len(items))
	for _, it := range items {
		received[it.ID] = struct{}{}
	}

	m.mu.Lock()
	for id := range m.inProgress {
		if _, ok := received[id]; !ok {
			delete(m.inProgress, id)
		}
	}
	var batch []*update.Update
	for _, it := range items {
		if _, ok := m.inProgress[it.ID]; ok {
			continue
		}
		if it.Started {
			continue
		}
		u, err := update.New(requestFromItem(it))
		if err != nil {
			// Not admitted and not tracked; the server keeps listing it and
			// we keep rejecting it.
			m.logger.Warn("rejected update", "id", it.ID, "class", it.Class, "type", it.Type, "err", err)
			continue
		}
		m.inProgress[it.ID] = struct{}{}
		batch = append(batch, u)
	}
	metrics.SetInProgress(len(m.inProgress))
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, u := range batch {
		wg.Add(1)
		go func(u *update.Update) {
			defer wg.Done()
			m.machine.Execute(ctx, u)
			m.updateComplete(ctx, u)
		}(u)
	}
	wg.Wait()
	m.sendStateReport(ctx, batch)
}

// requestFromItem maps a server listing entry onto an admission request. The
// item's config block is merged into the payload when it decodes as a JSON
// object and dropped otherwise; a missing name falls back to the block's
// name field.
func requestFromItem(it pdserver.UpdateItem) update.Request {
	payload := make(map[string]any)
	if len(it.Config) > 0 {
		var blob map[string]any
		if err := json.Unmarshal(it.Config, &blob); err == nil {
			for k, v := range blob {
				payload[k] = v
			}
		}
	}
	name := it.Name
	if name == "" {
		if n, ok := payload["name"].(string); ok {
			name = n
		}
	}
	if name == "" && it.Class == string(update.ClassRouter) {
		name = uci.RouterOwner
	}
	return update.Request{
		Class: update.Class(it.Class),
		Type:  it.Type,
		Name:  name,
		External: &update.External{
			UpdateID:  it.ID,
			ChuteID:   it.ChuteID,
			VersionID: it.VersionID,
		},
		Payload:   payload,
		Delegated: it.Delegated,
	}
}

// updateComplete persists the outcome, fans it to the history sinks, and
// reports completion to the server. Delegated updates are reported by an
// out-of-band installer, never from here. On report exhaustion the ID stays
// in progress so the update is not re-dispatched; the next listing that
// omits it clears the entry.
func (m *Manager) updateComplete(ctx context.Context, u *update.Update) {
	res := u.Result()
	now := time.Now().UTC()
	rec := store.Record{
		Token:       u.Token,
		Class:       string(u.Class),
		Type:        u.Type,
		Name:        u.Name,
		Success:     res.Success,
		Message:     res.Message,
		StartedAt:   u.CreatedAt,
		CompletedAt: now,
	}
	if u.External != nil {
		rec.UpdateID = u.External.UpdateID
	}
	if m.outcomes != nil {
		if err := m.outcomes.RecordResult(ctx, rec); err != nil {
			m.logger.Error("record outcome failed", "update", u.String(), "err", err)
		}
	}
	for _, sink := range m.sinks {
		ev := history.Event{OccurredAt: now, RouterID: m.routerID, Record: rec}
		if err := sink.Send(ctx, ev); err != nil {
			m.logger.Error("history sink failed", "update", u.String(), "err", err)
		}
	}

	if u.External == nil || u.Delegated {
		return
	}
	var err error
	for attempt := 0; attempt < m.reportRetry.attempts; attempt++ {
		if attempt > 0 {
			metrics.IncReportRetry()
			time.Sleep(m.reportRetry.interval)
		}
		if err = m.server.MarkCompleted(ctx, u.External.UpdateID); err == nil {
			break
		}
		m.logger.Warn("completion report failed", "id", u.External.UpdateID, "attempt", attempt+1, "err", err)
	}
	if err != nil {
		metrics.IncReportFailure()
		m.logger.Error("completion report abandoned", "id", u.External.UpdateID, "err", err)
		return
	}

	m.mu.Lock()
	delete(m.inProgress, u.External.UpdateID)
	metrics.SetInProgress(len(m.inProgress))
	m.mu.Unlock()
}

// sendStateReport submits one aggregate report covering the whole batch.
func (m *Manager) sendStateReport(ctx context.Context, batch []*update.Update) {
	report := &pdserver.StateReport{RouterID: m.routerID}
	if m.chutes != nil {
		list, err := m.chutes.List()
		if err != nil {
			m.logger.Error("list chutes for state report failed", "err", err)
		}
		for _, c := range list {
			state := "stopped"
			if c.Running {
				state = "running"
			}
			report.Chutes = append(report.Chutes, pdserver.ChuteState{
				Name:    c.Name,
				Version: c.Version,
				State:   state,
			})
		}
	}
	for _, u := range batch {
		if u.External == nil {
			continue
		}
		res := u.Result()
		report.Updates = append(report.Updates, pdserver.UpdateState{
			UpdateID: u.External.UpdateID,
			Success:  res.Success,
			Message:  res.Message,
		})
	}
	if err := m.server.SendStateReport(ctx, report); err != nil {
		m.logger.Error("state report failed", "err", err)
	}
}
