package dashboard

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/replay"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/gin-gonic/gin"
)

// #region types
// Store is the read side of storage.Store the dashboard needs.
type Store interface {
	ListStudies(ctx context.Context) ([]storage.StudySummary, error)
	GetStudy(ctx context.Context, name string) (trial.Study, error)
	LoadHistory(ctx context.Context, studyName string) ([]trial.Record, error)
	GetTrial(ctx context.Context, studyName string, number int) (trial.Record, error)
}

// EventReader lists a trial's lifecycle events; *logging.EventLog implements it.
type EventReader interface {
	Events(studyName string, number int) ([]logging.EventEntry, error)
}

type Handler struct {
	store  Store
	events EventReader
}

func NewHandler(store Store, events EventReader) *Handler {
	return &Handler{store: store, events: events}
}

// #endregion types

// #region views
type studyView struct {
	Name      string              `json:"name"`
	Direction trial.Direction     `json:"direction"`
	CreatedAt string              `json:"created_at"`
	Counts    map[trial.State]int `json:"counts,omitempty"`
	Best      *trialView          `json:"best,omitempty"`
}

type reportView struct {
	Step  int      `json:"step"`
	Value *float64 `json:"value"`
}

type trialView struct {
	Number      int                `json:"number"`
	RunID       string             `json:"run_id"`
	State       trial.State        `json:"state"`
	Value       *float64           `json:"value"`
	Params      map[string]float64 `json:"params"`
	Reports     []reportView       `json:"reports"`
	StartedAt   string             `json:"started_at"`
	CompletedAt string             `json:"completed_at,omitempty"`
}

type eventView struct {
	Kind      logging.EventKind `json:"kind"`
	Step      int               `json:"step,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt string            `json:"created_at"`
}

func toTrialView(r trial.Record) trialView {
	v := trialView{
		Number:    r.Number,
		RunID:     r.RunID,
		State:     r.State,
		Params:    r.Params,
		Reports:   make([]reportView, len(r.Reports)),
		StartedAt: formatTime(r.StartedAt),
	}
	if r.Value != nil {
		v.Value = finite(*r.Value)
	}
	if !r.CompletedAt.IsZero() {
		v.CompletedAt = formatTime(r.CompletedAt)
	}
	for i, rep := range r.Reports {
		v.Reports[i] = reportView{Step: rep.Step, Value: finite(rep.Value)}
	}
	return v
}

// finite returns nil for NaN and ±Inf, which JSON cannot carry.
func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// #endregion views

// #region studies
// ListStudies returns every study with its trial counts.
func (h *Handler) ListStudies(c *gin.Context) {
	summaries, err := h.store.ListStudies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]studyView, len(summaries))
	for i, s := range summaries {
		out[i] = studyView{
			Name:      s.Name,
			Direction: s.Direction,
			CreatedAt: formatTime(s.CreatedAt),
			Counts:    s.Counts,
		}
	}
	c.JSON(http.StatusOK, gin.H{"studies": out, "total": len(out)})
}

// GetStudy returns one study with its counts and best trial.
func (h *Handler) GetStudy(c *gin.Context) {
	st, history, ok := h.loadStudy(c)
	if !ok {
		return
	}
	view := studyView{
		Name:      st.Name,
		Direction: st.Direction,
		CreatedAt: formatTime(st.CreatedAt),
		Counts:    map[trial.State]int{},
	}
	for _, r := range history {
		view.Counts[r.State]++
	}
	if best, ok := trial.Best(history, st.Direction); ok {
		bv := toTrialView(best)
		view.Best = &bv
	}
	c.JSON(http.StatusOK, view)
}

// BestTrial returns the best COMPLETE trial.
func (h *Handler) BestTrial(c *gin.Context) {
	st, history, ok := h.loadStudy(c)
	if !ok {
		return
	}
	best, found := trial.Best(history, st.Direction)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no complete trials"})
		return
	}
	c.JSON(http.StatusOK, toTrialView(best))
}

func (h *Handler) loadStudy(c *gin.Context) (trial.Study, []trial.Record, bool) {
	ctx := c.Request.Context()
	st, err := h.store.GetStudy(ctx, c.Param("name"))
	if err != nil {
		writeStoreError(c, err)
		return trial.Study{}, nil, false
	}
	history, err := h.store.LoadHistory(ctx, st.Name)
	if err != nil {
		writeStoreError(c, err)
		return trial.Study{}, nil, false
	}
	return st, history, true
}

// #endregion studies

// #region trials
// ListTrials returns the study's trials, optionally filtered by ?state=.
func (h *Handler) ListTrials(c *gin.Context) {
	_, history, ok := h.loadStudy(c)
	if !ok {
		return
	}
	filter := trial.State(c.Query("state"))
	out := make([]trialView, 0, len(history))
	for _, r := range history {
		if filter != "" && r.State != filter {
			continue
		}
		out = append(out, toTrialView(r))
	}
	c.JSON(http.StatusOK, gin.H{"trials": out, "total": len(out)})
}

// GetTrial returns one trial and its lifecycle events.
func (h *Handler) GetTrial(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trial number must be an integer"})
		return
	}
	name := c.Param("name")
	rec, err := h.store.GetTrial(c.Request.Context(), name, number)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	resp := gin.H{"trial": toTrialView(rec)}
	if h.events != nil {
		entries, err := h.events.Events(name, number)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		events := make([]eventView, len(entries))
		for i, e := range entries {
			events[i] = eventView{
				Kind:      e.Kind,
				Step:      e.Step,
				Detail:    e.DetailJSON,
				Reason:    e.Reason,
				CreatedAt: formatTime(e.CreatedAt),
			}
		}
		resp["events"] = events
	}
	c.JSON(http.StatusOK, resp)
}

// #endregion trials

// #region replay
// Replay re-judges the study with ?pruner= (default hyperband) and reports
// where each trial would have stopped.
func (h *Handler) Replay(c *gin.Context) {
	st, history, ok := h.loadStudy(c)
	if !ok {
		return
	}
	p, err := pruner.New(c.DefaultQuery("pruner", pruner.NameHyperband), pruner.DefaultConfig())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := replay.Replay(st.Name, st.Direction, history, p)
	summary := replay.Summarize(results, history, st.Direction)

	rows := make([]gin.H, len(results))
	for i, r := range results {
		row := gin.H{"number": r.Number, "original": r.Original, "action": r.Action}
		if r.Action == replay.ActionStop {
			row["stop_step"] = r.StopStep
			row["steps_saved"] = r.StepsSaved
		}
		rows[i] = row
	}
	c.JSON(http.StatusOK, gin.H{
		"results": rows,
		"summary": gin.H{
			"total":        summary.TotalTrials,
			"kept":         summary.Kept,
			"stopped":      summary.Stopped,
			"skipped":      summary.Skipped,
			"agreements":   summary.Agreements,
			"steps_saved":  summary.StepsSaved,
			"best_stopped": summary.BestStopped,
		},
	})
}

// #endregion replay

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrStudyNotFound), errors.Is(err, storage.ErrTrialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
