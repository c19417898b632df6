package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/spectrum"
	"SpectrumRanker/internal/usecase"
)

type rankRequest struct {
	ContainerID     int64  `json:"container_id"`
	CriterionID     int64  `json:"criterion_id" binding:"required"`
	Model           string `json:"model" binding:"required"`
	Actionable      *bool  `json:"actionable"`
	IncludeDone     bool   `json:"include_done"`
	IncludeArchived bool   `json:"include_archived"`
	Evaluative      bool   `json:"evaluative"`
	ForceRecompute  bool   `json:"force_recompute"`
	Strategy        string `json:"strategy"`
}

type runView struct {
	ID         string     `json:"run_id"`
	Status     string     `json:"status"`
	Model      string     `json:"model"`
	Strategy   string     `json:"strategy,omitempty"`
	ListID     int64      `json:"list_id,omitempty"`
	Inserted   int        `json:"inserted"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Probes     int        `json:"probes"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toRunView(r usecase.RunReport) runView {
	v := runView{
		ID:        string(r.ID),
		Status:    string(r.Status),
		Model:     r.Request.Model,
		Strategy:  string(r.Strategy),
		ListID:    int64(r.ListID),
		Inserted:  r.Inserted,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Probes:    r.Probes,
		Error:     r.Error,
		StartedAt: r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		v.FinishedAt = &finished
	}
	return v
}

type itemView struct {
	ID          int64  `json:"id"`
	Statement   string `json:"statement"`
	Actionable  bool   `json:"actionable"`
	Done        bool   `json:"done"`
	Archived    bool   `json:"archived"`
	ContainerID int64  `json:"container_id,omitempty"`
	VersionID   int64  `json:"version_id"`
}

func toItemView(i domain.Item) itemView {
	return itemView{
		ID:          int64(i.ID),
		Statement:   i.Statement,
		Actionable:  i.Actionable,
		Done:        i.Done,
		Archived:    i.Archived,
		ContainerID: int64(i.ContainerID),
		VersionID:   int64(i.VersionID),
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStartRanking validates the request and starts a background run.
func (h *Handlers) HandleStartRanking(c *gin.Context) {
	var req rankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	id, err := h.deps.Ranker.Start(c.Request.Context(), usecase.RankRequest{
		ContainerID:     domain.ContainerID(req.ContainerID),
		CriterionID:     domain.CriterionID(req.CriterionID),
		Model:           req.Model,
		Actionable:      req.Actionable,
		IncludeDone:     req.IncludeDone,
		IncludeArchived: req.IncludeArchived,
		Evaluative:      req.Evaluative,
		ForceRecompute:  req.ForceRecompute,
		Strategy:        spectrum.Strategy(req.Strategy),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "run_id": id})
}

// HandleListRuns lists known runs.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	runs := h.deps.Ranker.Runs()
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunView(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

// HandleGetRun reports one run.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	report, ok := h.deps.Ranker.Get(usecase.RunID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, toRunView(report))
}

// HandleCancelRun asks a run to stop after the current insertion.
func (h *Handlers) HandleCancelRun(c *gin.Context) {
	id := usecase.RunID(c.Param("id"))
	if err := h.deps.Ranker.Cancel(id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "run_id": id})
}

// HandleGetList returns the list items head to tail.
func (h *Handlers) HandleGetList(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	list, err := h.deps.Lists.GetList(ctx, domain.ListID(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	chain, err := h.deps.Lists.Chain(ctx, list.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	type nodeView struct {
		NodeID int64 `json:"node_id"`
		itemView
	}
	nodes := chain.Nodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeView{NodeID: int64(n.ID), itemView: toItemView(n.Item)})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                   list.ID,
		"model":                list.Key.Model,
		"criterion_version_id": list.Key.CriterionVersion,
		"container_id":         list.Key.Scope.ContainerID,
		"items":                out,
	})
}

type patchItemRequest struct {
	Statement   *string `json:"statement"`
	Actionable  *bool   `json:"actionable"`
	Done        *bool   `json:"done"`
	Archived    *bool   `json:"archived"`
	ContainerID *int64  `json:"container_id"`
}

// HandlePatchItem mutates an item; ranking-relevant changes drop its positions.
func (h *Handlers) HandlePatchItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req patchItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	patch := domain.ItemPatch{
		Statement:  req.Statement,
		Actionable: req.Actionable,
		Done:       req.Done,
		Archived:   req.Archived,
	}
	if req.ContainerID != nil {
		container := domain.ContainerID(*req.ContainerID)
		patch.ContainerID = &container
	}

	update, err := h.deps.Items.Patch(c.Request.Context(), domain.ItemID(id), patch)
	if err != nil {
		h.fail(c, err)
		return
	}

	changed := update.Changed
	if changed == nil {
		changed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"item":        toItemView(update.After),
		"changed":     changed,
		"invalidated": update.Invalidated,
	})
}

type humanComparisonRequest struct {
	SubjectVersionID int64  `json:"subject_version_id" binding:"required"`
	LeftVersionID    int64  `json:"left_version_id" binding:"required"`
	RightVersionID   int64  `json:"right_version_id" binding:"required"`
	LeftWins         *bool  `json:"left_wins" binding:"required"`
	Response         string `json:"response"`
}

// HandleHumanComparison records an authoritative human verdict.
func (h *Handlers) HandleHumanComparison(c *gin.Context) {
	var req humanComparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	key := domain.ComparisonKey{
		Subject: domain.VersionID(req.SubjectVersionID),
		Left:    domain.VersionID(req.LeftVersionID),
		Right:   domain.VersionID(req.RightVersionID),
	}
	rec, err := h.deps.Memo.RecordHuman(c.Request.Context(), key, *req.LeftWins, req.Response)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rec.ID, "left_wins": rec.LeftWins, "created_at": rec.CreatedAt})
}

// HandleAlignment compares two models' latest decisions.
func (h *Handlers) HandleAlignment(c *gin.Context) {
	a, b := c.Query("model_a"), c.Query("model_b")
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_a and model_b are required"})
		return
	}

	report, err := usecase.Alignment(c.Request.Context(), h.deps.Comparisons, a, b)
	if err != nil {
		h.fail(c, err)
		return
	}

	disagreements := make([]gin.H, 0, len(report.Disagreements))
	for _, k := range report.Disagreements {
		disagreements = append(disagreements, gin.H{
			"subject_version_id": k.Subject,
			"left_version_id":    k.Left,
			"right_version_id":   k.Right,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"model_a":       report.ModelA,
		"model_b":       report.ModelB,
		"shared":        report.Shared,
		"agreed":        report.Agreed,
		"agreement":     report.Agreement,
		"disagreements": disagreements,
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// fail maps use case errors to status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrScopeNotFound),
		errors.Is(err, usecase.ErrCriterionNotFound),
		errors.Is(err, usecase.ErrItemNotFound),
		errors.Is(err, usecase.ErrRunNotFound),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrUnsupportedModel),
		errors.Is(err, usecase.ErrInvalidStrategy):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
