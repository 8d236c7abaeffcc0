package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/example/stitchflow/internal/auth"
	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/service"
	"github.com/example/stitchflow/internal/storage"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	workflow *service.WorkflowService
	matcher  *service.MatcherService
	progress *service.ProgressService
	bundles  *service.BundleService
	roster   *service.RosterService

	perRollDefault bool
}

// NewHandlers creates the API handlers.
func NewHandlers(services Services) *Handlers {
	return &Handlers{
		workflow: services.Workflow,
		matcher:  services.Matcher,
		progress: services.Progress,
		bundles:  services.Bundles,
		roster:   services.Roster,

		perRollDefault: services.PerRollDefault,
	}
}

// CreateLot handles POST /api/lots.
func (h *Handlers) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	createReq := &service.CreateLotRequest{
		TemplateID:  req.TemplateID,
		Style:       req.Style,
		TotalPieces: req.TotalPieces,
		PerRoll:     req.PerRoll,
		Attributes:  req.Attributes,
	}
	for _, roll := range req.Rolls {
		createReq.Rolls = append(createReq.Rolls, service.RollSpec{Number: roll.Number, Pieces: roll.Pieces})
	}
	if !createReq.PerRoll && h.perRollDefault && len(createReq.Rolls) > 0 {
		createReq.PerRoll = true
	}

	lot, items, err := h.workflow.CreateLot(r.Context(), createReq)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateLotResponse{
		Lot:       convertLot(lot),
		WorkItems: convertWorkItems(items),
	})
}

// ListLots handles GET /api/lots.
func (h *Handlers) ListLots(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("includeArchived") == "true"

	lots, err := h.workflow.ListLots(r.Context(), includeArchived)
	if err != nil {
		writeError(w, err)
		return
	}

	response := ListLotsResponse{Lots: make([]LotInfo, 0, len(lots))}
	for _, lot := range lots {
		response.Lots = append(response.Lots, convertLot(lot))
	}
	writeJSON(w, http.StatusOK, response)
}

// GetLot handles GET /api/lots/:id.
func (h *Handlers) GetLot(w http.ResponseWriter, r *http.Request, lotID string) {
	lot, err := h.workflow.GetLot(r.Context(), lotID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertLot(lot))
}

// GetProgress handles GET /api/lots/:id/progress.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request, lotID string) {
	progress, err := h.progress.LotProgress(r.Context(), lotID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertProgress(progress))
}

// ListWorkItems handles GET /api/lots/:id/work-items.
func (h *Handlers) ListWorkItems(w http.ResponseWriter, r *http.Request, lotID string) {
	var opts storage.ListOptions
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		opts.Statuses = []domain.Status{status}
	}
	opts.OperatorID = r.URL.Query().Get("operatorId")

	items, err := h.workflow.ListWorkItems(r.Context(), lotID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListWorkItemsResponse{WorkItems: convertWorkItems(items)})
}

// RefreshReadiness handles POST /api/lots/:id/refresh.
func (h *Handlers) RefreshReadiness(w http.ResponseWriter, r *http.Request, lotID string) {
	promoted, err := h.workflow.RefreshReadiness(r.Context(), lotID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Promoted: promoted})
}

// GetWorkItem handles GET /api/work-items/:id.
func (h *Handlers) GetWorkItem(w http.ResponseWriter, r *http.Request, workItemID string) {
	item, err := h.workflow.GetWorkItem(r.Context(), workItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkItem(item))
}

// ListReadyWorkItems handles GET /api/work-items/ready.
func (h *Handlers) ListReadyWorkItems(w http.ResponseWriter, r *http.Request) {
	var opts storage.ListOptions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	items, err := h.matcher.ListReadyWorkItems(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListWorkItemsResponse{WorkItems: convertWorkItems(items)})
}

// TransitionWorkItem handles the POST /api/work-items/:id/{action} endpoints.
func (h *Handlers) TransitionWorkItem(w http.ResponseWriter, r *http.Request, workItemID, action string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var item *domain.WorkItem
	var err error
	switch action {
	case "start":
		item, err = h.workflow.StartWork(ctx, actor, workItemID)
	case "progress":
		var req RecordProgressRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			http.Error(w, "Invalid request body: "+decodeErr.Error(), http.StatusBadRequest)
			return
		}
		item, err = h.workflow.RecordProgress(ctx, actor, workItemID, req.CompletedPieces)
	case "complete":
		item, err = h.workflow.CompleteWork(ctx, actor, workItemID)
	case "block":
		item, err = h.workflow.BlockWork(ctx, actor, workItemID)
	case "unblock":
		item, err = h.workflow.UnblockWork(ctx, actor, workItemID)
	case "hold":
		item, err = h.workflow.HoldWork(ctx, actor, workItemID)
	case "resume":
		item, err = h.workflow.ResumeWork(ctx, actor, workItemID)
	case "reject":
		item, err = h.workflow.RejectWork(ctx, actor, workItemID)
	default:
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkItem(item))
}

// RankOperators handles GET /api/work-items/:id/operators.
func (h *Handlers) RankOperators(w http.ResponseWriter, r *http.Request, workItemID string) {
	item, err := h.workflow.GetWorkItem(r.Context(), workItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	roster, err := h.roster.ListOperators(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}

	ranked := service.RankOperators(item, roster)
	response := ListOperatorsResponse{Operators: make([]OperatorInfo, 0, len(ranked))}
	for _, operator := range ranked {
		response.Operators = append(response.Operators, convertOperator(operator))
	}
	writeJSON(w, http.StatusOK, response)
}

// Assign handles POST /api/assignments.
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	item, err := h.matcher.Assign(r.Context(), actor, req.WorkItemID, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convertWorkItem(item))
}

// BulkConfirm handles POST /api/assignments/bulk.
func (h *Handlers) BulkConfirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req BulkConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	proposals := make([]service.Proposal, 0, len(req.Proposals))
	for _, p := range req.Proposals {
		proposals = append(proposals, service.Proposal{WorkItemID: p.WorkItemID, OperatorID: p.OperatorID})
	}

	outcomes := h.matcher.BulkConfirm(r.Context(), actor, proposals)
	response := BulkConfirmResponse{Outcomes: make([]BulkOutcome, 0, len(outcomes))}
	for _, outcome := range outcomes {
		converted := BulkOutcome{WorkItemID: outcome.WorkItemID, OperatorID: outcome.OperatorID}
		if outcome.Err != nil {
			converted.Error = outcome.Err.Error()
		}
		response.Outcomes = append(response.Outcomes, converted)
	}
	writeJSON(w, http.StatusOK, response)
}

// ApproveSelfAssignment handles POST /api/assignments/:workItemId/approve.
func (h *Handlers) ApproveSelfAssignment(w http.ResponseWriter, r *http.Request, workItemID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	item, err := h.matcher.ApproveSelfAssignment(r.Context(), actor, workItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkItem(item))
}

// RejectSelfAssignment handles POST /api/assignments/:workItemId/reject.
func (h *Handlers) RejectSelfAssignment(w http.ResponseWriter, r *http.Request, workItemID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req RejectRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}

	item, err := h.matcher.RejectSelfAssignment(r.Context(), actor, workItemID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkItem(item))
}

// Unassign handles POST /api/assignments/:workItemId/release.
func (h *Handlers) Unassign(w http.ResponseWriter, r *http.Request, workItemID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	item, err := h.matcher.Unassign(r.Context(), actor, workItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkItem(item))
}

// RegisterOperator handles POST /api/operators.
func (h *Handlers) RegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req RegisterOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	registerReq := &service.RegisterOperatorRequest{
		Name:       req.Name,
		MultiSkill: req.MultiSkill,
		MaxLoad:    req.MaxLoad,
		Efficiency: req.Efficiency,
	}
	for _, machine := range req.MachineCapabilities {
		registerReq.MachineCapabilities = append(registerReq.MachineCapabilities, domain.MachineType(machine))
	}

	operator, err := h.roster.RegisterOperator(r.Context(), registerReq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convertOperator(operator))
}

// ListOperators handles GET /api/operators.
func (h *Handlers) ListOperators(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	operators, err := h.roster.ListOperators(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	response := ListOperatorsResponse{Operators: make([]OperatorInfo, 0, len(operators))}
	for _, operator := range operators {
		response.Operators = append(response.Operators, convertOperator(operator))
	}
	writeJSON(w, http.StatusOK, response)
}

// GetOperator handles GET /api/operators/:id.
func (h *Handlers) GetOperator(w http.ResponseWriter, r *http.Request, operatorID string) {
	operator, err := h.roster.GetOperator(r.Context(), operatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertOperator(operator))
}

// SetOperatorActive handles POST /api/operators/:id/active.
func (h *Handlers) SetOperatorActive(w http.ResponseWriter, r *http.Request, operatorID string) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	operator, err := h.roster.SetActive(r.Context(), operatorID, req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertOperator(operator))
}

// SplitBundle handles POST /api/bundles/split.
func (h *Handlers) SplitBundle(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	children, err := h.bundles.Split(r.Context(), actor, req.WorkItemID, req.PieceCounts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ListWorkItemsResponse{WorkItems: convertWorkItems(children)})
}

// MergeBundle handles POST /api/bundles/merge.
func (h *Handlers) MergeBundle(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	merged, err := h.bundles.Merge(r.Context(), actor, req.WorkItemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convertWorkItem(merged))
}

// requireActor extracts the actor placed in the context by the identity
// middleware, writing 401 when the headers were absent.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := auth.CurrentActor(r.Context())
	if !ok {
		http.Error(w, "X-Actor-ID header required", http.StatusUnauthorized)
		return domain.Actor{}, false
	}
	return actor, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, domain.ErrAssignmentConflict),
		errors.Is(err, domain.ErrIncompatibleAssignment),
		errors.Is(err, domain.ErrConcurrentModify),
		errors.Is(err, domain.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvariantViolation),
		errors.Is(err, domain.ErrInvalidTemplate):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
