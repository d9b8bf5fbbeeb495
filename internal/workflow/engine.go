// Package workflow implements the durable approval and task engine.
//
// Deferred operations are plain data: a WorkflowStep stores the tool
// name and the verbatim request, and resumption replays that request
// through a registered handler. Nothing executes in the background;
// a step waits in the store until a human resolves it.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/notify"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// ResumeHandler replays a deferred operation after approval. The step
// carries the original request verbatim in RequestData.
type ResumeHandler func(ctx context.Context, step *models.WorkflowStep) error

// Engine owns workflow steps, contexts, object mappings, and the human
// task queue built on top of them.
type Engine struct {
	store    store.Store
	notifier *notify.Service

	handlersMu sync.RWMutex
	handlers   map[string]ResumeHandler // tool_name → handler
}

// NewEngine creates the workflow engine.
func NewEngine(s store.Store, notifier *notify.Service) *Engine {
	return &Engine{
		store:    s,
		notifier: notifier,
		handlers: make(map[string]ResumeHandler),
	}
}

// RegisterResumeHandler binds a tool name to its resumption handler.
// The coordinator registers its operations here at startup.
func (e *Engine) RegisterResumeHandler(toolName string, h ResumeHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[toolName] = h
}

func (e *Engine) resumeHandler(toolName string) (ResumeHandler, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	h, ok := e.handlers[toolName]
	return h, ok
}

// NewStepID mints a step id: "step_" + 12 hex chars.
func NewStepID() string {
	return "step_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// syntheticObjectID is the placeholder object id used when a deferral
// happens before any backend object exists.
func syntheticObjectID() string {
	return "pending_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// EnsureContext returns the existing context or lazily creates one.
// Contexts only come into being when an operation goes asynchronous.
func (e *Engine) EnsureContext(ctx context.Context, tenantID, principalID, contextID string) (*models.Context, error) {
	if contextID != "" {
		c, err := e.store.GetContext(ctx, tenantID, contextID)
		if err == nil {
			return c, nil
		}
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, err
		}
		// Caller-supplied id that doesn't exist yet: create under it.
	}
	c := &models.Context{
		ContextID:   contextID,
		TenantID:    tenantID,
		PrincipalID: principalID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if c.ContextID == "" {
		c.ContextID = "ctx_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	}
	if err := e.store.CreateContext(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Deferral describes a pending approval created instead of executing an
// operation.
type Deferral struct {
	Step    *models.WorkflowStep
	Context *models.Context
}

// DeferForApproval creates the durable state for a manually approved
// operation: context (lazily), approval step, audit mapping, task
// notification. The operation itself is NOT executed.
func (e *Engine) DeferForApproval(ctx context.Context, tenantID, principalID, contextID, operation, reason string, priority models.TaskPriority, due time.Duration, requestData json.RawMessage, mediaBuyID string) (*Deferral, error) {
	c, err := e.EnsureContext(ctx, tenantID, principalID, contextID)
	if err != nil {
		return nil, fmt.Errorf("ensure context: %w", err)
	}

	now := time.Now().UTC()
	dueBy := now.Add(due)
	step := &models.WorkflowStep{
		StepID:      NewStepID(),
		ContextID:   c.ContextID,
		TenantID:    tenantID,
		Type:        models.StepTypeApproval,
		Owner:       models.OwnerPublisher,
		Status:      models.StepRequiresApproval,
		ToolName:    operation,
		RequestData: requestData,
		Priority:    priority,
		MediaBuyID:  mediaBuyID,
		DueBy:       &dueBy,
		Comments: []models.StepComment{{
			User:      "system",
			Timestamp: now,
			Text:      reason,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateWorkflowStep(ctx, step); err != nil {
		return nil, fmt.Errorf("create workflow step: %w", err)
	}

	objectID := mediaBuyID
	if objectID == "" {
		objectID = syntheticObjectID()
	}
	mapping := &models.ObjectWorkflowMapping{
		MappingID:  uuid.New().String(),
		ObjectType: "media_buy",
		ObjectID:   objectID,
		StepID:     step.StepID,
		Action:     "approval_required",
		CreatedAt:  now,
	}
	if err := e.store.CreateObjectMapping(ctx, mapping); err != nil {
		return nil, fmt.Errorf("create object mapping: %w", err)
	}

	entry := models.ConversationEntry{User: "system", Timestamp: now, Text: reason}
	if err := e.store.AppendConversation(ctx, tenantID, c.ContextID, entry); err != nil {
		log.Warn().Err(err).Str("context_id", c.ContextID).Msg("Conversation append failed")
	}

	e.notifyTask(ctx, tenantID, "task_created", step)

	log.Info().
		Str("tenant", tenantID).
		Str("step_id", step.StepID).
		Str("operation", operation).
		Str("priority", string(priority)).
		Msg("Operation deferred for manual approval")
	return &Deferral{Step: step, Context: c}, nil
}

// ── Task queue ──────────────────────────────────────────────

// CreateTaskRequest is the explicit task-creation surface.
type CreateTaskRequest struct {
	TaskType    string              `json:"task_type"`
	Title       string              `json:"title,omitempty"`
	Priority    models.TaskPriority `json:"priority,omitempty"`
	DueInHours  int                 `json:"due_in_hours,omitempty"`
	ContextID   string              `json:"context_id,omitempty"`
	PrincipalID string              `json:"principal_id,omitempty"`
	MediaBuyID  string              `json:"media_buy_id,omitempty"`
	RequestData json.RawMessage     `json:"request_data,omitempty"`
	Comment     string              `json:"comment,omitempty"`
}

// taskOwner decides who works a task type. Publisher staff handle
// approvals and compliance; creative approval goes back to the
// principal when their action is needed.
func taskOwner(taskType string) models.StepOwner {
	switch taskType {
	case "creative_approval":
		return models.OwnerPrincipal
	default:
		return models.OwnerPublisher
	}
}

// taskDue derives a due time: explicit hours win, otherwise priority
// defaults (urgent 4h, high 24h, medium 48h, low none).
func taskDue(now time.Time, priority models.TaskPriority, dueInHours int) *time.Time {
	if dueInHours > 0 {
		d := now.Add(time.Duration(dueInHours) * time.Hour)
		return &d
	}
	var h int
	switch priority {
	case models.PriorityUrgent:
		h = 4
	case models.PriorityHigh:
		h = 24
	case models.PriorityMedium:
		h = 48
	default:
		return nil
	}
	d := now.Add(time.Duration(h) * time.Hour)
	return &d
}

// CreateWorkflowStepForTask creates a human task as a workflow step.
func (e *Engine) CreateWorkflowStepForTask(ctx context.Context, tenantID string, req CreateTaskRequest) (*models.WorkflowStep, error) {
	c, err := e.EnsureContext(ctx, tenantID, req.PrincipalID, req.ContextID)
	if err != nil {
		return nil, fmt.Errorf("ensure context: %w", err)
	}

	now := time.Now().UTC()
	step := &models.WorkflowStep{
		StepID:      NewStepID(),
		ContextID:   c.ContextID,
		TenantID:    tenantID,
		Type:        models.StepTypeApproval,
		Owner:       taskOwner(req.TaskType),
		Status:      models.StepRequiresApproval,
		ToolName:    req.TaskType,
		RequestData: req.RequestData,
		Priority:    req.Priority,
		MediaBuyID:  req.MediaBuyID,
		DueBy:       taskDue(now, req.Priority, req.DueInHours),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	comment := req.Comment
	if comment == "" {
		comment = fmt.Sprintf("Task created: %s", req.TaskType)
	}
	step.Comments = []models.StepComment{{User: "system", Timestamp: now, Text: comment}}

	if err := e.store.CreateWorkflowStep(ctx, step); err != nil {
		return nil, fmt.Errorf("create workflow step: %w", err)
	}
	e.notifyTask(ctx, tenantID, "task_created", step)
	return step, nil
}

// GetPendingWorkflows lists open tasks for a caller. Admins see the
// publisher queue; principals see their own. Newest first; overdue
// counted from due_by.
func (e *Engine) GetPendingWorkflows(ctx context.Context, tenantID string, isAdmin bool) (*models.PendingWorkflowsResponse, error) {
	owner := models.OwnerPrincipal
	if isAdmin {
		owner = models.OwnerPublisher
	}
	steps, err := e.store.ListWorkflowSteps(ctx, tenantID, store.StepFilter{
		Owner: owner,
		Statuses: []models.StepStatus{
			models.StepPending, models.StepInProgress, models.StepRequiresApproval,
		},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	resp := &models.PendingWorkflowsResponse{Tasks: make([]models.HumanTask, 0, len(steps))}
	for _, s := range steps {
		overdue := s.DueBy != nil && s.DueBy.Before(now)
		if overdue {
			resp.OverdueCount++
		}
		title := ""
		if len(s.Comments) > 0 {
			title = s.Comments[0].Text
		}
		resp.Tasks = append(resp.Tasks, models.HumanTask{
			TaskID:     s.StepID,
			ContextID:  s.ContextID,
			TaskType:   s.ToolName,
			Title:      title,
			Status:     s.Status,
			Owner:      s.Owner,
			Priority:   s.Priority,
			AssignedTo: s.AssignedTo,
			MediaBuyID: s.MediaBuyID,
			DueBy:      s.DueBy,
			Overdue:    overdue,
			CreatedAt:  s.CreatedAt,
		})
	}
	resp.TotalCount = len(resp.Tasks)
	return resp, nil
}

// AssignTask sets the assignee. Admin only.
func (e *Engine) AssignTask(ctx context.Context, tenantID, stepID, assignee string, isAdmin bool) (*models.WorkflowStep, error) {
	if !isAdmin {
		return nil, fmt.Errorf("assign task: admin access required")
	}
	step, err := e.store.GetWorkflowStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status == models.StepCompleted || step.Status == models.StepFailed {
		return nil, fmt.Errorf("assign task: step %s already resolved", stepID)
	}
	step.AssignedTo = assignee
	if step.Status == models.StepPending {
		step.Status = models.StepInProgress
	}
	if err := e.store.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// VerifyTask reports whether a task is resolved and how.
func (e *Engine) VerifyTask(ctx context.Context, tenantID, stepID string) (resolved bool, status models.StepStatus, err error) {
	step, err := e.store.GetWorkflowStep(ctx, tenantID, stepID)
	if err != nil {
		return false, "", err
	}
	resolved = step.Status == models.StepCompleted || step.Status == models.StepFailed
	return resolved, step.Status, nil
}

// CompleteTask resolves a pending task. Admin only. An approved manual
// approval replays the stored request through its resume handler; a
// rejection just marks the step failed and nothing executes.
func (e *Engine) CompleteTask(ctx context.Context, tenantID, stepID, resolution, comment, resolvedBy string, isAdmin bool) (*models.WorkflowStep, error) {
	if !isAdmin {
		return nil, fmt.Errorf("complete task: admin access required")
	}
	step, err := e.store.GetWorkflowStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status == models.StepCompleted || step.Status == models.StepFailed {
		return nil, fmt.Errorf("complete task: step %s already resolved", stepID)
	}

	now := time.Now().UTC()
	approved := resolution == "approved" || resolution == "completed"
	if approved {
		step.Status = models.StepCompleted
	} else {
		step.Status = models.StepFailed
		step.Error = fmt.Sprintf("rejected by %s", resolvedBy)
	}
	if comment != "" {
		step.Comments = append(step.Comments, models.StepComment{
			User: resolvedBy, Timestamp: now, Text: comment,
		})
	}
	step.UpdatedAt = now
	if err := e.store.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, err
	}

	if approved && step.Type == models.StepTypeApproval && len(step.RequestData) > 0 {
		if handler, ok := e.resumeHandler(step.ToolName); ok {
			if err := handler(ctx, step); err != nil {
				// The approval stands; the replay failure is recorded on
				// the step for the operator.
				step.Error = err.Error()
				if uerr := e.store.UpdateWorkflowStep(ctx, step); uerr != nil {
					log.Warn().Err(uerr).Str("step_id", stepID).Msg("Step error record failed")
				}
				log.Error().Err(err).
					Str("step_id", stepID).
					Str("tool_name", step.ToolName).
					Msg("Resumed operation failed")
				return step, fmt.Errorf("resume %s: %w", step.ToolName, err)
			}
		} else {
			log.Warn().Str("tool_name", step.ToolName).Str("step_id", stepID).
				Msg("No resume handler registered, approval recorded only")
		}
	}

	e.notifyTask(ctx, tenantID, "task_completed", step)

	log.Info().
		Str("tenant", tenantID).
		Str("step_id", stepID).
		Str("resolution", resolution).
		Str("resolved_by", resolvedBy).
		Msg("Task resolved")
	return step, nil
}

// MarkTaskComplete records a human-verified completion without running
// any handler. Admin only.
func (e *Engine) MarkTaskComplete(ctx context.Context, tenantID, stepID, verifiedBy string, isAdmin bool) (*models.WorkflowStep, error) {
	if !isAdmin {
		return nil, fmt.Errorf("mark task complete: admin access required")
	}
	step, err := e.store.GetWorkflowStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	step.Status = models.StepCompleted
	step.Comments = append(step.Comments, models.StepComment{
		User: verifiedBy, Timestamp: now, Text: "verified complete",
	})
	step.UpdatedAt = now
	if err := e.store.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, err
	}
	e.notifyTask(ctx, tenantID, "task_completed", step)
	return step, nil
}

// notifyTask dispatches a task event. Fire-and-forget: notification
// failures never affect the operation.
func (e *Engine) notifyTask(ctx context.Context, tenantID, event string, step *models.WorkflowStep) {
	if e.notifier == nil {
		return
	}
	e.notifier.Dispatch(ctx, tenantID, notify.Event{
		Type:       event,
		TenantID:   tenantID,
		StepID:     step.StepID,
		TaskType:   step.ToolName,
		Priority:   string(step.Priority),
		MediaBuyID: step.MediaBuyID,
		DueBy:      step.DueBy,
	})
}
