package workflow_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/internal/workflow"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

func newTestEngine(t *testing.T) (*workflow.Engine, store.Store) {
	t.Helper()
	t.Setenv("SALESENGINE_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return workflow.NewEngine(s, nil), s
}

func TestDeferForApprovalCreatesDurableState(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"product_ids":["prod_1"],"total_budget":1000}`)
	d, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "", "create_media_buy",
		"Manual approval required for media buy creation", models.PriorityHigh, 4*time.Hour, raw, "")
	if err != nil {
		t.Fatalf("DeferForApproval() error = %v", err)
	}

	if d.Context == nil || d.Context.ContextID == "" {
		t.Fatal("DeferForApproval() did not create a context")
	}
	step, err := s.GetWorkflowStep(ctx, "tenant_1", d.Step.StepID)
	if err != nil {
		t.Fatalf("GetWorkflowStep() error = %v", err)
	}
	if step.Status != models.StepRequiresApproval {
		t.Errorf("step status = %q, want %q", step.Status, models.StepRequiresApproval)
	}
	if step.Owner != models.OwnerPublisher {
		t.Errorf("step owner = %q, want publisher", step.Owner)
	}
	if step.ToolName != "create_media_buy" {
		t.Errorf("step tool_name = %q, want create_media_buy", step.ToolName)
	}
	if string(step.RequestData) != string(raw) {
		t.Errorf("request data not stored verbatim: %s", step.RequestData)
	}
	if step.DueBy == nil {
		t.Fatal("step due_by not set")
	}

	c, err := s.GetContext(ctx, "tenant_1", d.Context.ContextID)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if len(c.Conversation) == 0 {
		t.Error("deferral did not append a conversation entry")
	}
}

func TestDeferReusesSuppliedContext(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	d1, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "ctx_caller1234", "create_media_buy",
		"reason", models.PriorityHigh, time.Hour, json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("DeferForApproval() error = %v", err)
	}
	if d1.Context.ContextID != "ctx_caller1234" {
		t.Errorf("context id = %q, want caller-supplied ctx_caller1234", d1.Context.ContextID)
	}

	d2, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "ctx_caller1234", "update_media_buy",
		"reason", models.PriorityHigh, time.Hour, json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("second DeferForApproval() error = %v", err)
	}
	if d2.Context.ContextID != d1.Context.ContextID {
		t.Errorf("second deferral created a new context %q", d2.Context.ContextID)
	}
	if _, err := s.GetContext(ctx, "tenant_1", "ctx_caller1234"); err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
}

func TestCompleteTaskApprovalReplaysHandler(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var replayed []string
	e.RegisterResumeHandler("create_media_buy", func(ctx context.Context, step *models.WorkflowStep) error {
		replayed = append(replayed, string(step.RequestData))
		return nil
	})

	raw := json.RawMessage(`{"total_budget":500}`)
	d, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "", "create_media_buy",
		"reason", models.PriorityHigh, time.Hour, raw, "")
	if err != nil {
		t.Fatalf("DeferForApproval() error = %v", err)
	}

	step, err := e.CompleteTask(ctx, "tenant_1", d.Step.StepID, "approved", "lgtm", "ops@pub", true)
	if err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	if step.Status != models.StepCompleted {
		t.Errorf("step status = %q, want completed", step.Status)
	}
	if len(replayed) != 1 {
		t.Fatalf("handler replayed %d times, want exactly 1", len(replayed))
	}
	if replayed[0] != string(raw) {
		t.Errorf("handler got %q, want the verbatim stored request", replayed[0])
	}

	// A second completion must not re-run the operation.
	if _, err := e.CompleteTask(ctx, "tenant_1", d.Step.StepID, "approved", "", "ops@pub", true); err == nil {
		t.Error("CompleteTask() on a resolved step did not error")
	}
	if len(replayed) != 1 {
		t.Errorf("resolved step replayed again, total %d", len(replayed))
	}
}

func TestCompleteTaskRejectionNeverReplays(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	called := false
	e.RegisterResumeHandler("create_media_buy", func(ctx context.Context, step *models.WorkflowStep) error {
		called = true
		return nil
	})

	d, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "", "create_media_buy",
		"reason", models.PriorityHigh, time.Hour, json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("DeferForApproval() error = %v", err)
	}

	step, err := e.CompleteTask(ctx, "tenant_1", d.Step.StepID, "rejected", "budget too high", "ops@pub", true)
	if err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	if step.Status != models.StepFailed {
		t.Errorf("step status = %q, want failed", step.Status)
	}
	if step.Error == "" {
		t.Error("rejected step has no error recorded")
	}
	if called {
		t.Error("rejection ran the resume handler")
	}
}

func TestCompleteTaskRequiresAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	d, err := e.DeferForApproval(ctx, "tenant_1", "adv_1", "", "create_media_buy",
		"reason", models.PriorityHigh, time.Hour, json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("DeferForApproval() error = %v", err)
	}
	if _, err := e.CompleteTask(ctx, "tenant_1", d.Step.StepID, "approved", "", "adv_1", false); err == nil {
		t.Error("CompleteTask() without admin did not error")
	}
}

func TestTaskDueDerivation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		priority   models.TaskPriority
		dueInHours int
		wantHours  float64 // 0 means no due_by
	}{
		{"explicit hours win", models.PriorityUrgent, 12, 12},
		{"urgent default", models.PriorityUrgent, 0, 4},
		{"high default", models.PriorityHigh, 0, 24},
		{"medium default", models.PriorityMedium, 0, 48},
		{"low has none", models.PriorityLow, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
				TaskType:    "manual_approval",
				Priority:    tc.priority,
				DueInHours:  tc.dueInHours,
				PrincipalID: "adv_1",
			})
			if err != nil {
				t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
			}
			if tc.wantHours == 0 {
				if step.DueBy != nil {
					t.Errorf("due_by = %v, want none", step.DueBy)
				}
				return
			}
			if step.DueBy == nil {
				t.Fatal("due_by not set")
			}
			got := time.Until(*step.DueBy).Hours()
			if got < tc.wantHours-0.1 || got > tc.wantHours+0.1 {
				t.Errorf("due in %.1fh, want ~%.0fh", got, tc.wantHours)
			}
			if _, err := s.GetWorkflowStep(ctx, "tenant_1", step.StepID); err != nil {
				t.Errorf("step not durable: %v", err)
			}
		})
	}
}

func TestTaskOwnerRouting(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	approval, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "manual_approval", Priority: models.PriorityHigh, PrincipalID: "adv_1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}
	if approval.Owner != models.OwnerPublisher {
		t.Errorf("manual_approval owner = %q, want publisher", approval.Owner)
	}

	creative, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "creative_approval", Priority: models.PriorityMedium, PrincipalID: "adv_1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}
	if creative.Owner != models.OwnerPrincipal {
		t.Errorf("creative_approval owner = %q, want principal", creative.Owner)
	}
}

func TestGetPendingWorkflowsRoleFiltered(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "manual_approval", Priority: models.PriorityHigh, PrincipalID: "adv_1",
	}); err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}
	if _, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "creative_approval", Priority: models.PriorityMedium, PrincipalID: "adv_1",
	}); err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}

	admin, err := e.GetPendingWorkflows(ctx, "tenant_1", true)
	if err != nil {
		t.Fatalf("GetPendingWorkflows(admin) error = %v", err)
	}
	if admin.TotalCount != 1 || admin.Tasks[0].TaskType != "manual_approval" {
		t.Errorf("admin queue = %+v, want just the publisher-owned approval", admin.Tasks)
	}

	principal, err := e.GetPendingWorkflows(ctx, "tenant_1", false)
	if err != nil {
		t.Fatalf("GetPendingWorkflows(principal) error = %v", err)
	}
	if principal.TotalCount != 1 || principal.Tasks[0].TaskType != "creative_approval" {
		t.Errorf("principal queue = %+v, want just the creative approval", principal.Tasks)
	}
}

func TestOverdueCount(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	step, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "manual_approval", Priority: models.PriorityUrgent, PrincipalID: "adv_1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	step.DueBy = &past
	if err := s.UpdateWorkflowStep(ctx, step); err != nil {
		t.Fatalf("UpdateWorkflowStep() error = %v", err)
	}

	resp, err := e.GetPendingWorkflows(ctx, "tenant_1", true)
	if err != nil {
		t.Fatalf("GetPendingWorkflows() error = %v", err)
	}
	if resp.OverdueCount != 1 {
		t.Errorf("overdue_count = %d, want 1", resp.OverdueCount)
	}
	if len(resp.Tasks) != 1 || !resp.Tasks[0].Overdue {
		t.Error("overdue task not flagged")
	}
}

func TestAssignTask(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	step, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "manual_approval", Priority: models.PriorityHigh, PrincipalID: "adv_1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}

	if _, err := e.AssignTask(ctx, "tenant_1", step.StepID, "ops@pub", false); err == nil {
		t.Error("AssignTask() without admin did not error")
	}
	assigned, err := e.AssignTask(ctx, "tenant_1", step.StepID, "ops@pub", true)
	if err != nil {
		t.Fatalf("AssignTask() error = %v", err)
	}
	if assigned.AssignedTo != "ops@pub" {
		t.Errorf("assigned_to = %q, want ops@pub", assigned.AssignedTo)
	}
}

func TestVerifyTask(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	step, err := e.CreateWorkflowStepForTask(ctx, "tenant_1", workflow.CreateTaskRequest{
		TaskType: "manual_approval", Priority: models.PriorityHigh, PrincipalID: "adv_1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowStepForTask() error = %v", err)
	}

	resolved, status, err := e.VerifyTask(ctx, "tenant_1", step.StepID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if resolved {
		t.Errorf("unresolved step reported resolved (status %q)", status)
	}

	if _, err := e.MarkTaskComplete(ctx, "tenant_1", step.StepID, "ops@pub", true); err != nil {
		t.Fatalf("MarkTaskComplete() error = %v", err)
	}
	resolved, status, err = e.VerifyTask(ctx, "tenant_1", step.StepID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if !resolved || status != models.StepCompleted {
		t.Errorf("VerifyTask() = (%v, %q), want (true, completed)", resolved, status)
	}
}
