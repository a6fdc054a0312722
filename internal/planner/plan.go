package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-dev/djpcore/internal/audit"
	"github.com/antigravity-dev/djpcore/internal/checkpoint"
	"github.com/antigravity-dev/djpcore/internal/router"
)

// RiskLevel classifies a plan step's blast radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Step is one bound action within a Plan.
type Step struct {
	Action      string         `json:"action"`
	GraphID     string         `json:"graph_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	Description string         `json:"description"`
}

// Plan is the NL planner's output: an ordered, risk-scored list of
// router-executable steps. Cross-references between steps are flattened
// at construction time: Steps is a plain ordered slice, never a graph of
// its own.
type Plan struct {
	PlanID           string         `json:"plan_id"`
	Intent           string         `json:"intent"`
	Steps            []Step         `json:"steps"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	Preview          string         `json:"preview"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// riskForVerb scores a verb: low for read/search/list, medium for a
// single reply/message, high for forward/delete/bulk/schedule.
func riskForVerb(v Verb, bulk bool) RiskLevel {
	switch v {
	case VerbForward, VerbDelete, VerbSchedule:
		return RiskHigh
	case VerbReply, VerbMessage, VerbEmail:
		if bulk {
			return RiskHigh
		}
		return RiskMedium
	case VerbFind, VerbList:
		return RiskLow
	default:
		return RiskMedium
	}
}

// resourceTypeForVerb picks the resource-type half of a step's action
// string. The router dispatches on "resource_type.action_name" and
// checks the resolved resource's own type against it, so the prefix must
// be the kind of record the verb operates on — never the connector
// source, which travels in the payload's constraints instead.
func resourceTypeForVerb(v Verb) string {
	switch v {
	case VerbEmail:
		return "contact"
	case VerbSchedule:
		return "event"
	default:
		return "message"
	}
}

// BuildPlan turns a parsed Intent plus a resolver (mapping each target to
// a concrete graph_id) into an approval-scored Plan. planID is supplied by
// the caller (e.g. a uuid) so BuildPlan stays a pure function.
func BuildPlan(planID string, intent Intent, resolve func(target string) (graphID string, ok bool)) Plan {
	bulk := len(intent.Targets) > 1
	risk := riskForVerb(intent.Verb, bulk)

	var steps []Step
	action := resourceTypeForVerb(intent.Verb) + "." + string(intent.Verb)

	targets := intent.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, target := range targets {
		graphID := target
		if resolve != nil {
			if gid, ok := resolve(target); ok {
				graphID = gid
			}
		}
		steps = append(steps, Step{
			Action:      action,
			GraphID:     graphID,
			Payload:     map[string]any{"artifacts": intent.Artifacts, "constraints": intent.Constraints},
			Description: fmt.Sprintf("%s %s", intent.Verb, describeTarget(target)),
		})
	}

	p := Plan{
		PlanID:           planID,
		Intent:           intent.Raw,
		Steps:            steps,
		RiskLevel:        risk,
		RequiresApproval: risk == RiskHigh,
		Metadata:         map[string]any{"verb": string(intent.Verb), "constraints": intent.Constraints},
	}
	p.Preview = RenderPreview(p)
	return p
}

func describeTarget(target string) string {
	if target == "" {
		return "(no target)"
	}
	return target
}

// RenderPreview deterministically renders every step of p into a single
// reviewable string, used both as a checkpoint prompt and as the dry-run
// output.
func RenderPreview(p Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (risk=%s): %d step(s)\n", p.PlanID, p.RiskLevel, len(p.Steps))
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "  %d. %s -> %s: %s\n", i+1, s.Action, s.GraphID, s.Description)
	}
	return b.String()
}

// ExecStatus is the outcome of Execute.
type ExecStatus string

const (
	ExecDry    ExecStatus = "dry"
	ExecPaused ExecStatus = "paused"
	ExecDone   ExecStatus = "success"
	ExecError  ExecStatus = "error"
)

// ExecResult is Execute's return value.
type ExecResult struct {
	Status       ExecStatus
	CheckpointID string
	StepResults  []router.ExecuteResult
	Error        error
}

// Executor runs a Plan's steps through the action router, or creates a
// checkpoint first when the plan requires approval.
type Executor struct {
	Router      *router.Registry
	Checkpoints *checkpoint.Store
	Auditor     *audit.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(r *router.Registry, cps *checkpoint.Store, auditor *audit.Logger) *Executor {
	return &Executor{Router: r, Checkpoints: cps, Auditor: auditor}
}

// Execute runs p: a dry run returns previews with no side
// effects; a plan requiring approval is gated behind a new checkpoint
// instead of executed; otherwise steps run in order through the router,
// stopping at the first error.
func (e *Executor) Execute(ctx context.Context, p Plan, actor, tenant string, dryRun bool) ExecResult {
	if dryRun {
		return ExecResult{Status: ExecDry}
	}

	if p.RequiresApproval {
		metaJSON, err := json.Marshal(p)
		if err != nil {
			return ExecResult{Status: ExecError, Error: err}
		}
		cp, err := e.Checkpoints.Create(checkpoint.CreateOptions{
			CheckpointID: "plan_" + p.PlanID,
			Tenant:       tenant,
			Prompt:       p.Preview,
			InputsSchema: map[string]string{"plan_json": string(metaJSON)},
		})
		if err != nil {
			return ExecResult{Status: ExecError, Error: err}
		}
		e.auditStart(tenant, actor, p, "paused")
		return ExecResult{Status: ExecPaused, CheckpointID: cp.CheckpointID}
	}

	return e.runSteps(ctx, p, actor, tenant)
}

func (e *Executor) runSteps(ctx context.Context, p Plan, actor, tenant string) ExecResult {
	e.auditStart(tenant, actor, p, "running")

	results := make([]router.ExecuteResult, 0, len(p.Steps))
	for _, s := range p.Steps {
		res, err := e.Router.Execute(ctx, s.Action, s.GraphID, s.Payload, actor, tenant)
		if err != nil {
			return ExecResult{Status: ExecError, StepResults: results, Error: err}
		}
		results = append(results, res)
	}
	return ExecResult{Status: ExecDone, StepResults: results}
}

func (e *Executor) auditStart(tenant, actor string, p Plan, phase string) {
	if e.Auditor == nil {
		return
	}
	_, _ = e.Auditor.Log(audit.Event{
		Tenant: tenant, Actor: actor, Action: "plan_" + phase,
		ResourceType: "plan", ResourceID: p.PlanID, Result: audit.ResultSuccess,
		Metadata: map[string]string{"risk_level": string(p.RiskLevel)},
	})
}

// ResumePlan reconstitutes a Plan from an approved checkpoint's stashed
// metadata and re-enters Execute.
func (e *Executor) ResumePlan(ctx context.Context, checkpointID, actor, tenant string) ExecResult {
	cp, ok, err := e.Checkpoints.Get(checkpointID)
	if err != nil {
		return ExecResult{Status: ExecError, Error: err}
	}
	if !ok {
		return ExecResult{Status: ExecError, Error: fmt.Errorf("planner: checkpoint %s not found", checkpointID)}
	}
	if cp.Status != checkpoint.StatusApproved {
		return ExecResult{Status: ExecError, Error: fmt.Errorf("planner: checkpoint %s is not approved", checkpointID)}
	}

	raw, ok := cp.InputsSchema["plan_json"]
	if !ok {
		return ExecResult{Status: ExecError, Error: fmt.Errorf("planner: checkpoint %s has no stashed plan", checkpointID)}
	}
	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ExecResult{Status: ExecError, Error: fmt.Errorf("planner: decode stashed plan: %w", err)}
	}

	return e.runSteps(ctx, p, actor, tenant)
}
