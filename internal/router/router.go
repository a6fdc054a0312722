// Package router implements the cross-connector action router: it
// resolves "resource_type.action_name" strings to registered handlers,
// enforces role-based access control before dispatch, and records every
// attempt through internal/audit. The registry is an explicit,
// instantiable type; handlers are registered at start-up, never through
// package-level side effects.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/antigravity-dev/djpcore/internal/audit"
	"github.com/antigravity-dev/djpcore/internal/orcherr"
	"github.com/antigravity-dev/djpcore/internal/urg"
)

// Handler executes one resource_type.action_name action against a
// resolved resource.
type Handler func(ctx context.Context, resource urg.Resource, payload map[string]any, actor, tenant string) (map[string]any, error)

// RoleResolver returns the caller's role for a tenant, used for RBAC
// gating before a handler runs.
type RoleResolver func(actor, tenant string) (string, bool)

// Registry holds resource_type -> action_name -> Handler bindings and
// executes actions against URG-resolved resources with audit logging.
type Registry struct {
	graph   *urg.Index
	roles   RoleResolver
	auditor *audit.Logger

	handlers map[string]map[string]Handler
	// requiredRole, keyed by "resource_type.action_name", overrides the
	// registry-wide default role required to invoke an action; absent
	// entries fall back to defaultRole.
	requiredRole map[string]string
	defaultRole  string
}

// New builds a Registry. defaultRole is the role required for any
// action without a more specific RequireRole override; empty means
// "Admin".
func New(graph *urg.Index, roles RoleResolver, auditor *audit.Logger, defaultRole string) *Registry {
	if defaultRole == "" {
		defaultRole = "Admin"
	}
	return &Registry{
		graph:        graph,
		roles:        roles,
		auditor:      auditor,
		handlers:     map[string]map[string]Handler{},
		requiredRole: map[string]string{},
		defaultRole:  defaultRole,
	}
}

// Register binds a handler for resourceType.actionName.
func (r *Registry) Register(resourceType, actionName string, h Handler) {
	m, ok := r.handlers[resourceType]
	if !ok {
		m = map[string]Handler{}
		r.handlers[resourceType] = m
	}
	m[actionName] = h
}

// RequireRole overrides the role required for one specific action.
func (r *Registry) RequireRole(resourceType, actionName, role string) {
	r.requiredRole[resourceType+"."+actionName] = role
}

// Actions lists registered action names, optionally filtered to one
// resource type.
func (r *Registry) Actions(resourceType string) map[string][]string {
	out := map[string][]string{}
	for rt, actions := range r.handlers {
		if resourceType != "" && rt != resourceType {
			continue
		}
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		sort.Strings(names)
		out[rt] = names
	}
	return out
}

// ExecuteResult is the outcome of a dispatched action.
type ExecuteResult struct {
	Status  string
	Action  string
	GraphID string
	Result  map[string]any
}

// Execute parses action as "resource_type.action_name", resolves
// graphID through the URG (enforcing tenant isolation), checks RBAC,
// invokes the bound handler, and audits the outcome regardless of
// success, denial, not-found, or handler error.
func (r *Registry) Execute(ctx context.Context, action, graphID string, payload map[string]any, actor, tenant string) (ExecuteResult, error) {
	resourceType, actionName, ok := strings.Cut(action, ".")
	if !ok {
		return ExecuteResult{}, fmt.Errorf("router: invalid action format %q, expected resource_type.action_name", action)
	}

	resource, found := r.graph.Get(graphID, tenant)
	if !found {
		r.audit(tenant, actor, resourceType, graphID, audit.ResultFailure, fmt.Sprintf("resource not found: %s", graphID), action)
		return ExecuteResult{}, &orcherr.NotFoundError{Kind: "resource", ID: graphID}
	}
	if resource.Type != resourceType {
		return ExecuteResult{}, fmt.Errorf("router: resource type mismatch: expected %s, got %s", resourceType, resource.Type)
	}

	required := r.defaultRole
	if role, ok := r.requiredRole[action]; ok {
		required = role
	}
	role, ok := r.roles(actor, tenant)
	if !ok || role != required {
		r.audit(tenant, actor, resourceType, graphID, audit.ResultDenied,
			fmt.Sprintf("role %q lacks permission for action %s (requires %s)", role, action, required), action)
		return ExecuteResult{}, &orcherr.RBACDeniedError{User: actor, Action: action, Required: required}
	}

	actions, ok := r.handlers[resourceType]
	if !ok {
		return ExecuteResult{}, fmt.Errorf("router: no actions registered for resource type %q", resourceType)
	}
	handler, ok := actions[actionName]
	if !ok {
		return ExecuteResult{}, fmt.Errorf("router: unknown action %q for type %q", actionName, resourceType)
	}

	result, err := handler(ctx, *resource, payload, actor, tenant)
	if err != nil {
		r.audit(tenant, actor, resourceType, graphID, audit.ResultError, err.Error(), action)
		return ExecuteResult{}, fmt.Errorf("router: action %s failed: %w", action, err)
	}

	r.audit(tenant, actor, resourceType, graphID, audit.ResultSuccess, "", action)
	return ExecuteResult{Status: "success", Action: action, GraphID: graphID, Result: result}, nil
}

func (r *Registry) audit(tenant, actor, resourceType, resourceID string, result audit.Result, reason, action string) {
	if r.auditor == nil {
		return
	}
	_, _ = r.auditor.Log(audit.Event{
		Tenant:       tenant,
		Actor:        actor,
		Action:       "execute_action",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Result:       result,
		Reason:       reason,
		Metadata:     map[string]string{"action": action},
	})
}
