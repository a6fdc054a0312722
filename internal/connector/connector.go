// Package connector defines the shared contract the core consumes from
// external collaborators: Gmail/Outlook/Teams/Slack/Notion adapters
// implement Connector and are otherwise opaque to the core, which never
// performs connector network I/O itself.
package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/antigravity-dev/djpcore/internal/urg"
)

// Status is the outcome of a connector call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusDenied  Status = "denied"
)

// Result is the sum type every Connector method returns: a caller
// narrows on Status rather than inspecting an ad hoc map shape.
type Result struct {
	Status  Status
	Data    []RawRecord
	Message string
}

// RawRecord is one connector-native record, not yet normalised into a URG
// Resource. Fields beyond the ones the adapter needs are carried in Extra.
type RawRecord struct {
	ID           string
	Type         string
	Title        string
	Snippet      string
	Timestamp    string
	Participants []string
	Labels       []string
	ThreadID     string
	ChannelID    string
	Extra        map[string]any
}

// Connector is the contract every external collaborator implements.
type Connector interface {
	Connect(ctx context.Context) Result
	Disconnect(ctx context.Context) Result
	ListResources(ctx context.Context, resourceType string, filters map[string]string) Result
	GetResource(ctx context.Context, resourceType, id string) Result
	CreateResource(ctx context.Context, resourceType string, payload map[string]any) Result
	UpdateResource(ctx context.Context, resourceType, id string, payload map[string]any) Result
	DeleteResource(ctx context.Context, resourceType, id string) Result
}

// Source names a Connector for URN construction
// (urn:<source>:<type>:<id>).
type Source interface {
	SourceName() string
}

// Normalize converts one RawRecord returned by a Connector into the URG
// schema, computing the URN the same way the index's Upsert does:
// "urn:<source>:<type>:<original_id>".
func Normalize(r RawRecord, source, tenant string) NormalizedResource {
	return NormalizedResource{
		ID:           fmt.Sprintf("urn:%s:%s:%s", source, r.Type, r.ID),
		OriginalID:   r.ID,
		Type:         r.Type,
		Source:       source,
		Tenant:       tenant,
		Title:        r.Title,
		Snippet:      r.Snippet,
		Timestamp:    r.Timestamp,
		Participants: r.Participants,
		Labels:       r.Labels,
		ThreadID:     r.ThreadID,
		ChannelID:    r.ChannelID,
		Metadata:     r.Extra,
	}
}

// ToURGResource converts a RawRecord into the urg.Resource shape expected
// by Index.Upsert, which computes the URN itself from the native id — so,
// unlike Normalize, this keeps r.ID as the connector-native id rather than
// pre-building the URN.
func ToURGResource(r RawRecord) urg.Resource {
	return urg.Resource{
		ID:           r.ID,
		Type:         r.Type,
		Title:        r.Title,
		Snippet:      r.Snippet,
		Timestamp:    r.Timestamp,
		Participants: r.Participants,
		Labels:       r.Labels,
		ThreadID:     r.ThreadID,
		ChannelID:    r.ChannelID,
		Metadata:     r.Extra,
	}
}

// NormalizedResource is a fully-resolved, descriptive view of one record
// for inspection/logging — its ID is already the final URN, unlike the
// ToURGResource conversion fed to Index.Upsert.
type NormalizedResource struct {
	ID           string
	OriginalID   string
	Type         string
	Source       string
	Tenant       string
	Title        string
	Snippet      string
	Timestamp    string
	Participants []string
	Labels       []string
	ThreadID     string
	ChannelID    string
	Metadata     map[string]any
}

// ParseAction splits an action string as "resource_type.action_name", the
// same grammar the action router parses; connectors and the router share
// it so a planner step's action string means the same thing in both.
func ParseAction(action string) (resourceType, actionName string, ok bool) {
	resourceType, actionName, ok = strings.Cut(action, ".")
	return
}
