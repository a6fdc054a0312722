package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is a reference Connector implementation used in tests and as a
// template adapter authors can copy: an in-memory record store keyed by
// (resourceType, id), guarded by a mutex like the rest of this repo's
// single-writer stores.
type Fake struct {
	source string

	mu        sync.Mutex
	connected bool
	records   map[string]map[string]RawRecord // resourceType -> id -> record
}

// NewFake builds a Fake connector identified as source (e.g. "gmail",
// "slack") for URN construction.
func NewFake(source string) *Fake {
	return &Fake{source: source, records: make(map[string]map[string]RawRecord)}
}

// SourceName implements Source.
func (f *Fake) SourceName() string { return f.source }

// Seed preloads a record, as a test fixture or a one-time bulk import
// would.
func (f *Fake) Seed(resourceType string, r RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.records[resourceType]
	if !ok {
		bucket = map[string]RawRecord{}
		f.records[resourceType] = bucket
	}
	bucket[r.ID] = r
}

func (f *Fake) Connect(ctx context.Context) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return Result{Status: StatusSuccess}
}

func (f *Fake) Disconnect(ctx context.Context) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return Result{Status: StatusSuccess}
}

func (f *Fake) requireConnected() *Result {
	if !f.connected {
		return &Result{Status: StatusError, Message: "connector: not connected"}
	}
	return nil
}

func (f *Fake) ListResources(ctx context.Context, resourceType string, filters map[string]string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.requireConnected(); r != nil {
		return *r
	}

	bucket := f.records[resourceType]
	out := make([]RawRecord, 0, len(bucket))
	for _, r := range bucket {
		if matchesFilters(r, filters) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return Result{Status: StatusSuccess, Data: out}
}

func matchesFilters(r RawRecord, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case "thread_id":
			if r.ThreadID != v {
				return false
			}
		case "channel_id":
			if r.ChannelID != v {
				return false
			}
		case "label":
			found := false
			for _, l := range r.Labels {
				if l == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func (f *Fake) GetResource(ctx context.Context, resourceType, id string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.requireConnected(); r != nil {
		return *r
	}

	bucket, ok := f.records[resourceType]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("unknown resource type %q", resourceType)}
	}
	rec, ok := bucket[id]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("resource %q not found", id)}
	}
	return Result{Status: StatusSuccess, Data: []RawRecord{rec}}
}

func (f *Fake) CreateResource(ctx context.Context, resourceType string, payload map[string]any) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.requireConnected(); r != nil {
		return *r
	}

	id, _ := payload["id"].(string)
	if id == "" {
		return Result{Status: StatusError, Message: "create: payload missing id"}
	}
	rec := RawRecord{ID: id, Type: resourceType, Extra: payload}
	if title, ok := payload["title"].(string); ok {
		rec.Title = title
	}
	bucket, ok := f.records[resourceType]
	if !ok {
		bucket = map[string]RawRecord{}
		f.records[resourceType] = bucket
	}
	bucket[id] = rec
	return Result{Status: StatusSuccess, Data: []RawRecord{rec}}
}

func (f *Fake) UpdateResource(ctx context.Context, resourceType, id string, payload map[string]any) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.requireConnected(); r != nil {
		return *r
	}

	bucket, ok := f.records[resourceType]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("unknown resource type %q", resourceType)}
	}
	rec, ok := bucket[id]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("resource %q not found", id)}
	}
	if title, ok := payload["title"].(string); ok {
		rec.Title = title
	}
	if rec.Extra == nil {
		rec.Extra = map[string]any{}
	}
	for k, v := range payload {
		rec.Extra[k] = v
	}
	bucket[id] = rec
	return Result{Status: StatusSuccess, Data: []RawRecord{rec}}
}

func (f *Fake) DeleteResource(ctx context.Context, resourceType, id string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.requireConnected(); r != nil {
		return *r
	}

	bucket, ok := f.records[resourceType]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("unknown resource type %q", resourceType)}
	}
	if _, ok := bucket[id]; !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("resource %q not found", id)}
	}
	delete(bucket, id)
	return Result{Status: StatusSuccess}
}

var _ Connector = (*Fake)(nil)
var _ Source = (*Fake)(nil)
