// Package urg implements the Unified Resource Graph: an in-memory,
// multi-index catalogue of connector-sourced resources backed by
// append-only JSONL shards on disk, one shard per tenant per day. All
// writes go through a single mutex; a later record for the same id
// supersedes the earlier one on reload.
package urg

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Resource is one normalized item ingested from a connector.
type Resource struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Source       string         `json:"source"`
	Tenant       string         `json:"tenant"`
	Title        string         `json:"title,omitempty"`
	Snippet      string         `json:"snippet,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
	Labels       []string       `json:"labels,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	ThreadID     string         `json:"thread_id,omitempty"`
	ChannelID    string         `json:"channel_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// URN returns the graph id for a resource about to be upserted: the
// form urn:<source>:<type>:<id>.
func URN(source, resourceType, id string) string {
	return fmt.Sprintf("urn:%s:%s:%s", source, resourceType, id)
}

var tokenSplit = regexp.MustCompile(`\W+`)

func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	fields := tokenSplit.Split(strings.ToLower(text), -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Index is the in-memory, JSONL-persisted Unified Resource Graph.
// Tenant isolation is enforced on every read path: Get and Search never
// return a resource belonging to a different tenant than requested,
// even if the caller supplies a graph id verbatim.
type Index struct {
	root string
	now  func() time.Time

	mu        sync.Mutex
	resources map[string]Resource
	inverted  map[string]map[string]struct{}
	byType    map[string]map[string]struct{}
	bySource  map[string]map[string]struct{}
	byTenant  map[string]map[string]struct{}
}

// Open loads all JSONL shards under root and returns a ready Index.
func Open(root string) (*Index, error) {
	idx := &Index{
		root:      root,
		now:       func() time.Time { return time.Now().UTC() },
		resources: map[string]Resource{},
		inverted:  map[string]map[string]struct{}{},
		byType:    map[string]map[string]struct{}{},
		bySource:  map[string]map[string]struct{}{},
		byTenant:  map[string]map[string]struct{}{},
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("urg: mkdir %s: %w", root, err)
	}
	if err := idx.loadShards(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadShards() error {
	tenantDirs, err := os.ReadDir(idx.root)
	if err != nil {
		return fmt.Errorf("urg: read root %s: %w", idx.root, err)
	}
	for _, td := range tenantDirs {
		if !td.IsDir() {
			continue
		}
		tenantPath := filepath.Join(idx.root, td.Name())
		shards, err := os.ReadDir(tenantPath)
		if err != nil {
			return fmt.Errorf("urg: read tenant dir %s: %w", tenantPath, err)
		}
		for _, sh := range shards {
			if sh.IsDir() || filepath.Ext(sh.Name()) != ".jsonl" {
				continue
			}
			if err := idx.loadShardFile(filepath.Join(tenantPath, sh.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (idx *Index) loadShardFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("urg: open shard %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Resource
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue // a malformed line never blocks the rest of the shard
		}
		if r.ID == "" {
			continue
		}
		idx.indexResource(r)
	}
	return scanner.Err()
}

// indexResource must be called with idx.mu held (or before concurrent
// access begins, as during loadShards).
func (idx *Index) indexResource(r Resource) {
	idx.resources[r.ID] = r

	if r.Type != "" {
		addToSet(idx.byType, r.Type, r.ID)
	}
	if r.Source != "" {
		addToSet(idx.bySource, r.Source, r.ID)
	}
	if r.Tenant != "" {
		addToSet(idx.byTenant, r.Tenant, r.ID)
	}

	var searchable []string
	if r.Title != "" {
		searchable = append(searchable, r.Title)
	}
	if r.Snippet != "" {
		searchable = append(searchable, r.Snippet)
	}
	searchable = append(searchable, r.Participants...)
	searchable = append(searchable, r.Labels...)

	for _, text := range searchable {
		for _, tok := range tokenize(text) {
			addToSet(idx.inverted, tok, r.ID)
		}
	}
}

func (idx *Index) unindexResource(id string) {
	r, ok := idx.resources[id]
	if !ok {
		return
	}
	removeFromSet(idx.byType, r.Type, id)
	removeFromSet(idx.bySource, r.Source, id)
	removeFromSet(idx.byTenant, r.Tenant, id)
	for tok := range idx.inverted {
		delete(idx.inverted[tok], id)
	}
	delete(idx.resources, id)
}

func addToSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = map[string]struct{}{}
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, id string) {
	if set, ok := m[key]; ok {
		delete(set, id)
	}
}

func (idx *Index) shardPath(tenant string) (string, error) {
	dir := filepath.Join(idx.root, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("urg: mkdir tenant shard dir: %w", err)
	}
	return filepath.Join(dir, idx.now().Format("2006-01-02")+".jsonl"), nil
}

// Upsert normalizes, indexes, and durably appends a resource, returning
// its graph id. The caller-supplied resource.ID is the connector's
// native id; the returned graph id embeds source and type per URN.
func (idx *Index) Upsert(r Resource, source, tenant string) (string, error) {
	if r.ID == "" {
		return "", fmt.Errorf("urg: resource must have an id")
	}
	if r.Type == "" {
		return "", fmt.Errorf("urg: resource must have a type")
	}
	if r.Timestamp == "" {
		r.Timestamp = idx.now().Format(time.RFC3339)
	}

	originalID := r.ID
	r.ID = URN(source, r.Type, originalID)
	r.Source = source
	r.Tenant = tenant
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if _, ok := r.Metadata["original_id"]; !ok {
		r.Metadata["original_id"] = originalID
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.resources[r.ID]; exists {
		idx.unindexResource(r.ID)
	}
	idx.indexResource(r)

	shard, err := idx.shardPath(tenant)
	if err != nil {
		return "", err
	}
	line, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("urg: marshal resource: %w", err)
	}
	f, err := os.OpenFile(shard, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("urg: open shard for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("urg: append resource: %w", err)
	}
	return r.ID, f.Sync()
}

// Get fetches a resource by graph id, enforcing tenant isolation: a
// resource belonging to a different tenant is treated as not found.
func (idx *Index) Get(graphID, tenant string) (*Resource, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.resources[graphID]
	if !ok || r.Tenant != tenant {
		return nil, false
	}
	clone := r
	return &clone, true
}

// ListByTenant returns up to limit resources for a tenant, newest
// timestamp first.
func (idx *Index) ListByTenant(tenant string, limit int) []Resource {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := idx.byTenant[tenant]
	out := make([]Resource, 0, len(ids))
	for id := range ids {
		out = append(out, idx.resources[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search runs free-text query terms through the inverted index, ANDed
// together, then applies type and source filters (when non-empty), with
// the tenant filter applied last.
func (idx *Index) Search(query, tenant, resourceType, source string, limit int) []Resource {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	terms := tokenize(query)
	var candidates map[string]struct{}
	for i, term := range terms {
		set := idx.inverted[term]
		if i == 0 {
			candidates = cloneSet(set)
			continue
		}
		candidates = intersect(candidates, set)
	}
	if len(terms) == 0 {
		candidates = cloneSet(idx.byTenant[tenant])
	}

	if resourceType != "" {
		candidates = intersect(candidates, idx.byType[resourceType])
	}
	if source != "" {
		candidates = intersect(candidates, idx.bySource[source])
	}

	out := make([]Resource, 0, len(candidates))
	for id := range candidates {
		r, ok := idx.resources[id]
		if !ok || r.Tenant != tenant {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// Stats summarizes resource counts, optionally scoped to one tenant.
type Stats struct {
	Total    int
	ByType   map[string]int
	BySource map[string]int
	ByTenant map[string]int
}

// Stats computes index statistics, optionally filtered to tenant.
func (idx *Index) Stats(tenant string) Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := Stats{ByType: map[string]int{}, BySource: map[string]int{}, ByTenant: map[string]int{}}
	for _, r := range idx.resources {
		if tenant != "" && r.Tenant != tenant {
			continue
		}
		stats.Total++
		stats.ByType[r.Type]++
		stats.BySource[r.Source]++
		stats.ByTenant[r.Tenant]++
	}
	return stats
}

// RebuildIndex clears and reloads every in-memory index from the JSONL
// shards on disk, discarding any index drift.
func (idx *Index) RebuildIndex() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.resources = map[string]Resource{}
	idx.inverted = map[string]map[string]struct{}{}
	idx.byType = map[string]map[string]struct{}{}
	idx.bySource = map[string]map[string]struct{}{}
	idx.byTenant = map[string]map[string]struct{}{}

	return idx.loadShards()
}
