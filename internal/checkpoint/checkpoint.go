// Package checkpoint implements the human-in-the-loop approval store: a
// pending/approved/rejected/expired state machine with single- and
// multi-sign (M-of-N) approval, persisted as an append-only JSONL log
// where the latest record per id wins.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/antigravity-dev/djpcore/internal/orcherr"
)

// Status is a checkpoint's lifecycle state. All transitions are terminal
// except out of pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Approval is one signature toward a multi-sign checkpoint.
type Approval struct {
	User string            `json:"user"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// Checkpoint is the persisted record. One JSONL line is written per
// transition; Get and List take the last record per id.
type Checkpoint struct {
	Event           string            `json:"event"`
	CheckpointID    string            `json:"checkpoint_id"`
	DagRunID        string            `json:"dag_run_id"`
	TaskID          string            `json:"task_id"`
	Tenant          string            `json:"tenant"`
	Prompt          string            `json:"prompt"`
	RequiredRole    string            `json:"required_role"`
	RequiredSigners []string          `json:"required_signers,omitempty"`
	MinSignatures   int               `json:"min_signatures"`
	InputsSchema    map[string]string `json:"inputs_schema,omitempty"`
	Status          Status            `json:"status"`
	Approvals       []Approval        `json:"approvals,omitempty"`
	ApprovedBy      string            `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	RejectedBy      string            `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time        `json:"rejected_at,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	ApprovalData    map[string]string `json:"approval_data,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

// CreateOptions configures a new checkpoint.
type CreateOptions struct {
	CheckpointID    string
	DagRunID        string
	TaskID          string
	Tenant          string
	Prompt          string
	RequiredRole    string
	InputsSchema    map[string]string
	RequiredSigners []string
	MinSignatures   int
	ExpiresIn       time.Duration // defaults to 72h, matching APPROVAL_EXPIRES_H's default
}

// Store is the append-only checkpoint log.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New opens (or creates) the JSONL log at path.
func New(path string) (*Store, error) {
	return &Store{path: path, now: time.Now}, nil
}

func (s *Store) append(cp Checkpoint) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint: open log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	return f.Sync()
}

// latestByID replays the log and returns the most recent record per
// checkpoint id.
func (s *Store) latestByID() (map[string]Checkpoint, error) {
	out := make(map[string]Checkpoint)

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			continue
		}
		out[cp.CheckpointID] = cp
	}
	return out, scanner.Err()
}

// Create writes the initial pending record.
func (s *Store) Create(opts CreateOptions) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 72 * time.Hour
	}
	role := opts.RequiredRole
	if role == "" {
		role = "Operator"
	}
	minSigs := opts.MinSignatures
	if minSigs <= 0 {
		minSigs = 1
	}

	now := s.now().UTC()
	cp := Checkpoint{
		Event:           "checkpoint_created",
		CheckpointID:    opts.CheckpointID,
		DagRunID:        opts.DagRunID,
		TaskID:          opts.TaskID,
		Tenant:          opts.Tenant,
		Prompt:          opts.Prompt,
		RequiredRole:    role,
		RequiredSigners: opts.RequiredSigners,
		MinSignatures:   minSigs,
		InputsSchema:    opts.InputsSchema,
		Status:          StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(expiresIn),
	}

	if err := s.append(cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// List returns checkpoints matching tenant/status filters (empty = no
// filter), most recently created first.
func (s *Store) List(tenant string, status Status) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestByID()
	if err != nil {
		return nil, err
	}

	var out []Checkpoint
	for _, cp := range latest {
		if tenant != "" && cp.Tenant != tenant {
			continue
		}
		if status != "" && cp.Status != status {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Get returns the latest record for id.
func (s *Store) Get(id string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestByID()
	if err != nil {
		return Checkpoint{}, false, err
	}
	cp, ok := latest[id]
	return cp, ok, nil
}

func countValidSigners(approvals []Approval, requiredSigners []string) int {
	if len(requiredSigners) == 0 {
		return len(approvals)
	}
	required := make(map[string]bool, len(requiredSigners))
	for _, s := range requiredSigners {
		required[s] = true
	}
	count := 0
	for _, a := range approvals {
		if required[a.User] {
			count++
		}
	}
	return count
}

// IsSatisfied reports whether cp has enough valid signatures to be
// finalised: either min_signatures <= 1 and at least one approval
// exists, or at least min_signatures distinct required signers have
// signed.
func IsSatisfied(cp Checkpoint) bool {
	if cp.MinSignatures <= 1 {
		return len(cp.Approvals) >= 1
	}
	return countValidSigners(cp.Approvals, cp.RequiredSigners) >= cp.MinSignatures
}

// AddSignature appends a signature iff the checkpoint is pending, not
// expired, and the signer hasn't already signed.
func (s *Store) AddSignature(id, user string, data map[string]string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestByID()
	if err != nil {
		return Checkpoint{}, err
	}
	cp, ok := latest[id]
	if !ok {
		return Checkpoint{}, &orcherr.NotFoundError{Kind: "checkpoint", ID: id}
	}
	if cp.Status != StatusPending {
		return Checkpoint{}, &orcherr.ConflictError{Resource: "checkpoint:" + id, Reason: fmt.Sprintf("status is %s, not pending", cp.Status)}
	}
	now := s.now().UTC()
	if now.After(cp.ExpiresAt) || now.Equal(cp.ExpiresAt) {
		return Checkpoint{}, &orcherr.ExpiredError{Resource: "checkpoint:" + id, At: cp.ExpiresAt.String()}
	}
	for _, a := range cp.Approvals {
		if a.User == user {
			return Checkpoint{}, &orcherr.ConflictError{Resource: "checkpoint:" + id, Reason: fmt.Sprintf("user %q has already signed", user)}
		}
	}

	cp.Event = "signature_added"
	cp.Approvals = append(cp.Approvals, Approval{User: user, At: now, Data: data})

	if err := s.append(cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// Approve finalises a pending, unexpired checkpoint as approved. When
// MinSignatures is above 1 it fails with a ConflictError until IsSatisfied.
func (s *Store) Approve(id, approvedBy string, approvalData map[string]string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalize(id, func(cp *Checkpoint, now time.Time) error {
		if cp.MinSignatures > 1 && !IsSatisfied(*cp) {
			return &orcherr.ConflictError{Resource: "checkpoint:" + id, Reason: fmt.Sprintf("%d of %d required signatures present",
				countValidSigners(cp.Approvals, cp.RequiredSigners), cp.MinSignatures)}
		}
		cp.Event = "checkpoint_approved"
		cp.Status = StatusApproved
		cp.ApprovedBy = approvedBy
		cp.ApprovedAt = &now
		cp.ApprovalData = approvalData
		return nil
	})
}

// Reject finalises a pending, unexpired checkpoint as rejected.
func (s *Store) Reject(id, rejectedBy, reason string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalize(id, func(cp *Checkpoint, now time.Time) error {
		cp.Event = "checkpoint_rejected"
		cp.Status = StatusRejected
		cp.RejectedBy = rejectedBy
		cp.RejectedAt = &now
		cp.RejectionReason = reason
		return nil
	})
}

func (s *Store) finalize(id string, apply func(cp *Checkpoint, now time.Time) error) (Checkpoint, error) {
	latest, err := s.latestByID()
	if err != nil {
		return Checkpoint{}, err
	}
	cp, ok := latest[id]
	if !ok {
		return Checkpoint{}, &orcherr.NotFoundError{Kind: "checkpoint", ID: id}
	}
	if cp.Status != StatusPending {
		return Checkpoint{}, &orcherr.ConflictError{Resource: "checkpoint:" + id, Reason: fmt.Sprintf("status is %s, not pending", cp.Status)}
	}

	now := s.now().UTC()
	if !now.Before(cp.ExpiresAt) {
		return Checkpoint{}, &orcherr.ExpiredError{Resource: "checkpoint:" + id, At: cp.ExpiresAt.String()}
	}

	if err := apply(&cp, now); err != nil {
		return Checkpoint{}, err
	}
	if err := s.append(cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// ExpirePending scans all pending checkpoints and transitions those whose
// expires_at has passed as of now, returning the newly expired set.
// Idempotent: a second call with the same now returns an empty slice.
func (s *Store) ExpirePending(now time.Time) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestByID()
	if err != nil {
		return nil, err
	}

	var expired []Checkpoint
	for _, cp := range latest {
		if cp.Status != StatusPending {
			continue
		}
		if now.Before(cp.ExpiresAt) {
			continue
		}
		cp.Event = "checkpoint_expired"
		cp.Status = StatusExpired
		if err := s.append(cp); err != nil {
			return expired, err
		}
		expired = append(expired, cp)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CheckpointID < expired[j].CheckpointID })
	return expired, nil
}
