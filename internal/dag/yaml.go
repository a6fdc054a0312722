package dag

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileTask mirrors the YAML wire shape for a task, decoupled
// from the in-memory Task so field names in the file can stay
// snake_case without forcing that naming onto the Go API.
type fileTask struct {
	ID           string            `yaml:"id"`
	Kind         string            `yaml:"kind"`
	WorkflowRef  string            `yaml:"workflow_ref,omitempty"`
	Params       map[string]any    `yaml:"params,omitempty"`
	DependsOn    []string          `yaml:"depends_on,omitempty"`
	Retries      int               `yaml:"retries,omitempty"`
	Prompt       string            `yaml:"prompt,omitempty"`
	RequiredRole string            `yaml:"required_role,omitempty"`
	InputsSchema map[string]string `yaml:"inputs_schema,omitempty"`
}

type fileDAG struct {
	Name     string     `yaml:"name"`
	TenantID string     `yaml:"tenant_id"`
	Tasks    []fileTask `yaml:"tasks"`
}

// LoadYAML parses a DAG definition file.
func LoadYAML(path string) (DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DAG{}, fmt.Errorf("dag: read %s: %w", path, err)
	}
	return ParseYAML(data)
}

// ParseYAML parses raw YAML bytes into a DAG.
func ParseYAML(data []byte) (DAG, error) {
	var f fileDAG
	if err := yaml.Unmarshal(data, &f); err != nil {
		return DAG{}, fmt.Errorf("dag: parse yaml: %w", err)
	}

	d := DAG{Name: f.Name, TenantID: f.TenantID}
	for _, ft := range f.Tasks {
		kind := Kind(ft.Kind)
		if kind == "" {
			kind = KindWorkflow
		}
		d.Tasks = append(d.Tasks, Task{
			ID:           ft.ID,
			Kind:         kind,
			WorkflowRef:  ft.WorkflowRef,
			Params:       ft.Params,
			DependsOn:    ft.DependsOn,
			Retries:      ft.Retries,
			Prompt:       ft.Prompt,
			RequiredRole: ft.RequiredRole,
			InputsSchema: ft.InputsSchema,
		})
	}
	return d, nil
}

// MarshalYAML renders d back to the file format, for tooling that needs to
// round-trip a DAG (e.g. the NL planner writing out a generated plan as a
// reviewable DAG file).
func MarshalYAML(d DAG) ([]byte, error) {
	f := fileDAG{Name: d.Name, TenantID: d.TenantID}
	for _, t := range d.Tasks {
		f.Tasks = append(f.Tasks, fileTask{
			ID:           t.ID,
			Kind:         string(t.Kind),
			WorkflowRef:  t.WorkflowRef,
			Params:       t.Params,
			DependsOn:    t.DependsOn,
			Retries:      t.Retries,
			Prompt:       t.Prompt,
			RequiredRole: t.RequiredRole,
			InputsSchema: t.InputsSchema,
		})
	}
	return yaml.Marshal(f)
}
