package qa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// PlanFileName is the implementation plan artifact holding the QA signoff.
const PlanFileName = "implementation_plan.json"

// LoadPlan reads the spec's implementation plan, returning an empty plan
// when none exists yet. A malformed plan is an error, never a partial
// object.
func LoadPlan(specDir string) (*model.ExecutionPlan, error) {
	data, err := os.ReadFile(filepath.Join(specDir, PlanFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &model.ExecutionPlan{}, nil
		}
		return nil, fmt.Errorf("reading implementation plan: %w", err)
	}
	var plan model.ExecutionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing implementation plan: %w", err)
	}
	return &plan, nil
}

// SavePlan persists the plan atomically.
func SavePlan(specDir string, plan *model.ExecutionPlan) error {
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return fmt.Errorf("creating spec dir: %w", err)
	}
	plan.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling implementation plan: %w", err)
	}
	return renameio.WriteFile(filepath.Join(specDir, PlanFileName), data, 0o644)
}

// WriteSignoff updates the qa_signoff record inside the implementation
// plan. The qa_session counter is kept non-decreasing: a stale write with a
// lower session number is rejected.
func WriteSignoff(specDir string, signoff model.QASignoff) error {
	plan, err := LoadPlan(specDir)
	if err != nil {
		return err
	}
	if signoff.QASession < plan.Signoff.QASession {
		return fmt.Errorf("qa_session must not decrease: have %d, got %d", plan.Signoff.QASession, signoff.QASession)
	}
	plan.Signoff = signoff
	return SavePlan(specDir, plan)
}
