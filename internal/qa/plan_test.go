package qa

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func TestLoadPlan_MissingReturnsEmpty(t *testing.T) {
	t.Parallel()

	plan, err := LoadPlan(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, plan.Signoff.QASession)
}

func TestLoadPlan_MalformedIsError(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(specDir, PlanFileName), []byte("{oops"), 0o644))

	_, err := LoadPlan(specDir)
	assert.Error(t, err)
}

func TestWriteSignoff_RoundTrip(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	signoff := model.QASignoff{
		Status:    model.SignoffApproved,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		QASession: 4,
		IssuesFound: []model.Issue{
			{Title: "TODO Marker", Category: model.CategoryStyle, Severity: model.SevInfo, File: "a.py", Line: 9},
		},
		TestsPassed: map[string]model.TestTally{"unit": {Passed: 8, Total: 8}},
		VerifiedBy:  "taskloop-qa",
	}
	require.NoError(t, WriteSignoff(specDir, signoff))

	plan, err := LoadPlan(specDir)
	require.NoError(t, err)
	assert.Equal(t, model.SignoffApproved, plan.Signoff.Status)
	assert.Equal(t, 4, plan.Signoff.QASession)
	assert.Equal(t, "8/8", plan.Signoff.TestsPassed["unit"].String())
	require.Len(t, plan.Signoff.IssuesFound, 1)
	assert.True(t, signoff.Timestamp.Equal(plan.Signoff.Timestamp))
}

func TestWriteSignoff_RejectsDecreasingSession(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	require.NoError(t, WriteSignoff(specDir, model.QASignoff{Status: model.SignoffRejected, QASession: 5}))

	err := WriteSignoff(specDir, model.QASignoff{Status: model.SignoffApproved, QASession: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not decrease")
}

func TestWriteSignoff_PreservesSteps(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	require.NoError(t, SavePlan(specDir, &model.ExecutionPlan{Steps: []string{"implement", "verify"}}))
	require.NoError(t, WriteSignoff(specDir, model.QASignoff{Status: model.SignoffPending, QASession: 1}))

	plan, err := LoadPlan(specDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"implement", "verify"}, plan.Steps)
	assert.Equal(t, model.SignoffPending, plan.Signoff.Status)
}
