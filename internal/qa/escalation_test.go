package qa

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func iterationWith(n int, titles ...string) model.IterationRecord {
	rec := model.IterationRecord{Iteration: n, Verdict: "rejected", Timestamp: time.Now()}
	for _, title := range titles {
		rec.Issues = append(rec.Issues, model.Issue{Title: title, Severity: model.SevLow})
	}
	return rec
}

func TestRecurringTitles_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	twice := []model.IterationRecord{
		iterationWith(1, "Flaky"),
		iterationWith(2, "Flaky"),
	}
	assert.Empty(t, recurringTitles(twice, 3), "two occurrences stay under the threshold")

	thrice := append(twice, iterationWith(3, "Flaky"))
	assert.Equal(t, []string{"Flaky"}, recurringTitles(thrice, 3))
}

func TestRecurringTitles_DuplicateWithinIterationCountsOnce(t *testing.T) {
	t.Parallel()

	records := []model.IterationRecord{
		iterationWith(1, "Dup", "Dup", "Dup"),
		iterationWith(2, "Dup"),
	}
	assert.Empty(t, recurringTitles(records, 3))
}

func TestWriteEscalation_LimitsHistory(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	var records []model.IterationRecord
	for i := 1; i <= 15; i++ {
		records = append(records, iterationWith(i, "Persistent"))
	}

	require.NoError(t, WriteEscalation(specDir, []string{"Persistent"}, records, "threshold reached"))

	data, err := os.ReadFile(filepath.Join(specDir, EscalationFileName))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "Persistent")
	assert.NotContains(t, content, "### Iteration 5 (", "only the last ten iterations are reported")
	assert.Contains(t, content, "Iteration 15")
	assert.Equal(t, escalationHistoryLimit, strings.Count(content, "### Iteration"))
}

func TestWriteAndConsumeFixRequest(t *testing.T) {
	t.Parallel()

	specDir := t.TempDir()
	fixes := []model.Fix{{
		IssueTitle:   "Bare Except",
		Strategy:     model.FixManual,
		File:         "app.py",
		Line:         42,
		OriginalCode: "except:",
		Confidence:   0.3,
	}}
	require.NoError(t, WriteFixRequest(specDir, fixes))

	data, err := os.ReadFile(filepath.Join(specDir, FixRequestFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bare Except")
	assert.Contains(t, string(data), fmt.Sprintf("`%s:%d`", "app.py", 42))

	consumed, err := ConsumeFixRequest(specDir)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = ConsumeFixRequest(specDir)
	require.NoError(t, err)
	assert.False(t, consumed)
}
