package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// stubPhase is a scriptable phase for runner tests.
type stubPhase struct {
	name     string
	artifact string
	runErr   error
	failN    int // fail this many attempts before succeeding
	runs     int
	loads    int
	onRun    func(st *State)
}

func (s *stubPhase) Name() string     { return s.name }
func (s *stubPhase) Artifact() string { return s.artifact }

func (s *stubPhase) Run(_ context.Context, st *State) error {
	s.runs++
	if s.onRun != nil {
		s.onRun(st)
	}
	if s.failN > 0 {
		s.failN--
		return errors.New("transient stub failure")
	}
	if s.runErr != nil {
		return s.runErr
	}
	if s.artifact != "" {
		return os.WriteFile(filepath.Join(st.SpecDir, s.artifact), []byte("{}"), 0o644)
	}
	return nil
}

func (s *stubPhase) Load(st *State) error {
	s.loads++
	if s.onRun != nil {
		s.onRun(st)
	}
	return nil
}

func assessmentStub(tier model.ComplexityTier) func(st *State) {
	return func(st *State) {
		st.Assessment = &model.ComplexityAssessment{Complexity: tier}
	}
}

func newStubRegistry(tier model.ComplexityTier) (*Registry, map[string]*stubPhase) {
	reg := NewRegistry()
	stubs := map[string]*stubPhase{
		PhaseDiscovery:    {name: PhaseDiscovery, artifact: ArtifactProjectIndex},
		PhaseRequirements: {name: PhaseRequirements, artifact: ArtifactRequirements},
		PhaseComplexity:   {name: PhaseComplexity, artifact: ArtifactComplexity, onRun: assessmentStub(tier)},
		PhaseContext:      {name: PhaseContext, artifact: ArtifactContext},
		PhaseImpact:       {name: PhaseImpact, artifact: ArtifactImpact},
		PhaseSpecWriting:  {name: PhaseSpecWriting, artifact: ArtifactSpec},
		PhaseValidation:   {name: PhaseValidation},
	}
	for _, s := range stubs {
		reg.Register(s)
	}
	return reg, stubs
}

func newState(t *testing.T) *State {
	t.Helper()
	return &State{RepoRoot: t.TempDir(), SpecDir: t.TempDir(), TaskDescription: "add feature"}
}

func phaseNames(results []PhaseResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Phase
	}
	return names
}

func TestRun_SimpleTierPhaseOrder(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	runner := NewRunner(reg)

	results, err := runner.Run(context.Background(), newState(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		PhaseDiscovery, PhaseRequirements, PhaseComplexity,
		PhaseContext, PhaseSpecWriting, PhaseValidation,
	}, phaseNames(results))
	assert.Zero(t, stubs[PhaseImpact].runs, "simple tier must not run impact analysis")
}

func TestRun_CriticalTierIncludesImpact(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexityCritical)
	runner := NewRunner(reg)

	_, err := runner.Run(context.Background(), newState(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stubs[PhaseImpact].runs)
}

func TestRun_RecommendedPhasesOverrideTierDefaults(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	stubs[PhaseComplexity].onRun = func(st *State) {
		st.Assessment = &model.ComplexityAssessment{
			Complexity:        model.ComplexitySimple,
			RecommendedPhases: []string{PhaseContext, PhaseImpact, PhaseValidation},
		}
	}
	runner := NewRunner(reg)

	_, err := runner.Run(context.Background(), newState(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stubs[PhaseImpact].runs)
	assert.Zero(t, stubs[PhaseSpecWriting].runs)
}

func TestRun_CachedArtifactsSkipExecution(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	runner := NewRunner(reg)
	st := newState(t)

	first, err := runner.Run(context.Background(), st, Options{})
	require.NoError(t, err)
	for _, r := range first {
		assert.False(t, r.Cached, "first run must execute every phase")
	}

	// Complexity must hydrate the assessment on cache load too.
	stubs[PhaseComplexity].onRun = assessmentStub(model.ComplexitySimple)

	second, err := runner.Run(context.Background(), st, Options{})
	require.NoError(t, err)
	for _, r := range second {
		if r.Phase == PhaseValidation {
			continue // validation has no artifact, it always runs
		}
		assert.True(t, r.Cached, "phase %s should be cached", r.Phase)
		assert.Equal(t, StatusCompleted, r.Status)
	}
	assert.Equal(t, 1, stubs[PhaseContext].runs, "cached phase must not rerun")
}

func TestRun_ForceRefreshReruns(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	runner := NewRunner(reg)
	st := newState(t)

	_, err := runner.Run(context.Background(), st, Options{})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), st, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stubs[PhaseContext].runs)
}

func TestRun_PhaseRetriedThenSucceeds(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	stubs[PhaseContext].failN = 2
	runner := NewRunner(reg)

	results, err := runner.Run(context.Background(), newState(t), Options{MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	for _, r := range results {
		if r.Phase == PhaseContext {
			assert.Equal(t, 3, r.Attempts)
			assert.Equal(t, StatusCompleted, r.Status)
			assert.Len(t, r.Errors, 2)
		}
	}
}

func TestRun_ExhaustedRetriesHaltPipeline(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	stubs[PhaseContext].runErr = errors.New("boom")
	runner := NewRunner(reg)

	results, err := runner.Run(context.Background(), newState(t), Options{MaxRetries: 1, RetryDelay: time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase context failed")
	assert.Zero(t, stubs[PhaseSpecWriting].runs, "pipeline must halt at the failed phase")
	assert.Equal(t, StatusFailed, results[len(results)-1].Status)
}

func TestRun_ValidationFailureDoesNotHalt(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	stubs[PhaseValidation].runErr = errors.New("missing artifact")
	runner := NewRunner(reg)

	results, err := runner.Run(context.Background(), newState(t), Options{RetryDelay: time.Millisecond})
	require.NoError(t, err, "validation reports issues without stopping the pipeline")

	last := results[len(results)-1]
	assert.Equal(t, PhaseValidation, last.Phase)
	assert.Equal(t, StatusFailed, last.Status)
	assert.NotEmpty(t, last.Errors)
}

func TestRun_CancellationBetweenPhases(t *testing.T) {
	t.Parallel()

	reg, stubs := newStubRegistry(model.ComplexitySimple)
	ctx, cancel := context.WithCancel(context.Background())
	stubs[PhaseComplexity].onRun = func(st *State) {
		assessmentStub(model.ComplexitySimple)(st)
		cancel()
	}
	runner := NewRunner(reg)

	_, err := runner.Run(ctx, newState(t), Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stubs[PhaseContext].runs)
}

func TestRun_PhaseChangeCallbackOrdered(t *testing.T) {
	t.Parallel()

	reg, _ := newStubRegistry(model.ComplexitySimple)
	runner := NewRunner(reg)

	var finished []string
	opts := Options{OnPhaseChange: func(phase string, result *PhaseResult) {
		if result != nil {
			finished = append(finished, phase)
		}
	}}
	_, err := runner.Run(context.Background(), newState(t), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		PhaseDiscovery, PhaseRequirements, PhaseComplexity,
		PhaseContext, PhaseSpecWriting, PhaseValidation,
	}, finished)
}
