package phases

import (
	"context"
	"fmt"

	"github.com/taskloop-dev/taskloop/internal/discovery"
	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// Discovery scans the repository into a ProjectIndex, seeding the spec-local
// copy from the global cache. A persisted global copy is reused whatever its
// age; the repository is scanned only when no readable copy exists.
type Discovery struct {
	Cache *discovery.ProjectIndexCache
}

func (d *Discovery) Name() string     { return pipeline.PhaseDiscovery }
func (d *Discovery) Artifact() string { return pipeline.ArtifactProjectIndex }

func (d *Discovery) Run(ctx context.Context, st *pipeline.State) error {
	if d.Cache == nil {
		return fmt.Errorf("discovery phase requires a project index cache")
	}
	idx, err := d.Cache.SeedSpecCopy(ctx, st.RepoRoot, st.SpecDir)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	st.Index = idx
	return nil
}

func (d *Discovery) Load(st *pipeline.State) error {
	var idx model.ProjectIndex
	if err := readArtifact(st.SpecDir, pipeline.ArtifactProjectIndex, &idx); err != nil {
		return err
	}
	st.Index = &idx
	return nil
}
