package cache

import (
	"context"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// ProjectIndex maps project names to ids.
type ProjectIndex struct {
	*ReadThrough[string, string]
}

// NewProjectIndex creates a project index backed by src.
func NewProjectIndex(src store.ProjectSource) *ProjectIndex {
	return &ProjectIndex{ReadThrough: NewReadThrough[string, string](src.ProjectIDs)}
}

// ID returns the id of a project by name.
func (p *ProjectIndex) ID(ctx context.Context, name string) (string, bool, error) {
	return p.Get(ctx, name)
}

// OnCommand invalidates the index when a project command goes out.
func (p *ProjectIndex) OnCommand(ctx context.Context, msg types.Message) {
	if msg.Type == types.CommandProject {
		p.Invalidate()
	}
}
