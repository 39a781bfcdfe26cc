package deploy

import (
	"context"
	"fmt"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
)

// Recorder persists the outcome of deployer calls.
type Recorder interface {
	UnitDeployed(ctx context.Context, d Deployed) error
	UnitLinked(ctx context.Context, dependent string, library Deployed) error
}

type recording struct {
	next     Deployer
	recorder Recorder
}

// Record wraps d so every successful call is passed to r. A failure to
// record fails the call.
func Record(d Deployer, r Recorder) Deployer {
	return &recording{next: d, recorder: r}
}

func (r *recording) Deploy(ctx context.Context, unit *artifacts.Artifact) (Deployed, error) {
	d, err := r.next.Deploy(ctx, unit)
	if err != nil {
		return d, err
	}
	if d.Name == "" {
		d.Name = unit.Name()
	}
	if err := r.recorder.UnitDeployed(ctx, d); err != nil {
		return d, fmt.Errorf("record deployment of %s: %w", d.Name, err)
	}
	return d, nil
}

func (r *recording) Link(ctx context.Context, dependent *artifacts.Artifact, library Deployed) error {
	if err := r.next.Link(ctx, dependent, library); err != nil {
		return err
	}
	if err := r.recorder.UnitLinked(ctx, dependent.Name(), library); err != nil {
		return fmt.Errorf("record link of %s into %s: %w", library.Name, dependent.Name(), err)
	}
	return nil
}
