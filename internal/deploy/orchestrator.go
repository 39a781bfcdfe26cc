package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
)

// Environment names the target a run deploys to ("mainnet", "ropsten", ...).
// The orchestrator passes it through; only the deployer gives it meaning.
type Environment string

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// Deployed is the outcome of a successful deploy call.
type Deployed struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
	TxHash  common.Hash    `json:"txHash"`
}

// Deployer performs deployments and links on the target environment.
type Deployer interface {
	// Deploy deploys the unit and returns where it landed.
	Deploy(ctx context.Context, unit *artifacts.Artifact) (Deployed, error)

	// Link binds the dependent's references to library to library.Address.
	// library must already be deployed.
	Link(ctx context.Context, dependent *artifacts.Artifact, library Deployed) error
}

// Registry resolves unit names to compiled artifacts.
type Registry interface {
	Resolve(name string) (*artifacts.Artifact, error)
}

// ActionResult records one completed action.
type ActionResult struct {
	Action   Action        `json:"action"`
	Deployed *Deployed     `json:"deployed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report describes a run. On failure it holds the actions that completed
// before the failing one.
type Report struct {
	Environment Environment    `json:"environment"`
	Plan        Plan           `json:"plan"`
	Results     []ActionResult `json:"results"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
}

// Trace returns the executed actions in order.
func (r *Report) Trace() []Action {
	out := make([]Action, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Action)
	}
	return out
}

// Address returns the address unit was deployed at during the run.
func (r *Report) Address(unit string) (common.Address, bool) {
	for _, res := range r.Results {
		if res.Deployed != nil && res.Deployed.Name == unit {
			return res.Deployed.Address, true
		}
	}
	return common.Address{}, false
}

// OrchestratorConfig contains configuration for the orchestrator.
type OrchestratorConfig struct {
	// Logger for structured logging
	Logger *slog.Logger
}

// Orchestrator executes plans one action at a time. Every deploy and link
// call completes before the next is issued; the first failure ends the
// run. There is no retry and no rollback.
type Orchestrator struct {
	deployer Deployer
	registry Registry
	logger   *slog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(deployer Deployer, registry Registry, cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		deployer: deployer,
		registry: registry,
		logger:   logger,
	}
}

// runState holds the handles resolved and the units deployed in one run.
type runState struct {
	handles  map[string]*artifacts.Artifact
	deployed map[string]Deployed
}

// Run executes plan against env. The returned error is a
// *DeploymentFailure or *LinkFailure for execution errors, or wraps
// ErrInvalidPlan.
func (o *Orchestrator) Run(ctx context.Context, env Environment, plan Plan) (*Report, error) {
	report := &Report{
		Environment: env,
		Plan:        plan,
		StartedAt:   time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	if err := plan.Validate(); err != nil {
		return report, err
	}

	o.logger.Info("starting deployment run",
		slog.String("environment", env.String()),
		slog.String("variant", plan.Variant.String()),
		slog.String("unit", plan.Unit),
	)

	st := &runState{
		handles:  make(map[string]*artifacts.Artifact),
		deployed: make(map[string]Deployed),
	}

	for i, action := range plan.Actions() {
		o.logger.Info("executing action",
			slog.String("environment", env.String()),
			slog.Int("step", i+1),
			slog.String("action", action.String()),
		)

		start := time.Now()
		result, err := o.execute(ctx, st, action)
		if err != nil {
			o.logger.Error("action failed",
				slog.String("environment", env.String()),
				slog.String("action", action.String()),
				slog.String("error", err.Error()),
			)
			return report, err
		}
		result.Duration = time.Since(start)
		report.Results = append(report.Results, result)
	}

	o.logger.Info("deployment run completed",
		slog.String("environment", env.String()),
		slog.Int("actions", len(report.Results)),
	)

	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, st *runState, action Action) (ActionResult, error) {
	switch action.Kind {
	case ActionDeploy:
		return o.deploy(ctx, st, action)
	case ActionLink:
		return o.link(ctx, st, action)
	default:
		return ActionResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidPlan, action.Kind)
	}
}

func (o *Orchestrator) deploy(ctx context.Context, st *runState, action Action) (ActionResult, error) {
	handle, err := o.resolve(st, action.Unit)
	if err != nil {
		return ActionResult{}, &DeploymentFailure{Unit: action.Unit, Err: err}
	}

	d, err := o.deployer.Deploy(ctx, handle)
	if err != nil {
		return ActionResult{}, &DeploymentFailure{Unit: action.Unit, Err: err}
	}
	if d.Name == "" {
		d.Name = action.Unit
	}
	st.deployed[action.Unit] = d

	o.logger.Info("unit deployed",
		slog.String("unit", action.Unit),
		slog.String("address", d.Address.Hex()),
		slog.String("tx_hash", d.TxHash.Hex()),
	)

	return ActionResult{Action: action, Deployed: &d}, nil
}

// link hands the deployer whatever is known about the dependency. An
// undeployed dependency reaches the deployer with a zero address and the
// deployer rejects it.
func (o *Orchestrator) link(ctx context.Context, st *runState, action Action) (ActionResult, error) {
	handle, err := o.resolve(st, action.Unit)
	if err != nil {
		return ActionResult{}, &LinkFailure{Dependent: action.Unit, Dependency: action.Dependency, Err: err}
	}

	library, ok := st.deployed[action.Dependency]
	if !ok {
		library = Deployed{Name: action.Dependency}
	}

	if err := o.deployer.Link(ctx, handle, library); err != nil {
		return ActionResult{}, &LinkFailure{Dependent: action.Unit, Dependency: action.Dependency, Err: err}
	}

	o.logger.Info("unit linked",
		slog.String("dependent", action.Unit),
		slog.String("library", action.Dependency),
		slog.String("library_address", library.Address.Hex()),
	)

	return ActionResult{Action: action}, nil
}

// resolve returns the run's handle for name, resolving it on first use so
// that a link applied to a handle is seen by the later deploy of it.
func (o *Orchestrator) resolve(st *runState, name string) (*artifacts.Artifact, error) {
	if h, ok := st.handles[name]; ok {
		return h, nil
	}
	h, err := o.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	st.handles[name] = h
	return h, nil
}
