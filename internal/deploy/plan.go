// Package deploy runs deployment plans for the Asn1Decode contract and its
// NodePtr library against an external deployer.
package deploy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Unit names of the deployable artifacts.
const (
	DefaultUnit    = "Asn1Decode"
	DefaultLibrary = "NodePtr"
)

// ErrInvalidPlan is returned for plans that cannot be executed.
var ErrInvalidPlan = errors.New("deploy: invalid plan")

// Variant selects how a unit's library dependency is satisfied.
type Variant string

const (
	// VariantNoLink deploys only the unit; its libraries are already
	// compiled into it.
	VariantNoLink Variant = "no-link"
	// VariantLinkThenDeploy deploys the library, links it into the unit,
	// then deploys the unit.
	VariantLinkThenDeploy Variant = "link-then-deploy"
)

// String returns the string representation of the variant.
func (v Variant) String() string {
	return string(v)
}

// ParseVariant parses a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantNoLink, VariantLinkThenDeploy:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown variant %q (want %q or %q)", ErrInvalidPlan, s, VariantNoLink, VariantLinkThenDeploy)
	}
}

// Plan is a tagged variant: NoLink(unit) | LinkThenDeploy(dependency, unit).
// Build one with NoLink or LinkThenDeploy.
type Plan struct {
	Variant    Variant `yaml:"variant" json:"variant"`
	Unit       string  `yaml:"unit" json:"unit"`
	Dependency string  `yaml:"dependency,omitempty" json:"dependency,omitempty"`
}

// NoLink returns a plan that deploys unit alone.
func NoLink(unit string) Plan {
	return Plan{Variant: VariantNoLink, Unit: unit}
}

// LinkThenDeploy returns a plan that deploys dependency, links it into
// unit and deploys unit.
func LinkThenDeploy(dependency, unit string) Plan {
	return Plan{Variant: VariantLinkThenDeploy, Unit: unit, Dependency: dependency}
}

// Validate checks that the plan is well formed.
func (p Plan) Validate() error {
	if p.Unit == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidPlan)
	}
	switch p.Variant {
	case VariantNoLink:
		if p.Dependency != "" {
			return fmt.Errorf("%w: %s plan takes no dependency (got %q)", ErrInvalidPlan, p.Variant, p.Dependency)
		}
	case VariantLinkThenDeploy:
		if p.Dependency == "" {
			return fmt.Errorf("%w: %s plan requires a dependency", ErrInvalidPlan, p.Variant)
		}
		if p.Dependency == p.Unit {
			return fmt.Errorf("%w: %s cannot depend on itself", ErrInvalidPlan, p.Unit)
		}
	case "":
		return fmt.Errorf("%w: variant is required", ErrInvalidPlan)
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidPlan, p.Variant)
	}
	return nil
}

// Actions returns the ordered actions the plan executes.
func (p Plan) Actions() []Action {
	switch p.Variant {
	case VariantNoLink:
		return []Action{
			{Kind: ActionDeploy, Unit: p.Unit},
		}
	case VariantLinkThenDeploy:
		return []Action{
			{Kind: ActionDeploy, Unit: p.Dependency},
			{Kind: ActionLink, Unit: p.Unit, Dependency: p.Dependency},
			{Kind: ActionDeploy, Unit: p.Unit},
		}
	default:
		return nil
	}
}

// LoadPlanFile reads a YAML plan file:
//
//	variant: link-then-deploy
//	unit: Asn1Decode
//	dependency: NodePtr
func LoadPlanFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("decode plan file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan file %s: %w", path, err)
	}
	return p, nil
}

// ActionKind names a deployer primitive.
type ActionKind string

const (
	ActionDeploy ActionKind = "deploy"
	ActionLink   ActionKind = "link"
)

// Action is one step of a plan. For a link action Unit is the dependent
// and Dependency the library bound into it.
type Action struct {
	Kind       ActionKind `yaml:"kind" json:"kind"`
	Unit       string     `yaml:"unit" json:"unit"`
	Dependency string     `yaml:"dependency,omitempty" json:"dependency,omitempty"`
}

// String renders the action as deploy("NodePtr") or link("NodePtr"→"Asn1Decode").
func (a Action) String() string {
	if a.Kind == ActionLink {
		return fmt.Sprintf("link(%q→%q)", a.Dependency, a.Unit)
	}
	return fmt.Sprintf("%s(%q)", a.Kind, a.Unit)
}
