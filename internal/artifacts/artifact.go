// Package artifacts loads compiled contract artifacts and resolves the
// library placeholders left in their bytecode by the Solidity compiler.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinel errors
var (
	ErrArtifactNotFound     = errors.New("artifacts: artifact not found")
	ErrUnlinked             = errors.New("artifacts: bytecode has unresolved library references")
	ErrLibraryNotReferenced = errors.New("artifacts: library is not referenced by bytecode")
	ErrEmptyBytecode        = errors.New("artifacts: empty bytecode")
	ErrChecksumMismatch     = errors.New("artifacts: checksum mismatch")
)

// Offset locates a 20-byte library address slot inside binary bytecode.
type Offset struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// LinkReferences maps source file -> library name -> slots, as emitted in
// solc standard JSON, Hardhat and Foundry artifacts.
type LinkReferences map[string]map[string][]Offset

// clone returns a deep copy of the references.
func (r LinkReferences) clone() LinkReferences {
	if r == nil {
		return nil
	}
	out := make(LinkReferences, len(r))
	for file, libs := range r {
		m := make(map[string][]Offset, len(libs))
		for lib, offsets := range libs {
			m[lib] = append([]Offset(nil), offsets...)
		}
		out[file] = m
	}
	return out
}

// Bytecode contains contract bytecode as a hex string.
// It handles both formats:
// - Simple string: "0x608060..." (Truffle, Hardhat)
// - Object with "object" field: {"object": "0x608060...", "linkReferences": {...}} (Foundry)
type Bytecode struct {
	hex  string
	refs LinkReferences
}

// NewBytecode returns Bytecode for the given hex string.
func NewBytecode(hexCode string) Bytecode {
	return Bytecode{hex: hexCode}
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object         string         `json:"object"`
		LinkReferences LinkReferences `json:"linkReferences"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		b.refs = obj.LinkReferences
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// body returns the hex digits without a 0x prefix.
func (b Bytecode) body() string {
	return strings.TrimPrefix(strings.TrimPrefix(b.hex, "0x"), "0X")
}

// Artifact is a compiled contract: ABI, creation and runtime bytecode, and
// the library references that must be resolved before deployment.
type Artifact struct {
	ContractName           string          `json:"contractName"`
	SourceName             string          `json:"sourceName,omitempty"`
	ABI                    json.RawMessage `json:"abi"`
	Bytecode               Bytecode        `json:"bytecode"`
	DeployedBytecode       Bytecode        `json:"deployedBytecode,omitempty"`
	LinkReferences         LinkReferences  `json:"linkReferences,omitempty"`
	DeployedLinkReferences LinkReferences  `json:"deployedLinkReferences,omitempty"`
}

// Name returns the contract name.
func (a *Artifact) Name() string {
	return a.ContractName
}

// Clone returns a deep copy. Linking a clone never affects the original.
func (a *Artifact) Clone() *Artifact {
	c := *a
	c.ABI = append(json.RawMessage(nil), a.ABI...)
	c.Bytecode = Bytecode{hex: a.Bytecode.hex, refs: a.Bytecode.refs.clone()}
	c.DeployedBytecode = Bytecode{hex: a.DeployedBytecode.hex, refs: a.DeployedBytecode.refs.clone()}
	c.LinkReferences = a.LinkReferences.clone()
	c.DeployedLinkReferences = a.DeployedLinkReferences.clone()
	return &c
}

// ParsedABI parses the artifact's ABI.
func (a *Artifact) ParsedABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, nil
	}
	parsed, err := abi.JSON(strings.NewReader(string(a.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s ABI: %w", a.ContractName, err)
	}
	return parsed, nil
}

// creationRefs returns the creation code link references, preferring the
// top-level field and falling back to the ones embedded in the bytecode object.
func (a *Artifact) creationRefs() LinkReferences {
	if len(a.LinkReferences) > 0 {
		return a.LinkReferences
	}
	return a.Bytecode.refs
}

func (a *Artifact) deployedRefs() LinkReferences {
	if len(a.DeployedLinkReferences) > 0 {
		return a.DeployedLinkReferences
	}
	return a.DeployedBytecode.refs
}

// UnresolvedLibraries returns the sorted names of libraries the creation
// code still references.
func (a *Artifact) UnresolvedLibraries() []string {
	seen := make(map[string]struct{})
	known := make(map[string]string)

	for file, libs := range a.creationRefs() {
		for lib := range libs {
			seen[lib] = struct{}{}
			known[placeholderHash(file+":"+lib)] = lib
		}
	}

	for _, p := range scanPlaceholders(a.Bytecode.body()) {
		switch {
		case p.hash != "":
			if lib, ok := known[p.hash]; ok {
				seen[lib] = struct{}{}
			} else {
				seen["$"+p.hash+"$"] = struct{}{}
			}
		default:
			seen[p.name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsLinked reports whether the creation code has no unresolved references.
func (a *Artifact) IsLinked() bool {
	return len(a.UnresolvedLibraries()) == 0
}

// Link writes addr into every slot reserved for library in both creation
// and runtime bytecode. library may be a bare name ("NodePtr") or a fully
// qualified name ("contracts/NodePtr.sol:NodePtr").
func (a *Artifact) Link(library string, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("link %s into %s: zero address", library, a.ContractName)
	}

	creation, n1, err := linkCode(a.Bytecode.body(), a.creationRefs(), library, addr)
	if err != nil {
		return fmt.Errorf("link %s into %s: %w", library, a.ContractName, err)
	}
	deployed, n2, err := linkCode(a.DeployedBytecode.body(), a.deployedRefs(), library, addr)
	if err != nil {
		return fmt.Errorf("link %s into %s runtime code: %w", library, a.ContractName, err)
	}
	if n1+n2 == 0 {
		return fmt.Errorf("link %s into %s: %w", library, a.ContractName, ErrLibraryNotReferenced)
	}

	a.Bytecode.hex = "0x" + creation
	if a.DeployedBytecode.hex != "" {
		a.DeployedBytecode.hex = "0x" + deployed
	}
	removeLibrary(a.LinkReferences, library)
	removeLibrary(a.Bytecode.refs, library)
	removeLibrary(a.DeployedLinkReferences, library)
	removeLibrary(a.DeployedBytecode.refs, library)
	return nil
}

// CreationCode returns the decoded creation bytecode. It fails with
// ErrUnlinked while any library reference is unresolved.
func (a *Artifact) CreationCode() ([]byte, error) {
	body := a.Bytecode.body()
	if body == "" {
		return nil, fmt.Errorf("%s: %w", a.ContractName, ErrEmptyBytecode)
	}
	if libs := a.UnresolvedLibraries(); len(libs) > 0 {
		return nil, fmt.Errorf("%s references %s: %w", a.ContractName, strings.Join(libs, ", "), ErrUnlinked)
	}
	code, err := hexutil.Decode("0x" + body)
	if err != nil {
		return nil, fmt.Errorf("decode %s bytecode: %w", a.ContractName, err)
	}
	return code, nil
}

// ParseArtifact decodes a single artifact file. fallbackName is used when
// the file carries no contractName (Foundry output). ok is false for JSON
// that is not a contract artifact, such as build-info or metadata files.
func ParseArtifact(data []byte, fallbackName string) (art *Artifact, ok bool, err error) {
	var head struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, false, fmt.Errorf("decode artifact %s: %w", fallbackName, err)
		}
		// Valid JSON of another shape, e.g. a bare ABI array.
		return nil, false, nil
	}
	if len(head.ABI) == 0 || len(head.Bytecode) == 0 {
		return nil, false, nil
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("decode artifact %s: %w", fallbackName, err)
	}
	if a.ContractName == "" {
		a.ContractName = fallbackName
	}
	return &a, true, nil
}

func removeLibrary(refs LinkReferences, library string) {
	for file, libs := range refs {
		for lib := range libs {
			if matchesLibrary(file, lib, library) {
				delete(libs, lib)
			}
		}
		if len(libs) == 0 {
			delete(refs, file)
		}
	}
}

// matchesLibrary reports whether the reference file:lib names library.
func matchesLibrary(file, lib, library string) bool {
	return lib == library || file+":"+lib == library
}
