package artifacts

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// placeholderLen is the width of a library placeholder in hex characters:
// one 20-byte address.
const placeholderLen = 2 * common.AddressLength

// placeholder is a library slot found by scanning hex bytecode.
// Legacy placeholders look like "__NodePtr______________________________";
// solc >= 0.5 emits "__$<34 hex chars of keccak256(fqn)>$__".
type placeholder struct {
	pos  int
	raw  string
	name string
	hash string
}

// placeholderHash returns the 34-char hash solc embeds for a fully
// qualified library name ("contracts/NodePtr.sol:NodePtr").
func placeholderHash(fqn string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(fqn)))[:34]
}

// legacyPlaceholder returns the pre-0.5 / Truffle placeholder for name.
func legacyPlaceholder(name string) string {
	p := "__" + name
	if len(p) > placeholderLen-2 {
		p = p[:placeholderLen-2]
	}
	return p + strings.Repeat("_", placeholderLen-len(p))
}

func parsePlaceholder(pos int, tok string) placeholder {
	p := placeholder{pos: pos, raw: tok}
	if tok[2] == '$' && tok[placeholderLen-3] == '$' {
		p.hash = tok[3 : placeholderLen-3]
		return p
	}
	name := strings.TrimRight(tok[2:], "_")
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	p.name = name
	return p
}

// scanPlaceholders walks hex bytecode one byte at a time and returns every
// placeholder it meets. Real code is always hex, so a "__" pair on a byte
// boundary can only start a placeholder.
func scanPlaceholders(body string) []placeholder {
	var out []placeholder
	for i := 0; i+1 < len(body); {
		if body[i] == '_' && body[i+1] == '_' && i+placeholderLen <= len(body) {
			out = append(out, parsePlaceholder(i, body[i:i+placeholderLen]))
			i += placeholderLen
			continue
		}
		i += 2
	}
	return out
}

func (p placeholder) matches(library string, fqns []string) bool {
	if p.hash != "" {
		for _, fqn := range fqns {
			if placeholderHash(fqn) == p.hash {
				return true
			}
		}
		return false
	}
	if p.raw == legacyPlaceholder(library) || p.name == bareName(library) {
		return true
	}
	for _, fqn := range fqns {
		if p.raw == legacyPlaceholder(fqn) {
			return true
		}
	}
	return false
}

// bareName strips the source path from a fully qualified library name.
func bareName(library string) string {
	if i := strings.LastIndex(library, ":"); i >= 0 {
		return library[i+1:]
	}
	return library
}

// linkCode writes addr into every slot of body reserved for library and
// returns the new body with the number of slots written.
func linkCode(body string, refs LinkReferences, library string, addr common.Address) (string, int, error) {
	if body == "" {
		return body, 0, nil
	}

	b := []byte(body)
	addrHex := hex.EncodeToString(addr.Bytes())
	n := 0

	var fqns []string
	for file, libs := range refs {
		for lib, offsets := range libs {
			if !matchesLibrary(file, lib, library) {
				continue
			}
			fqns = append(fqns, file+":"+lib)
			for _, off := range offsets {
				if off.Length != common.AddressLength {
					return "", 0, fmt.Errorf("reference %s:%s has length %d, want %d", file, lib, off.Length, common.AddressLength)
				}
				start, end := off.Start*2, (off.Start+off.Length)*2
				if off.Start < 0 || end > len(b) {
					return "", 0, fmt.Errorf("reference %s:%s at byte %d is out of range", file, lib, off.Start)
				}
				copy(b[start:end], addrHex)
				n++
			}
		}
	}
	if strings.Contains(library, ":") {
		fqns = append(fqns, library)
	}

	for _, p := range scanPlaceholders(string(b)) {
		if p.matches(library, fqns) {
			copy(b[p.pos:p.pos+placeholderLen], addrHex)
			n++
		}
	}

	return string(b), n, nil
}
