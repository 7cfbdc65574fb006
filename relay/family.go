package relay

import (
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// FamilyDeclaration is the family line of a single server descriptor.
type FamilyDeclaration struct {
	// Fingerprint identifies the relay that published the descriptor.
	Fingerprint string

	// Members are the raw family entries, either "$FINGERPRINT",
	// "$FINGERPRINT~nick", "$FINGERPRINT=nick" or a bare nickname.
	Members []string
}

// FamilyIndex maps a relay fingerprint to the set of family members it
// declared. The index is built once and only read afterwards, so it is safe
// for concurrent readers.
type FamilyIndex struct {
	families map[string]fn.Set[string]
}

// NewFamilyIndex builds an index from the given declarations. Multiple
// declarations for the same fingerprint are merged.
func NewFamilyIndex(decls []FamilyDeclaration) *FamilyIndex {
	idx := &FamilyIndex{
		families: make(map[string]fn.Set[string], len(decls)),
	}

	for _, decl := range decls {
		if len(decl.Members) == 0 {
			continue
		}

		fp := NormalizeFingerprint(decl.Fingerprint)
		set, ok := idx.families[fp]
		if !ok {
			set = fn.NewSet[string]()
			idx.families[fp] = set
		}

		for _, member := range decl.Members {
			set.Add(normalizeFamilyMember(member))
		}
	}

	log.Debugf("Indexed family declarations for %d relays",
		len(idx.families))

	return idx
}

// Family returns the declared family of the relay with the given
// fingerprint. Relays without a declaration have an empty family.
func (f *FamilyIndex) Family(fingerprint string) fn.Set[string] {
	if f == nil {
		return fn.NewSet[string]()
	}

	set, ok := f.families[NormalizeFingerprint(fingerprint)]
	if !ok {
		return fn.NewSet[string]()
	}

	return set
}

// Len returns the number of relays that declared a family.
func (f *FamilyIndex) Len() int {
	if f == nil {
		return 0
	}

	return len(f.families)
}

// Disjoint returns true if the family of the given fingerprint shares no
// member with any of the other families.
func (f *FamilyIndex) Disjoint(fingerprint string,
	others ...fn.Set[string]) bool {

	family := f.Family(fingerprint)
	if family.Size() == 0 {
		return true
	}

	for _, other := range others {
		if family.Intersect(other).Size() != 0 {
			return false
		}
	}

	return true
}

// NormalizeFingerprint upper cases a fingerprint and strips the optional
// leading "$".
func NormalizeFingerprint(fp string) string {
	return strings.ToUpper(strings.TrimPrefix(fp, "$"))
}

// normalizeFamilyMember reduces a family entry to its fingerprint if it has
// one. Bare nicknames are kept verbatim.
func normalizeFamilyMember(member string) string {
	if !strings.HasPrefix(member, "$") {
		return member
	}

	member = member[1:]
	if i := strings.IndexAny(member, "~="); i >= 0 {
		member = member[:i]
	}

	return strings.ToUpper(member)
}
