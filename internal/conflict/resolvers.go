package conflict

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
)

// Strategy names the conflict-resolution algorithm applied to a set of
// divergent StateVersions (spec.md §4.4).
type Strategy string

const (
	StrategyLWW         Strategy = "lww"
	StrategyVectorClock Strategy = "vector_clock"
	StrategyCRDT        Strategy = "crdt"
)

// ConflictResolver dispatches a StateKey's divergent versions to the
// strategy named by Strategy, preserving the original versions in the
// result for audit.
type ConflictResolver struct {
	Strategy Strategy
}

// NewConflictResolver builds a resolver fixed to the given strategy.
func NewConflictResolver(strategy Strategy) *ConflictResolver {
	return &ConflictResolver{Strategy: strategy}
}

// Resolve merges versions sharing the same StateKey into one
// authoritative MergedVersion. versions must be non-empty and share a
// single StateKey.
func (r *ConflictResolver) Resolve(stateKey string, versions []StateVersion) (*MergedVersion, error) {
	if len(versions) == 0 {
		return nil, swarmerrors.NewInvalidArgument("empty_versions", fmt.Sprintf("resolve conflict: no versions supplied for %q", stateKey))
	}
	sources := make([]StateVersion, len(versions))
	copy(sources, versions)

	var winner StateVersion
	var err error
	switch r.Strategy {
	case StrategyLWW:
		winner = resolveLWW(versions)
	case StrategyVectorClock:
		winner = resolveVectorClock(versions)
	case StrategyCRDT:
		winner, err = resolveCRDT(versions)
	default:
		return nil, swarmerrors.NewInvalidArgument("unknown_strategy", fmt.Sprintf("resolve conflict: unknown strategy %q", r.Strategy))
	}
	if err != nil {
		return nil, err
	}

	return &MergedVersion{
		StateVersion:   winner,
		SourceVersions: sources,
		Strategy:       string(r.Strategy),
	}, nil
}

// resolveLWW picks the version with the greatest Timestamp, breaking
// ties by the lexicographically greatest AgentID (§4.4).
func resolveLWW(versions []StateVersion) StateVersion {
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Timestamp.After(best.Timestamp) {
			best = v
			continue
		}
		if v.Timestamp.Equal(best.Timestamp) && v.AgentID > best.AgentID {
			best = v
		}
	}
	return best
}

// precedes reports whether a's vector clock causally precedes b's: every
// entry of a is <= the corresponding entry of b (missing entries treated
// as 0) and at least one entry is strictly less.
func precedes(a, b map[string]int64) bool {
	lessSomewhere := false
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		av, bv := a[k], b[k]
		if av > bv {
			return false
		}
		if av < bv {
			lessSomewhere = true
		}
	}
	return lessSomewhere
}

// resolveVectorClock picks the unique version not causally preceded by
// any other. When multiple versions are concurrent (no single version
// dominates all others), it falls back to LWW among the concurrent set
// (§4.4).
func resolveVectorClock(versions []StateVersion) StateVersion {
	var maximal []StateVersion
	for i, v := range versions {
		precededByOther := false
		for j, other := range versions {
			if i == j {
				continue
			}
			if precedes(v.VectorClock, other.VectorClock) {
				precededByOther = true
				break
			}
		}
		if !precededByOther {
			maximal = append(maximal, v)
		}
	}
	if len(maximal) == 1 {
		return maximal[0]
	}
	return resolveLWW(maximal)
}

// resolveCRDT merges all versions using the merge law appropriate to
// their shared CRDTType, producing a synthetic winner whose Value holds
// the merged state and whose Timestamp/AgentID come from the
// LWW-selected version among the inputs (used only for audit display;
// the merge itself is commutative, associative, and idempotent
// regardless of merge order).
func resolveCRDT(versions []StateVersion) (StateVersion, error) {
	crdtType := versions[0].CRDTType
	display := resolveLWW(versions)

	switch crdtType {
	case CRDTGCounter:
		acc, err := decodeGCounter(versions[0].Value)
		if err != nil {
			return StateVersion{}, err
		}
		for _, v := range versions[1:] {
			next, err := decodeGCounter(v.Value)
			if err != nil {
				return StateVersion{}, err
			}
			acc = mergeGCounter(acc, next)
		}
		display.Value = acc
		display.CRDTType = CRDTGCounter
		return display, nil

	case CRDTPNCounter:
		acc, err := decodePNCounter(versions[0].Value)
		if err != nil {
			return StateVersion{}, err
		}
		for _, v := range versions[1:] {
			next, err := decodePNCounter(v.Value)
			if err != nil {
				return StateVersion{}, err
			}
			acc = mergePNCounter(acc, next)
		}
		display.Value = acc
		display.CRDTType = CRDTPNCounter
		return display, nil

	case CRDTORSet:
		acc, err := decodeORSet(versions[0].Value)
		if err != nil {
			return StateVersion{}, err
		}
		for _, v := range versions[1:] {
			next, err := decodeORSet(v.Value)
			if err != nil {
				return StateVersion{}, err
			}
			acc = mergeORSet(acc, next)
		}
		display.Value = acc
		display.CRDTType = CRDTORSet
		return display, nil

	case CRDTLWWRegister, "":
		// LWWRegister's merge rule IS last-write-wins on the envelope
		// timestamp, so the display winner already is the merge result.
		display.CRDTType = CRDTLWWRegister
		return display, nil

	default:
		return StateVersion{}, swarmerrors.NewInvalidArgument("unknown_crdt_type", fmt.Sprintf("resolve conflict: unknown crdt type %q", crdtType))
	}
}

func decodeGCounter(raw interface{}) (GCounterValue, error) {
	if v, ok := raw.(GCounterValue); ok {
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, swarmerrors.NewFatal("encode_gcounter", "encode gcounter value", err)
	}
	var out GCounterValue
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, swarmerrors.NewInvalidArgument("decode_gcounter", fmt.Sprintf("decode gcounter value: %v", err))
	}
	return out, nil
}

func decodePNCounter(raw interface{}) (PNCounterValue, error) {
	if v, ok := raw.(PNCounterValue); ok {
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return PNCounterValue{}, swarmerrors.NewFatal("encode_pncounter", "encode pncounter value", err)
	}
	var out PNCounterValue
	if err := json.Unmarshal(data, &out); err != nil {
		return PNCounterValue{}, swarmerrors.NewInvalidArgument("decode_pncounter", fmt.Sprintf("decode pncounter value: %v", err))
	}
	if out.P == nil {
		out.P = GCounterValue{}
	}
	if out.N == nil {
		out.N = GCounterValue{}
	}
	return out, nil
}

func decodeORSet(raw interface{}) (ORSetValue, error) {
	if v, ok := raw.(ORSetValue); ok {
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ORSetValue{}, swarmerrors.NewFatal("encode_orset", "encode orset value", err)
	}
	var out ORSetValue
	if err := json.Unmarshal(data, &out); err != nil {
		return ORSetValue{}, swarmerrors.NewInvalidArgument("decode_orset", fmt.Sprintf("decode orset value: %v", err))
	}
	if out.Adds == nil {
		out.Adds = make(map[string]map[string]struct{})
	}
	if out.Removes == nil {
		out.Removes = make(map[string]map[string]struct{})
	}
	return out, nil
}

// sortedStateKeys is a small helper used by callers (e.g. DeltaSync) that
// need deterministic iteration over a map of versions keyed by state key.
func sortedStateKeys(m map[string]StateVersion) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
