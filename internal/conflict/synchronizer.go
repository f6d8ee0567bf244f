package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/memory"
	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/internal/topology"
	"github.com/moai-flow/swarm-kernel/pkg/logger"
)

const stateNamespace = "state"

// SyncConfig tunes a StateSynchronizer's defaults.
type SyncConfig struct {
	Strategy       Strategy
	SyncTimeout    time.Duration
	DeltaBatchSize int
}

// activeSync tracks in-flight replica collection for one synchronization
// round, mirroring internal/consensus.Manager's activeProposal: a
// buffered notifyCh wakes the waiting SynchronizeState call each time a
// replica is reported, instead of polling.
type activeSync struct {
	mu           sync.Mutex
	swarmID      string
	stateKey     string
	participants []string
	received     map[string]StateVersion
	notifyCh     chan struct{}
}

// StateSynchronizer resolves divergent replicas of shared state across a
// swarm's agents (spec.md §4.4). Grounded on design note 5 (spec.md §9):
// it depends only on a topology.Router capability, never on the full
// *topology.Coordinator, breaking the Coordinator<->StateSynchronizer
// cyclic reference.
type StateSynchronizer struct {
	cfg      SyncConfig
	router   topology.Router
	store    memory.Provider
	resolver *ConflictResolver
	logger   *logrus.Logger

	mu     sync.Mutex
	active map[string]*activeSync
}

// NewStateSynchronizer builds a synchronizer. store may be nil; every
// operation that requires persistence returns a NotInitialized error
// until one is supplied.
func NewStateSynchronizer(cfg SyncConfig, router topology.Router, store memory.Provider, logger *logrus.Logger) *StateSynchronizer {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLWW
	}
	return &StateSynchronizer{
		cfg:      cfg,
		router:   router,
		store:    store,
		resolver: NewConflictResolver(cfg.Strategy),
		logger:   logger,
		active:   make(map[string]*activeSync),
	}
}

// SynchronizeState implements §4.4's protocol: broadcast a state_query to
// every participant, collect replicas via ReportState within
// SyncTimeout, resolve conflicts, persist and broadcast the merged
// value. If no replica is reported before the deadline, the last
// persisted value (if any) is returned unchanged.
func (s *StateSynchronizer) SynchronizeState(ctx context.Context, swarmID, stateKey string) (*MergedVersion, error) {
	if s.store == nil {
		return nil, swarmerrors.NewNotInitialized("no_memory_provider", "state synchronization requires a configured MemoryProvider")
	}

	participants := s.router.Participants()
	syncID := uuid.NewString()

	if len(participants) == 0 {
		return s.fallbackToStored(ctx, swarmID, stateKey)
	}

	as := &activeSync{
		swarmID:      swarmID,
		stateKey:     stateKey,
		participants: participants,
		received:     make(map[string]StateVersion),
		notifyCh:     make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.active[syncID] = as
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, syncID)
		s.mu.Unlock()
	}()

	n, err := s.router.Notify(topology.MsgStateQuery, map[string]interface{}{
		"sync_id":   syncID,
		"state_key": stateKey,
		"swarm_id":  swarmID,
	}, participants)
	if err != nil || n == 0 {
		return s.fallbackToStored(ctx, swarmID, stateKey)
	}

	timer := time.NewTimer(s.cfg.SyncTimeout)
	defer timer.Stop()

waitLoop:
	for {
		as.mu.Lock()
		allReported := len(as.received) >= len(participants)
		as.mu.Unlock()
		if allReported {
			break
		}
		select {
		case <-as.notifyCh:
			continue
		case <-timer.C:
			break waitLoop
		}
	}

	as.mu.Lock()
	versions := make([]StateVersion, 0, len(as.received))
	for _, v := range as.received {
		versions = append(versions, v)
	}
	as.mu.Unlock()

	if len(versions) == 0 {
		return s.fallbackToStored(ctx, swarmID, stateKey)
	}

	merged, err := s.resolver.Resolve(stateKey, versions)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Store(ctx, swarmID, stateNamespace, stateKey, merged.StateVersion, true); err != nil {
		return nil, fmt.Errorf("persist merged state: %w", err)
	}

	payload, err := stateUpdatePayload(*merged)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode state_update payload")
	} else if _, err := s.router.Notify(topology.MsgStateUpdate, payload, participants); err != nil {
		s.logger.WithError(err).Warn("failed to broadcast state_update")
	}

	return merged, nil
}

// ReportState is called (directly, or via the kernel's message dispatch)
// on behalf of an agent replying to a state_query with its local replica.
// Reports for an unknown or already-resolved sync id are ignored.
func (s *StateSynchronizer) ReportState(syncID string, version StateVersion) {
	s.mu.Lock()
	as, ok := s.active[syncID]
	s.mu.Unlock()
	if !ok {
		return
	}

	as.mu.Lock()
	if _, dup := as.received[version.AgentID]; dup {
		as.mu.Unlock()
		return
	}
	as.received[version.AgentID] = version
	as.mu.Unlock()

	select {
	case as.notifyCh <- struct{}{}:
	default:
	}
}

func (s *StateSynchronizer) fallbackToStored(ctx context.Context, swarmID, stateKey string) (*MergedVersion, error) {
	logger.WithSwarm(s.logger, swarmID).WithField("state_key", stateKey).
		Debug("no replicas reported within sync_timeout_ms, falling back to last persisted value")

	raw, found, err := s.store.Retrieve(ctx, swarmID, stateNamespace, stateKey)
	if err != nil {
		return nil, fmt.Errorf("retrieve stored state: %w", err)
	}
	if !found {
		return nil, swarmerrors.NewTimeout("no_replicas", fmt.Sprintf("no replicas reported for %q and no prior value stored", stateKey))
	}
	sv, err := decodeStateVersion(raw)
	if err != nil {
		return nil, err
	}
	return &MergedVersion{StateVersion: sv, SourceVersions: []StateVersion{sv}, Strategy: string(s.cfg.Strategy)}, nil
}

// DeltaSync returns every stored StateVersion for swarmID whose Version
// exceeds sinceVersion, in ascending StateKey order (§4.4's delta
// sync: only entries newer than the caller's last known version).
func (s *StateSynchronizer) DeltaSync(ctx context.Context, swarmID string, sinceVersion int64) ([]StateVersion, error) {
	if s.store == nil {
		return nil, swarmerrors.NewNotInitialized("no_memory_provider", "delta sync requires a configured MemoryProvider")
	}

	keys, err := s.store.ListKeys(ctx, swarmID, stateNamespace, "")
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}

	byKey := make(map[string]StateVersion, len(keys))
	for _, key := range keys {
		raw, found, err := s.store.Retrieve(ctx, swarmID, stateNamespace, key)
		if err != nil {
			return nil, fmt.Errorf("retrieve state %q: %w", key, err)
		}
		if !found {
			continue
		}
		sv, err := decodeStateVersion(raw)
		if err != nil {
			return nil, err
		}
		if sv.Version > sinceVersion {
			byKey[key] = sv
		}
	}

	out := make([]StateVersion, 0, len(byKey))
	for _, key := range sortedStateKeys(byKey) {
		out = append(out, byKey[key])
	}
	return out, nil
}

func stateUpdatePayload(merged MergedVersion) (map[string]interface{}, error) {
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// decodeStateVersion normalizes a value retrieved from a memory.Provider
// back into a StateVersion: the in-memory backend hands back the
// concrete struct untouched, while the Redis/Postgres backends
// round-trip it through JSON and hand back a map[string]interface{}.
func decodeStateVersion(raw interface{}) (StateVersion, error) {
	if sv, ok := raw.(StateVersion); ok {
		return sv, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return StateVersion{}, swarmerrors.NewFatal("encode_state_version", "encode stored state version", err)
	}
	var sv StateVersion
	if err := json.Unmarshal(data, &sv); err != nil {
		return StateVersion{}, swarmerrors.NewInvalidArgument("decode_state_version", fmt.Sprintf("decode stored state version: %v", err))
	}
	return sv, nil
}
