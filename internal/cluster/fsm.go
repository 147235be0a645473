package cluster

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/raft"

	"hometopology/internal/cluster/command"
	"hometopology/internal/config"
	"hometopology/internal/logging"
	"hometopology/internal/occupancy"
	"hometopology/internal/topology"
)

// FSM implements raft.FSM by dispatching deserialized Commands to a local
// Tree/Module pair. Only the Raft leader accepts writes; Apply runs
// identically on every node once a command is committed, so every replica
// converges to the same tree and occupancy state.
type FSM struct {
	tree   *topology.Tree
	module *occupancy.Module
	logger *slog.Logger
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM creates an FSM applying commands to tree and module in place.
func NewFSM(tree *topology.Tree, module *occupancy.Module, logger *slog.Logger) *FSM {
	return &FSM{
		tree:   tree,
		module: module,
		logger: logging.Default(logger).With("component", "cluster-fsm"),
	}
}

// Apply deserializes a committed Raft log entry and dispatches it.
// Returns nil on success or an error on failure; either is surfaced back to
// the caller that issued raft.Apply on the leader.
func (f *FSM) Apply(l *raft.Log) any {
	cmd, err := command.Unmarshal(l.Data)
	if err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	switch cmd.Op {
	case command.OpCreateLocation:
		return f.tree.CreateLocation(cmd.LocationID, cmd.Name, cmd.ParentID, cmd.IsExplicitRoot, cmd.Aliases, cmd.EntityIDs)
	case command.OpDeleteLocation:
		return f.tree.DeleteLocation(cmd.LocationID)
	case command.OpReparentLocation:
		return f.tree.Reparent(cmd.LocationID, cmd.ParentID)
	case command.OpTrigger:
		return f.module.Trigger(cmd.LocationID, cmd.SourceID, cmd.Timeout(), cmd.Now)
	case command.OpClear:
		return f.module.Clear(cmd.LocationID, cmd.SourceID, cmd.Timeout(), cmd.Now)
	case command.OpVacate:
		return f.module.Engine.Vacate(cmd.LocationID, cmd.Now)
	case command.OpVacateArea:
		_, err := f.module.Engine.VacateArea(cmd.LocationID, cmd.SourceID, cmd.IncludeLocked, cmd.Now)
		return err
	case command.OpLock:
		return f.module.Engine.Lock(cmd.LocationID, cmd.SourceID, cmd.Now)
	case command.OpUnlock:
		return f.module.Engine.Unlock(cmd.LocationID, cmd.SourceID, cmd.Now)
	case command.OpUnlockAll:
		return f.module.Engine.UnlockAll(cmd.LocationID, cmd.Now)
	default:
		return fmt.Errorf("unknown command op: %q", cmd.Op)
	}
}

// Snapshot captures the current tree and occupancy state for Raft log
// compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	cfg := config.FromTree(f.tree)
	snap := command.Snapshot{
		Locations: cfg.Locations,
		Occupancy: f.module.Engine.DumpState(),
	}
	data, err := command.MarshalSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the FSM's tree/module state with a snapshot. Raft
// guarantees this is never called concurrently with Apply or Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := command.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}

	newTree := topology.New()
	if err := config.ApplyToTree(newTree, &config.Config{Version: config.CurrentSchemaVersion, Locations: snap.Locations}); err != nil {
		return fmt.Errorf("restore tree: %w", err)
	}
	*f.tree = *newTree

	// Raft snapshots are internal replication, not disk stale-state recovery:
	// only contributions that expired more than maxSnapshotAge (a year) ago
	// are dropped.
	return f.module.Engine.RestoreState(snap.Occupancy, time.Now(), maxSnapshotAge)
}

const maxSnapshotAge = 365 * 24 * time.Hour

// fsmSnapshot holds serialized snapshot data, ready for raft to persist.
type fsmSnapshot struct {
	data []byte
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

// Persist writes the snapshot data to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op.
func (s *fsmSnapshot) Release() {}
