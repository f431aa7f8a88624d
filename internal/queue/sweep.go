package queue

import (
	"context"
	"fmt"
	"time"

	"drover/internal/logging"
	"drover/internal/procutil"
	"drover/internal/registry"
)

// RecoverOrphans heals claims left by processes that are gone.
//
// Live workers whose heartbeat is older than heartbeatTimeout are terminated
// and dropped from the registry first. Registry rows whose pid fails the
// liveness probe are then deleted. Finally every job claimed by a pid without
// a registry row is released, so it is eligible again after this single
// sweep. A process that registers while the sweep runs keeps its claims.
// A zero heartbeatTimeout disables the watchdog.
func (q *Queue) RecoverOrphans(ctx context.Context, reg *registry.Registry, prober procutil.Prober, heartbeatTimeout time.Duration) (SweepResult, error) {
	var result SweepResult

	if heartbeatTimeout > 0 {
		cutoff := q.now().Add(-heartbeatTimeout)
		stale, err := reg.Stale(ctx, cutoff)
		if err != nil {
			return result, err
		}
		for _, proc := range stale {
			if proc.Command != registry.CommandWorker {
				continue
			}
			if prober.Alive(proc.PID) {
				if err := prober.Terminate(proc.PID); err != nil {
					logging.WarnWithContext(q.logger, "hung worker not terminated", "worker_terminate_failed",
						logging.Int(logging.FieldPID, proc.PID),
						logging.Error(err),
						logging.String(logging.FieldImpact, "its claims are released; the process may keep running"),
					)
				} else {
					result.Terminated = append(result.Terminated, proc.PID)
				}
			}
			removed, err := reg.DeleteIfStale(ctx, proc.PID, cutoff)
			if err != nil {
				return result, err
			}
			if removed {
				logging.WarnWithContext(q.logger, "worker heartbeat expired", "worker_heartbeat_expired",
					logging.Int(logging.FieldPID, proc.PID),
					logging.Time("heartbeat_at", proc.HeartbeatAt),
					logging.Duration("timeout", heartbeatTimeout),
					logging.String(logging.FieldImpact, "the worker's jobs are released for another attempt"),
				)
			}
		}
	}

	procs, err := reg.List(ctx)
	if err != nil {
		return result, err
	}
	live := make(map[int]struct{}, len(procs))
	for _, proc := range procs {
		if prober.Alive(proc.PID) {
			live[proc.PID] = struct{}{}
			continue
		}
		if err := reg.DeleteByPID(ctx, proc.PID); err != nil {
			return result, err
		}
		result.RemovedProcesses = append(result.RemovedProcesses, proc.PID)
	}

	claimants, err := q.claimants(ctx)
	if err != nil {
		return result, err
	}
	for _, pid := range claimants {
		if _, ok := live[pid]; ok {
			continue
		}
		released, err := q.UnclaimOrphaned(ctx, pid)
		if err != nil {
			return result, err
		}
		if released > 0 {
			result.Released += released
			q.logger.Info("orphaned claims released",
				logging.Int(logging.FieldPID, pid),
				logging.Int("jobs", released),
				logging.String(logging.FieldEventType, "orphans_released"),
			)
		}
	}
	return result, nil
}

func (q *Queue) claimants(ctx context.Context) ([]int, error) {
	rows, err := q.db.Query(ctx, "SELECT DISTINCT claimed_by FROM jobs WHERE claimed_by IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("list claimants: %w", err)
	}
	defer rows.Close()
	var pids []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		pids = append(pids, pid)
	}
	return pids, rows.Err()
}
