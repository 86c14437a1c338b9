package fetchplan

import (
	"os"

	"equityflow/config"
	"equityflow/logger"
	"equityflow/models"
	"equityflow/writer"
)

// Workers returns the fetch worker count for a machine with numCPU cores:
// 80% of the cores rounded down, never less than one.
func Workers(numCPU int) int {
	w := numCPU * 4 / 5
	if w < 1 {
		w = 1
	}
	return w
}

// Distribute splits a total worker budget across n shards so the sum never
// exceeds the budget. Leading shards absorb the remainder. Every shard needs a
// worker to drain its jobs, so with more shards than budget each shard still
// gets one.
func Distribute(total, n int) []int {
	if n < 1 {
		return nil
	}
	out := make([]int, n)
	base := total / n
	extra := total % n
	for i := range out {
		out[i] = base
		if i < extra {
			out[i]++
		}
		if out[i] < 1 {
			out[i] = 1
		}
	}
	return out
}

// Plan is the expanded set of per-day download jobs for a run.
type Plan struct {
	Jobs    []models.FetchJob
	Skipped int // jobs dropped because their output file already exists
}

// Build expands symbol ranges into one FetchJob per calendar day in
// [Start, End), with Start == End meaning the single start day. When
// overwrite is disabled, jobs whose target file already exists are dropped
// here so a re-run performs no network calls for them. Duplicate
// (symbol, day) pairs collapse to a single job.
func Build(ranges []config.SymbolRange, kind models.DataKind, root string, overwrite bool) Plan {
	log := logger.GetLogger().WithComponent("fetchplan")

	var plan Plan
	seen := make(map[string]struct{})

	for _, r := range ranges {
		days := int(r.End.Sub(r.Start).Hours() / 24)
		if days < 1 {
			// Missing or inverted end date queries the start day only.
			days = 1
		}
		for i := 0; i < days; i++ {
			day := r.Start.AddDate(0, 0, i)
			path := writer.PathFor(root, r.Symbol, day)

			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}

			if !overwrite {
				if _, err := os.Stat(path); err == nil {
					plan.Skipped++
					logger.IncrementSkippedExisting()
					log.WithFields(logger.Fields{
						"symbol": r.Symbol,
						"date":   day.Format(config.DateLayout),
						"path":   path,
					}).Debug("output file exists, skipping day")
					continue
				}
			}

			plan.Jobs = append(plan.Jobs, models.FetchJob{
				Symbol: r.Symbol,
				Date:   day,
				Kind:   kind,
				Path:   path,
			})
		}
	}

	log.WithFields(logger.Fields{
		"symbols": len(ranges),
		"jobs":    len(plan.Jobs),
		"skipped": plan.Skipped,
	}).Info("fetch plan built")

	return plan
}

// Partition splits the plan's jobs across shards by symbol membership. Jobs
// for symbols not covered by any shard stay on the first shard so nothing is
// silently dropped. With no shards configured, the whole plan runs unsharded.
func Partition(plan Plan, shards *config.Shards) []ShardJobs {
	if shards == nil || len(shards.Shards) == 0 {
		return []ShardJobs{{Jobs: plan.Jobs}}
	}

	bySymbol := make(map[string]int)
	out := make([]ShardJobs, len(shards.Shards))
	for i, s := range shards.Shards {
		out[i].IP = s.IP
		for _, sym := range s.Symbols {
			bySymbol[sym] = i
		}
	}

	for _, job := range plan.Jobs {
		idx, ok := bySymbol[job.Symbol]
		if !ok {
			idx = 0
		}
		out[idx].Jobs = append(out[idx].Jobs, job)
	}
	return out
}

// ShardJobs is the slice of jobs assigned to one source IP.
type ShardJobs struct {
	IP   string
	Jobs []models.FetchJob
}
