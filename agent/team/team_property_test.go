package team

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
)

// MANAGER_WORKER 合并后的写集合恰好等于 manager 分片的覆盖范围：每个条款被处理且只被处理一次
func TestProperty_ManagerWorkerCoverage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("worker writes cover the partition exactly once", prop.ForAll(
		func(clauseCount int, workerCount int) bool {
			var b strings.Builder
			for i := 1; i <= clauseCount; i++ {
				fmt.Fprintf(&b, "## Clause %d\nThe vendor shall be liable for item %d.\n\n", i, i)
			}

			workers := make([]agent.Agent, 0, workerCount)
			for i := 1; i <= workerCount; i++ {
				workers = append(workers, agent.NewDefaultWorker(fmt.Sprintf("worker_%d", i)))
			}
			agents := append([]agent.Agent{agent.NewManagerAgent("manager", agent.NewParserAgent("parser"))}, workers...)
			tm, err := New("mw", PatternManagerWorker, "", agents)
			if err != nil {
				t.Logf("NewTeam failed: %v", err)
				return false
			}

			bb := blackboard.New(blackboard.Metadata{RunID: "prop"}, b.String())
			res, err := tm.Execute(context.Background(), bb, Request{Stage: agent.StageRisk})
			if err != nil {
				t.Logf("Execute failed: %v", err)
				return false
			}

			snap := bb.Read()
			if len(snap.Assessments) != clauseCount {
				t.Logf("expected %d assessments, got %d", clauseCount, len(snap.Assessments))
				return false
			}
			for _, id := range snap.ClauseIDs() {
				if _, ok := snap.Assessments[id]; !ok {
					t.Logf("clause %s not assessed", id)
					return false
				}
			}

			expectedItems := workerCount
			if clauseCount < workerCount {
				expectedItems = clauseCount
			}
			if res.WorkItems != expectedItems {
				t.Logf("expected %d work items, got %d", expectedItems, res.WorkItems)
				return false
			}

			// 每个 worker 恰好一条成功记录，外加 manager 与 join
			succeeded := 0
			for _, e := range snap.History {
				if e.Kind == blackboard.EventAgentSucceeded {
					succeeded++
				}
			}
			return succeeded == expectedItems+2
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestProperty_PartitionDisjointAndComplete(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("partition is disjoint, complete and balanced", prop.ForAll(
		func(n int, workers int) bool {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("clause_%d", n-i)
			}
			items := agent.Partition(ids, workers)

			scope := make(map[string]struct{}, n)
			for _, id := range ids {
				scope[id] = struct{}{}
			}
			if err := validatePartition(items, scope, workers); err != nil {
				t.Logf("invalid partition: %v", err)
				return false
			}

			minSize, maxSize := n, 0
			for _, item := range items {
				if len(item.ClauseIDs) < minSize {
					minSize = len(item.ClauseIDs)
				}
				if len(item.ClauseIDs) > maxSize {
					maxSize = len(item.ClauseIDs)
				}
			}
			return n == 0 || maxSize-minSize <= 1
		},
		gen.IntRange(0, 50),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
