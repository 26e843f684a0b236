package blackboard

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// 任意操作序列下 history 长度不减，且重放 history 得到的状态等于黑板当前状态。
func TestProperty_HistoryMonotonicAndReplayable(t *testing.T) {
	statuses := []string{"RUNNING", "AWAITING_RISK_APPROVAL", "RUNNING_REDLINE", "AWAITING_FINAL_APPROVAL", "COMPLETED", "FAILED"}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "clauses")
		bb := New(Metadata{RunID: "run-prop"}, "doc")
		clauses := make([]Clause, n)
		for i := range clauses {
			clauses[i] = Clause{ID: fmt.Sprintf("clause_%d", i+1), Index: i}
		}
		if _, err := bb.Write(&Delta{Clauses: clauses}); err != nil {
			rt.Fatalf("seed clauses: %v", err)
		}

		prevLen := bb.HistoryLen()
		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				status := rapid.SampledFrom(statuses).Draw(rt, "status")
				if _, err := bb.Commit(StatusDelta(status), HistoryEntry{
					Actor: "coordinator", Kind: EventStatusChanged, Status: status,
				}); err != nil {
					rt.Fatalf("status commit: %v", err)
				}
			case 1:
				idx := rapid.IntRange(1, n+2).Draw(rt, "clause")
				id := fmt.Sprintf("clause_%d", idx)
				// 越界 clause 会被拒绝，history 不应变化
				_, _ = bb.Commit(&Delta{Assessments: map[string]Assessment{id: {RiskLevel: RiskMedium}}},
					HistoryEntry{Actor: "risk_analyzer", Kind: EventAgentSucceeded})
			case 2:
				bb.AppendHistory(HistoryEntry{Actor: "worker", Kind: EventAgentFailed, Error: "boom"})
			case 3:
				_ = bb.Read(FieldHistory)
			}

			cur := bb.HistoryLen()
			if cur < prevLen {
				rt.Fatalf("history shrank from %d to %d", prevLen, cur)
			}
			prevLen = cur
		}

		snap := bb.Read()
		if got := Replay(snap.History); got != snap.Status {
			rt.Fatalf("replay = %q, status = %q", got, snap.Status)
		}
		for i, e := range snap.History {
			if e.Seq != int64(i+1) {
				rt.Fatalf("entry %d has seq %d", i, e.Seq)
			}
		}
	})
}
