package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/types"
)

const sampleNDA = `# Non-Disclosure Agreement

## 1. Confidential Information
The parties agree to protect confidential information disclosed during the term of this agreement.

## 2. Obligations
Recipient shall not disclose confidential information to third parties without prior written consent.

## 3. Liability
Company shall be liable for any and all damages arising from breach of this agreement, including but not limited to direct, indirect, incidental, consequential, and punitive damages.

## 4. Term
This agreement shall remain in effect for a period of five (5) years from the date of execution.`

var samplePolicy = Policy{
	"liability_cap":        "12 months fees",
	"data_retention":       "90 days post-termination",
	"indemnity_exclusions": []any{"force majeure", "third-party claims"},
}

func snapshotWithClauses(t *testing.T, text string) blackboard.Snapshot {
	t.Helper()
	bb := blackboard.New(blackboard.Metadata{RunID: "run-1"}, text)
	_, err := bb.Write(&blackboard.Delta{Clauses: ParseClauses(text)})
	require.NoError(t, err)
	return bb.Read()
}

func TestParseClauses_Headings(t *testing.T) {
	clauses := ParseClauses(sampleNDA)
	require.Len(t, clauses, 4)

	assert.Equal(t, "clause_1", clauses[0].ID)
	assert.Equal(t, "1. Confidential Information", clauses[0].Heading)
	assert.Contains(t, clauses[0].Text, "protect confidential information")
	assert.Equal(t, "clause_4", clauses[3].ID)
	assert.Equal(t, 3, clauses[3].Index)
}

func TestParseClauses_Paragraphs(t *testing.T) {
	clauses := ParseClauses("First paragraph.\n\n\nSecond paragraph\ncontinues here.\r\n\r\nThird.")
	require.Len(t, clauses, 3)
	assert.Equal(t, "Second paragraph\ncontinues here.", clauses[1].Text)
	assert.Empty(t, clauses[1].Heading)
}

func TestParseClauses_Empty(t *testing.T) {
	assert.Empty(t, ParseClauses(""))
	assert.Empty(t, ParseClauses("# Title only"))
}

func TestParserAgent_Execute(t *testing.T) {
	p := NewParserAgent("")
	out, err := Invoke(context.Background(), p, &Input{Snapshot: blackboard.Snapshot{DocumentText: sampleNDA}})
	require.NoError(t, err)
	assert.Len(t, out.Delta.Clauses, 4)
	assert.Equal(t, "parsed 4 clauses", out.Summary)
	assert.Equal(t, "parser", p.Name())
}

func TestRiskAnalyzerAgent_Assess(t *testing.T) {
	a := NewRiskAnalyzerAgent("")
	snap := snapshotWithClauses(t, sampleNDA)

	out, err := Invoke(context.Background(), a, &Input{Stage: StageRisk, Snapshot: snap, Policy: samplePolicy})
	require.NoError(t, err)

	as := out.Delta.Assessments
	require.Len(t, as, 4)
	assert.Equal(t, blackboard.RiskHigh, as["clause_3"].RiskLevel)
	assert.Equal(t, []string{"liability_cap"}, as["clause_3"].PolicyRefs)
	assert.Contains(t, as["clause_3"].Rationale, "12 months fees")
	assert.Equal(t, blackboard.RiskLow, as["clause_1"].RiskLevel)
	assert.Equal(t, blackboard.RiskLow, as["clause_4"].RiskLevel)
}

func TestRiskAnalyzerAgent_PolicyRaisesLow(t *testing.T) {
	a := NewRiskAnalyzerAgent("ra")
	c := blackboard.Clause{ID: "clause_1", Text: "Supplier will retain personal data for two years."}

	plain := a.Assess(c, nil)
	assert.Equal(t, blackboard.RiskLow, plain.RiskLevel)

	withPolicy := a.Assess(c, samplePolicy)
	assert.Equal(t, blackboard.RiskMedium, withPolicy.RiskLevel)
	assert.Equal(t, []string{"data_retention"}, withPolicy.PolicyRefs)
}

func TestRiskAnalyzerAgent_IndemnityExclusions(t *testing.T) {
	a := NewRiskAnalyzerAgent("ra")
	tests := []struct {
		name     string
		text     string
		contains string
		absent   string
	}{
		{
			name:     "missing one exclusion",
			text:     "Supplier shall indemnify Buyer, except in cases of force majeure.",
			contains: "does not exclude third-party claims",
			absent:   "force majeure,",
		},
		{
			name:     "missing both",
			text:     "Supplier shall indemnify Buyer for all losses.",
			contains: "does not exclude force majeure, third-party claims",
		},
		{
			name:     "all present",
			text:     "Supplier shall indemnify Buyer, excluding force majeure and third-party claims.",
			contains: "all exclusions present",
			absent:   "does not exclude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assess(blackboard.Clause{ID: "clause_1", Text: tt.text}, samplePolicy)
			assert.Contains(t, got.PolicyRefs, "indemnity_exclusions")
			assert.Contains(t, got.Rationale, tt.contains)
			if tt.absent != "" {
				assert.NotContains(t, got.Rationale, tt.absent)
			}
		})
	}
}

func TestRiskAnalyzerAgent_RespectsScope(t *testing.T) {
	a := NewRiskAnalyzerAgent("")
	snap := snapshotWithClauses(t, sampleNDA)

	out, err := a.Execute(context.Background(), &Input{Snapshot: snap, Scope: []string{"clause_2"}})
	require.NoError(t, err)
	assert.Len(t, out.Delta.Assessments, 1)
	assert.Contains(t, out.Delta.Assessments, "clause_2")
}

func TestRedlineGeneratorAgent_Execute(t *testing.T) {
	snap := snapshotWithClauses(t, sampleNDA)
	snap.Assessments = map[string]blackboard.Assessment{
		"clause_1": {ClauseID: "clause_1", RiskLevel: blackboard.RiskLow},
		"clause_2": {ClauseID: "clause_2", RiskLevel: blackboard.RiskMedium},
		"clause_3": {ClauseID: "clause_3", RiskLevel: blackboard.RiskHigh},
	}

	g := NewRedlineGeneratorAgent("")
	out, err := Invoke(context.Background(), g, &Input{Stage: StageRedline, Snapshot: snap, Policy: samplePolicy})
	require.NoError(t, err)

	props := out.Delta.Proposals
	require.Len(t, props, 2)
	assert.Equal(t, VariantConservative, props["clause_3"].Variant)
	assert.Contains(t, props["clause_3"].ProposedText, "12 months fees")
	assert.Equal(t, VariantModerate, props["clause_2"].Variant)
	assert.Equal(t, snap.Clauses[1].Text, props["clause_2"].OriginalText)

	// 被排除在范围外的条款不生成修订
	out, err = g.Execute(context.Background(), &Input{Snapshot: snap, Scope: []string{"clause_2"}})
	require.NoError(t, err)
	assert.Len(t, out.Delta.Proposals, 1)
	assert.Contains(t, out.Delta.Proposals, "clause_2")
}

func TestPartition(t *testing.T) {
	ids := []string{"clause_10", "clause_1", "clause_2", "clause_3", "clause_4"}

	items := Partition(ids, 2)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"clause_1", "clause_2", "clause_3"}, items[0].ClauseIDs)
	assert.Equal(t, []string{"clause_4", "clause_10"}, items[1].ClauseIDs)

	assert.Len(t, Partition(ids, 10), 5)
	assert.Len(t, Partition(ids, 0), 1)
	assert.Nil(t, Partition(nil, 3))
}

func TestManagerAgent_ParsesThenPartitions(t *testing.T) {
	m := NewManagerAgent("manager", NewParserAgent("parser"))
	in := &Input{
		Stage:    StageRisk,
		Snapshot: blackboard.Snapshot{DocumentText: sampleNDA},
		Workers:  2,
	}

	out, err := Invoke(context.Background(), m, in)
	require.NoError(t, err)
	require.NotNil(t, out.Delta)
	assert.Len(t, out.Delta.Clauses, 4)
	require.Len(t, out.WorkItems, 2)
	assert.Equal(t, []string{"clause_1", "clause_2"}, out.WorkItems[0].ClauseIDs)
	assert.Equal(t, []string{"clause_3", "clause_4"}, out.WorkItems[1].ClauseIDs)
}

func TestManagerAgent_PartitionsScopeOnly(t *testing.T) {
	m := NewManagerAgent("manager", NewParserAgent("parser"))
	snap := snapshotWithClauses(t, sampleNDA)

	out, err := Invoke(context.Background(), m, &Input{
		Stage: StageRedline, Snapshot: snap, Scope: []string{"clause_3"}, Workers: 2,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Delta)
	require.Len(t, out.WorkItems, 1)
	assert.Equal(t, []string{"clause_3"}, out.WorkItems[0].ClauseIDs)
}

func TestWorkerAgent_RunsStageDelegatesOnItem(t *testing.T) {
	w := NewDefaultWorker("worker_1")
	assert.Equal(t, []Stage{StageRisk, StageRedline}, w.Stages())
	assert.ElementsMatch(t, []blackboard.Field{blackboard.FieldAssessments, blackboard.FieldProposals}, w.Writes())

	snap := snapshotWithClauses(t, sampleNDA)
	out, err := Invoke(context.Background(), w, &Input{
		Stage:    StageRisk,
		Snapshot: snap,
		Item:     &WorkItem{ID: "item_2", ClauseIDs: []string{"clause_3", "clause_4"}},
	})
	require.NoError(t, err)
	assert.Len(t, out.Delta.Assessments, 2)
	assert.Empty(t, out.Delta.Proposals)
	assert.Contains(t, out.Summary, "item_2")

	_, err = Invoke(context.Background(), w, &Input{Stage: StageRisk, Snapshot: snap})
	assert.Error(t, err)
}

func TestInvoke_RecoversPanic(t *testing.T) {
	a := NewFuncAgent("boom", CapabilityRiskAnalysis, func(ctx context.Context, in *Input) (*Output, error) {
		panic("kaboom")
	})

	_, err := Invoke(context.Background(), a, &Input{})
	require.Error(t, err)
	ae, ok := AsAgentError(err)
	require.True(t, ok)
	assert.Equal(t, "boom", ae.Agent)
	assert.Contains(t, ae.Cause.Error(), "kaboom")
	assert.True(t, types.IsErrorCode(err, types.ErrAgentFailed))
}

func TestInvoke_WrapsErrors(t *testing.T) {
	cause := errors.New("backend timeout")
	a := NewFuncAgent("remote", CapabilityRedline, func(ctx context.Context, in *Input) (*Output, error) {
		return nil, cause
	})

	_, err := Invoke(context.Background(), a, &Input{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, types.ErrAgentFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "remote")
}

func TestInvoke_RejectsUndeclaredWrite(t *testing.T) {
	a := NewFuncAgent("sneaky", CapabilityRiskAnalysis, func(ctx context.Context, in *Input) (*Output, error) {
		return &Output{Delta: &blackboard.Delta{Proposals: map[string]blackboard.Proposal{"clause_1": {}}}}, nil
	})

	_, err := Invoke(context.Background(), a, &Input{})
	assert.ErrorIs(t, err, ErrUndeclaredWrite)
}

func TestInvoke_RejectsWorkItemsFromNonManager(t *testing.T) {
	a := NewFuncAgent("planner", CapabilityRiskAnalysis, func(ctx context.Context, in *Input) (*Output, error) {
		return &Output{WorkItems: []WorkItem{{ID: "x"}}}, nil
	})

	_, err := Invoke(context.Background(), a, &Input{})
	assert.ErrorIs(t, err, ErrUnexpectedWorkItems)
}

func TestInvoke_NilOutputAndCancelledContext(t *testing.T) {
	a := NewFuncAgent("nil", CapabilityParse, func(ctx context.Context, in *Input) (*Output, error) {
		return nil, nil
	})
	_, err := Invoke(context.Background(), a, &Input{})
	assert.ErrorIs(t, err, ErrNilOutput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Invoke(ctx, a, &Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoke_PacketReadsChecked(t *testing.T) {
	ra := NewRiskAnalyzerAgent("ra")
	packet := NewPacket(blackboard.Snapshot{DocumentText: sampleNDA})

	_, err := Invoke(context.Background(), ra, &Input{Stage: StageRisk, Packet: packet})
	assert.ErrorIs(t, err, ErrMissingInput)

	parsed, err := Invoke(context.Background(), NewParserAgent("p"), &Input{Packet: packet})
	require.NoError(t, err)
	next := packet.Next(parsed.Delta)
	assert.True(t, next.Has(blackboard.FieldClauses))
	assert.False(t, packet.Has(blackboard.FieldClauses))

	out, err := Invoke(context.Background(), ra, &Input{Stage: StageRisk, Packet: next})
	require.NoError(t, err)
	assert.Len(t, out.Delta.Assessments, 4)
}

func TestPolicy_Accessors(t *testing.T) {
	v, ok := samplePolicy.String("liability_cap")
	assert.True(t, ok)
	assert.Equal(t, "12 months fees", v)

	_, ok = samplePolicy.String("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"force majeure", "third-party claims"}, samplePolicy.Strings("indemnity_exclusions"))
	assert.Equal(t, []string{"data_retention", "indemnity_exclusions", "liability_cap"}, samplePolicy.Keys())
	assert.Equal(t, []string{"governing"}, Topics("governing_venue"))

	var nilPolicy Policy
	assert.Empty(t, nilPolicy.Clone())
}
