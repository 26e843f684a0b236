// Copyright 2024 ContractFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent provides the agent contract for the contract redlining orchestrator.

# Overview

An Agent is a stateless, single-responsibility unit of document-processing logic.
It reads a Blackboard snapshot (or, in PIPELINE teams, a typed Packet handed over by
the previous agent) and returns a Delta. Agents never write to the Blackboard
themselves; the owning Team commits the Delta and records exactly one history entry
per invocation.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                      Agent Interface                        │
	│  (Name, Capability, Stages, Reads, Writes, Execute)         │
	├─────────────────────────────────────────────────────────────┤
	│  Parser │ RiskAnalyzer │ RedlineGenerator │ Manager │ Worker │
	├─────────────────────────────────────────────────────────────┤
	│                       FuncAgent                             │
	│           (plug-in point for external NLP/LLM logic)        │
	└─────────────────────────────────────────────────────────────┘

# Stages

Agents declare the stages they take part in. Stage "risk" runs before the risk
approval gate and stage "redline" after it. Manager and Worker agents take part
in both stages.

# Contract

Invoke wraps Execute and enforces the contract: panics are recovered, writes to
undeclared fields fail the agent, and only manager agents may emit work items.
Every failure is reported as an *AgentError, which unwraps to a types.Error with
code AGENT_FAILED.

# Usage

	team, err := team.NewTeam("sequential_team", team.PatternSequential, "",
	    agent.NewParserAgent("parser"),
	    agent.NewRiskAnalyzerAgent("risk_analyzer"),
	    agent.NewRedlineGeneratorAgent("redline_generator"),
	)
*/
package agent
