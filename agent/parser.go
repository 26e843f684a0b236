package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

var headingPattern = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)

// ParserAgent 将文档原文切分为条款。
// 有 Markdown 标题时以标题分段，否则按空行分段；没有正文的标题（如文档标题）被忽略。
type ParserAgent struct {
	name string
}

// NewParserAgent 创建条款切分 Agent
func NewParserAgent(name string) *ParserAgent {
	if name == "" {
		name = "parser"
	}
	return &ParserAgent{name: name}
}

func (a *ParserAgent) Name() string { return a.name }
func (a *ParserAgent) Capability() Capability { return CapabilityParse }
func (a *ParserAgent) Stages() []Stage { return []Stage{StageRisk} }

func (a *ParserAgent) Reads() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldDocumentText}
}

func (a *ParserAgent) Writes() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldClauses}
}

// Execute 切分条款
func (a *ParserAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	clauses := ParseClauses(in.DocumentText())
	return &Output{
		Delta:   &blackboard.Delta{Clauses: clauses},
		Summary: fmt.Sprintf("parsed %d clauses", len(clauses)),
	}, nil
}

// ParseClauses 将文本切分为条款，ID 为 clause_1..n
func ParseClauses(text string) []blackboard.Clause {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	hasHeadings := false
	for _, line := range lines {
		if headingPattern.MatchString(strings.TrimSpace(line)) {
			hasHeadings = true
			break
		}
	}

	var sections []blackboard.Clause
	if hasHeadings {
		sections = splitByHeadings(lines)
	} else {
		sections = splitByParagraphs(lines)
	}

	clauses := make([]blackboard.Clause, 0, len(sections))
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		s.Index = len(clauses)
		s.ID = fmt.Sprintf("clause_%d", s.Index+1)
		clauses = append(clauses, s)
	}
	return clauses
}

func splitByHeadings(lines []string) []blackboard.Clause {
	var (
		out     []blackboard.Clause
		heading string
		body    []string
		started bool
	)
	flush := func() {
		if !started && len(body) == 0 {
			return
		}
		out = append(out, blackboard.Clause{
			Heading: heading,
			Text:    strings.TrimSpace(strings.Join(body, "\n")),
		})
	}
	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			heading = m[1]
			body = body[:0]
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

func splitByParagraphs(lines []string) []blackboard.Clause {
	var (
		out  []blackboard.Clause
		para []string
	)
	flush := func() {
		if len(para) == 0 {
			return
		}
		out = append(out, blackboard.Clause{Text: strings.TrimSpace(strings.Join(para, "\n"))})
		para = para[:0]
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	flush()
	return out
}
