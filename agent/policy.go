package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Policy 生效的策略规则（playbook rules），原样传给 Agent
type Policy map[string]any

// Keys 返回排序后的规则键
func (p Policy) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String 以字符串形式读取规则
func (p Policy) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	default:
		return fmt.Sprint(val), true
	}
}

// Strings 以字符串列表形式读取规则
func (p Policy) Strings(key string) []string {
	switch val := p[key].(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return nil
	}
}

// Clone 返回浅拷贝
func (p Policy) Clone() Policy {
	if p == nil {
		return Policy{}
	}
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// 已知规则键对应的条款主题
var policyTopics = map[string][]string{
	"liability_cap":        {"liab"},
	"data_retention":       {"retention", "retain", "personal data"},
	"indemnity_exclusions": {"indemn"},
	"governing_law":        {"governing law", "jurisdiction"},
	"termination_notice":   {"terminat"},
	"confidentiality_term": {"confidential"},
}

// Topics 返回规则键涉及的主题词；未知键取第一个单词
func Topics(key string) []string {
	if t, ok := policyTopics[key]; ok {
		return t
	}
	first := strings.SplitN(strings.ToLower(key), "_", 2)[0]
	if first == "" {
		return nil
	}
	return []string{first}
}

// MatchingRules 返回主题出现在文本中的规则键（排序）
func (p Policy) MatchingRules(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, key := range p.Keys() {
		for _, topic := range Topics(key) {
			if strings.Contains(lower, topic) {
				out = append(out, key)
				break
			}
		}
	}
	return out
}
