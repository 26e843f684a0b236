package blackboard

import "math"

// Replay 按顺序重放历史，返回最终状态。
// 只有 status_changed 事件会改变状态。
func Replay(history []HistoryEntry) string {
	status := ""
	var last int64
	for _, e := range history {
		if e.Seq != 0 && e.Seq <= last {
			// 乱序条目不参与重放
			continue
		}
		last = e.Seq
		if e.Kind == EventStatusChanged && e.Status != "" {
			status = e.Status
		}
	}
	return status
}

// StatusTimeline 返回历史中依次出现的状态序列
func StatusTimeline(history []HistoryEntry) []string {
	var out []string
	for _, e := range history {
		if e.Kind == EventStatusChanged && e.Status != "" {
			out = append(out, e.Status)
		}
	}
	return out
}

// RiskScore 根据评估计算 0-100 的风险分：round(100 × Σweight / (3 × n))
func RiskScore(assessments map[string]Assessment) int {
	if len(assessments) == 0 {
		return 0
	}
	total := 0
	for _, a := range assessments {
		total += a.RiskLevel.Weight()
	}
	return int(math.Round(100 * float64(total) / float64(3*len(assessments))))
}

// CountByLevel 按风险等级统计评估数量
func CountByLevel(assessments map[string]Assessment) map[RiskLevel]int {
	out := map[RiskLevel]int{RiskHigh: 0, RiskMedium: 0, RiskLow: 0}
	for _, a := range assessments {
		out[a.RiskLevel]++
	}
	return out
}
