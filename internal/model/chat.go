package model

// 对话角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn 是一条角色消息。历史记录按时间先后排列，最早的在前。
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Outcome 标记引擎本次选择的回答路径。
type Outcome string

const (
	// OutcomeAnswered 表示有检索结果作为依据。
	OutcomeAnswered Outcome = "answered"
	// OutcomeDeclinedNoMatch 表示没有达到阈值的检索结果，提示词中使用了无参考资料的标记。
	OutcomeDeclinedNoMatch Outcome = "declined_no_match"
)

// ChatResult 是一次问答的完整结果。
type ChatResult struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	Confidence     float64  `json:"confidence"`
	LatencySeconds float64  `json:"latency_seconds"`
	Model          string   `json:"model"`
	MatchesFound   int      `json:"matches_found"`
	Cached         bool     `json:"cached,omitempty"`
	Outcome        Outcome  `json:"outcome"`
}

// Clone 返回一份不与原值共享底层切片的副本。
func (r ChatResult) Clone() ChatResult {
	out := r
	if r.Sources != nil {
		out.Sources = make([]Source, len(r.Sources))
		copy(out.Sources, r.Sources)
	}
	return out
}
