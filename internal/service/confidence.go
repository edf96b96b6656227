package service

import (
	"math"

	"company-qa-go/internal/model"
)

// Confidence 仅根据检索得分计算置信度：(平均分 + 最高分) / 2，保留 4 位小数。
// 为空时返回 0。
func Confidence(matches []model.Match) float64 {
	if len(matches) == 0 {
		return 0.0
	}
	var sum float64
	top := matches[0].Score
	for _, m := range matches {
		sum += m.Score
		top = math.Max(top, m.Score)
	}
	avg := sum / float64(len(matches))
	return round4((avg + top) / 2)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
