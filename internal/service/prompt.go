package service

import (
	"fmt"
	"strconv"
	"strings"

	"company-qa-go/internal/model"
)

// NoReferenceSentinel 是没有检索结果时放入提示词的固定标记。
// 系统提示要求模型看到它时不得编造内容，只能礼貌拒答并引导联系客服。
const NoReferenceSentinel = "（找不到相關的參考資料）"

// DefaultSupportContact 是拒答时引导访客使用的客服联系方式。
const DefaultSupportContact = "support@example.com 或撥打 02-1234-5678"

const systemPromptTemplate = `你是一位親切專業的客服助理，負責回答訪客關於公司服務的問題。

## 回答規則

1. **僅根據提供的參考資料回答**。不要編造公司沒有的服務或功能。
2. **使用繁體中文回答**，語氣親切、專業。
3. 如果參考資料中有相關連結，自然地在回答中包含連結。格式範例：「您可以在這裡查看詳情：[連結]」
4. 如果參考資料中沒有連結，就正常回答文字內容即可，不要提到「沒有連結」。
5. 如果有多個相關結果，將它們整合成一個完整的回答，必要時列出選項。
6. 如果訪客的問題太廣泛，可以詢問進一步的細節以縮小範圍。
7. 如果找不到相關答案（參考資料為「%s」），禮貌地回覆：「很抱歉，我目前無法回答這個問題。請透過 %s 聯繫我們的客服團隊，我們會盡快為您服務。」
8. 保持回答簡潔明瞭，避免冗長重複。

## 重要
- 絕對不要編造不在參考資料中的資訊
- 不要回答與公司服務無關的問題
- 如果不確定，寧可引導訪客聯繫客服`

// PromptBuilder 负责格式化参考资料并组装完整的对话消息。
type PromptBuilder struct {
	systemPrompt string
}

// NewPromptBuilder 创建 PromptBuilder。systemPrompt 为空时使用内置提示，
// supportContact 为空时使用 DefaultSupportContact。
func NewPromptBuilder(systemPrompt, supportContact string) *PromptBuilder {
	if supportContact == "" {
		supportContact = DefaultSupportContact
	}
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(systemPromptTemplate, NoReferenceSentinel, supportContact)
	}
	return &PromptBuilder{systemPrompt: systemPrompt}
}

// SystemPrompt 返回使用中的系统提示。
func (b *PromptBuilder) SystemPrompt() string {
	return b.systemPrompt
}

// BuildContext 把匹配结果按给定顺序编号格式化为参考资料块。
func (b *PromptBuilder) BuildContext(matches []model.Match) string {
	if len(matches) == 0 {
		return NoReferenceSentinel
	}

	blocks := make([]string, 0, len(matches))
	for i, m := range matches {
		var sb strings.Builder
		fmt.Fprintf(&sb, "【參考資料 %d】（相關度：%s）\n", i+1, strconv.FormatFloat(m.Score, 'f', -1, 64))
		fmt.Fprintf(&sb, "問題：%s\n", m.Metadata.Question)
		fmt.Fprintf(&sb, "答案：%s", m.Metadata.Answer)
		if m.Metadata.Link != "" {
			fmt.Fprintf(&sb, "\n連結：%s", m.Metadata.Link)
		}
		if m.Metadata.Category != "" {
			fmt.Fprintf(&sb, "\n分類：%s", m.Metadata.Category)
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt 组装消息：一条 system 消息、按原顺序的历史消息、一条包含查询与参考资料的 user 消息。
func (b *PromptBuilder) BuildPrompt(query, contextBlock string, history []model.ChatTurn) []model.ChatTurn {
	turns := make([]model.ChatTurn, 0, len(history)+2)
	turns = append(turns, model.ChatTurn{Role: model.RoleSystem, Content: b.systemPrompt})
	turns = append(turns, history...)
	turns = append(turns, model.ChatTurn{Role: model.RoleUser, Content: userMessage(query, contextBlock)})
	return turns
}

func userMessage(query, contextBlock string) string {
	return fmt.Sprintf("訪客問題：%s\n\n以下是從知識庫中檢索到的相關參考資料：\n\n%s\n\n請僅根據以上參考資料回答訪客的問題。", query, contextBlock)
}
