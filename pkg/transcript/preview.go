package transcript

const (
	// DefaultTitle 是没有消息的会话显示的标题。
	DefaultTitle = "New chat"
	// TitleBudget 是从第一条消息中保留的字符数。
	TitleBudget = 20
	// titleEllipsis 标记被截断的标题。
	titleEllipsis = "..."
)

// PreviewTitle 由会话的第一条消息生成标题。
func PreviewTitle(firstContent string) string {
	runes := []rune(firstContent)
	if len(runes) <= TitleBudget {
		return firstContent
	}
	return string(runes[:TitleBudget]) + titleEllipsis
}
