package botcore

// Update 描述一次来自聊天界面的标准化输入。
type Update struct {
	ID       string            // 输入的唯一 ID
	SenderID string            // 触发用户标识
	ChatID   string            // 会话窗口标识（终端、单次命令等）
	Text     string            // 用户输入的文本
	Metadata map[string]string // 扩展键值，如所选模型
}

// CloneMetadata 返回一份 Metadata 拷贝，防止 Handler 意外修改底层数据。
func (u Update) CloneMetadata() map[string]string {
	if len(u.Metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(u.Metadata))
	for k, v := range u.Metadata {
		out[k] = v
	}
	return out
}

// Meta 读取单个扩展键，缺失时返回空串。
func (u Update) Meta(key string) string {
	if u.Metadata == nil {
		return ""
	}
	return u.Metadata[key]
}
