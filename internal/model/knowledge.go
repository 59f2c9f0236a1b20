package model

// KnowledgeEntry 代表一条静态知识库条目。进程启动时加载，此后只读。
type KnowledgeEntry struct {
	Topic    string   `json:"topic" mapstructure:"topic"`
	Content  string   `json:"content" mapstructure:"content"`
	Keywords []string `json:"keywords" mapstructure:"keywords"`
}

// RetrievalResult 是一次检索命中的条目及其相关度得分。
// 仅在单次请求内存活，提示词组装完成后即丢弃。
type RetrievalResult struct {
	Topic     string `json:"topic"`
	Content   string `json:"content"`
	Relevance int    `json:"relevance"`
}
