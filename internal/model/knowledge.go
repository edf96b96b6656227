package model

// KnowledgeRecord 是知识库表格中的一行有效记录，字段已去除首尾空白。
type KnowledgeRecord struct {
	RowNumber int
	ID        string
	Question  string
	Answer    string
	Link      string
	Category  string
	Keywords  string
}
