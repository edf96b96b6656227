package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"company-qa-go/internal/model"
)

// ParseSheet 解析知识库表格（CSV，第一行为表头）。
//
// 表头不区分大小写，必须包含 question 与 answer 列；可选列 id、link、category、
// keywords、active。存在 active 列时只保留值为 TRUE 的行；question 或 answer 为空的
// 行被跳过。RowNumber 从 1 开始计数，表头为第 1 行。返回值还包括扫描过的数据行数。
func ParseSheet(r io.Reader) ([]model.KnowledgeRecord, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read sheet header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	var missing []string
	for _, required := range []string{"question", "answer"} {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("sheet is missing required columns: %s", strings.Join(missing, ", "))
	}
	_, hasActive := columns["active"]

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []model.KnowledgeRecord
	scanned := 0
	for rowNumber := 2; ; rowNumber++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, scanned, fmt.Errorf("failed to read sheet row %d: %w", rowNumber, err)
		}
		scanned++

		if hasActive && !strings.EqualFold(field(row, "active"), "TRUE") {
			continue
		}
		rec := model.KnowledgeRecord{
			RowNumber: rowNumber,
			ID:        field(row, "id"),
			Question:  field(row, "question"),
			Answer:    field(row, "answer"),
			Link:      field(row, "link"),
			Category:  field(row, "category"),
			Keywords:  field(row, "keywords"),
		}
		if rec.Question == "" || rec.Answer == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, scanned, nil
}
