// Package report 生成会话统计的 Excel 报表
package report

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"habit-monitor/internal/models"
	"habit-monitor/internal/tracker"
)

const (
	summarySheetName  = "Summary"
	episodesSheetName = "Habit Sessions"
)

// episodesHeader 习惯区间表头
var episodesHeader = []string{
	"#",
	"Start Time",
	"End Time",
	"Duration (seconds)",
	"Duration",
}

// Generate 生成会话统计 Excel 报表
// 包含汇总页与逐条习惯区间页，stats 为空时报错
func Generate(stats *models.SessionStats) ([]byte, error) {
	if stats == nil {
		return nil, fmt.Errorf("stats is required")
	}

	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	index, err := f.NewSheet(summarySheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if _, err := f.NewSheet(episodesSheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create episodes sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummarySheet(f, stats, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeEpisodesSheet(f, stats, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	// Write to bytes buffer
	// Note: File must remain open during Write operation
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteFile 生成报表并写入文件
func WriteFile(stats *models.SessionStats, path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}

	data, err := Generate(stats)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// writeSummarySheet 写入汇总页（标签列带表头样式）
func writeSummarySheet(f *excelize.File, stats *models.SessionStats, labelStyle int) error {
	totalHabit := time.Duration(stats.TotalHabitTimeSeconds * float64(time.Second))
	sessionCount := len(stats.HabitSessions)

	average := time.Duration(0)
	if sessionCount > 0 {
		average = totalHabit / time.Duration(sessionCount)
	}

	rows := []struct {
		label string
		value interface{}
	}{
		{"Session Start", formatTime(stats.SessionStartTime)},
		{"Last Saved", formatTime(stats.LastSavedAt)},
		{"Total Detections", stats.TotalDetections},
		{"Total Habit Time", tracker.FormatDuration(totalHabit)},
		{"Habit Sessions", sessionCount},
		{"Average Session", tracker.FormatDuration(average)},
	}

	for i, row := range rows {
		labelCell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(summarySheetName, labelCell, row.label); err != nil {
			return fmt.Errorf("failed to set summary label %s: %w", labelCell, err)
		}
		if err := f.SetCellStyle(summarySheetName, labelCell, labelCell, labelStyle); err != nil {
			return fmt.Errorf("failed to set summary label style: %w", err)
		}
		if err := setCell(f, summarySheetName, 2, i+1, row.value); err != nil {
			return fmt.Errorf("failed to set summary value at row %d: %w", i+1, err)
		}
	}

	if err := f.SetColWidth(summarySheetName, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(summarySheetName, "B", "B", 28); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}

// writeEpisodesSheet 写入逐条习惯区间页
func writeEpisodesSheet(f *excelize.File, stats *models.SessionStats, headerStyle int) error {
	// 写入表头
	for col, header := range episodesHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(episodesSheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(episodesSheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 设置列宽
	columnWidths := []float64{
		6,  // #
		22, // Start Time
		22, // End Time
		18, // Duration (seconds)
		12, // Duration
	}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(episodesSheetName, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 写入数据
	for rowIdx, session := range stats.HabitSessions {
		row := rowIdx + 2 // 从第2行开始（第1行是表头）
		duration := time.Duration(session.DurationSeconds * float64(time.Second))

		values := []interface{}{
			rowIdx + 1,
			formatTime(session.StartTime),
			formatTime(session.EndTime),
			session.DurationSeconds,
			tracker.FormatDuration(duration),
		}
		for col, value := range values {
			if err := setCell(f, episodesSheetName, col+1, row, value); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(episodesSheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

// setCell 设置单元格值
func setCell(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

// formatTime 时间格式化（零值返回空串）
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
