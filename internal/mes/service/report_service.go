package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/quantity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/shared/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var shiftReportHeaders = []string{"会话", "状态", "产线", "生产日期", "兜底", "工单", "产品", "已生产", "待生产", "完成"}

// ReportService 班次报表导出与归档
type ReportService struct {
	*base
	store storage.ObjectStore
}

// ExportShift 导出班次会话生产行，from/to 为空表示不限
func (s *ReportService) ExportShift(ctx context.Context, actor Actor, shiftID string, from, to *time.Time) (*excelize.File, string, error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.ExportShift")
	defer span.End()

	shift, err := s.repos.Shift.FindByID(ctx, shiftID)
	if err != nil {
		return nil, "", notFound("shift", err)
	}
	sessions, err := s.repos.Session.FindWithLines(ctx, repository.SessionFilter{
		ShiftID:  shiftID,
		DateFrom: from,
		DateTo:   to,
	}, nil)
	if err != nil {
		return nil, "", fmt.Errorf("list sessions: %w", err)
	}
	// 汇总只统计本次导出的会话
	today := actor.Today(s.now())
	var c entity.ShiftCounters
	for _, session := range sessions {
		var late, onToday int64
		date := entity.NormalizeDate(session.Date())
		if date.Before(today) {
			late = 1
		} else if date.Equal(today) {
			onToday = 1
		}
		c.Add(session.State, 1, late, onToday)
	}

	f := excelize.NewFile()
	sheet := "Sessions"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range shiftReportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	row := 2
	var totalProduced float64
	for _, session := range sessions {
		workline := ""
		if session.Workline != nil {
			workline = session.Workline.Name
		}
		rescue := "否"
		if session.Rescue {
			rescue = "是"
		}
		writeSession := func() {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), session.Name)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), session.State)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), workline)
			f.SetCellValue(sheet, fmt.Sprintf("D%d", row), session.Date().Format("2006-01-02"))
			f.SetCellValue(sheet, fmt.Sprintf("E%d", row), rescue)
		}
		// 无生产行的会话也占一行
		if len(session.Lines) == 0 {
			writeSession()
			row++
			continue
		}
		for _, line := range session.Lines {
			writeSession()
			rounding := lineRounding(&line)
			if line.Production != nil {
				f.SetCellValue(sheet, fmt.Sprintf("F%d", row), line.Production.WOCode)
				f.SetCellValue(sheet, fmt.Sprintf("G%d", row), line.Production.ProductName)
			}
			f.SetCellValue(sheet, fmt.Sprintf("H%d", row), quantity.Round(line.QtyProduced, rounding))
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), quantity.Round(line.QtyToProduce, rounding))
			done := "否"
			if line.IsProduced {
				done = "是"
			}
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), done)
			totalProduced += line.QtyProduced
			row++
		}
	}

	// 底部汇总行
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "汇总")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("会话: %d", c.CountSession))
	f.SetCellValue(sheet, fmt.Sprintf("C%d", row), fmt.Sprintf("草稿/确认/生产/关闭: %d/%d/%d/%d",
		c.CountSessionDraft, c.CountSessionConfirmed, c.CountSessionProduced, c.CountSessionClosed))
	f.SetCellValue(sheet, fmt.Sprintf("D%d", row), fmt.Sprintf("逾期: %d 今日: %d", c.CountSessionLate, c.CountSessionToday))
	f.SetCellValue(sheet, fmt.Sprintf("H%d", row), totalProduced)
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("J%d", row), summaryStyle)

	colWidths := []float64{28, 10, 14, 12, 6, 16, 20, 10, 10, 6}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("Shift_%s_%s.xlsx", shift.Code, actor.Today(s.now()).Format("20060102"))
	return f, filename, nil
}

// ArchiveShift 导出班次报表并上传到对象存储，返回对象key
func (s *ReportService) ArchiveShift(ctx context.Context, actor Actor, shiftID string, from, to *time.Time) (string, error) {
	if s.store == nil {
		return "", ErrArchiveDisabled
	}

	f, _, err := s.ExportShift(ctx, actor, shiftID, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	shift, err := s.repos.Shift.FindByID(ctx, shiftID)
	if err != nil {
		return "", notFound("shift", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}

	key := fmt.Sprintf("mes-reports/%s/%s.xlsx", shift.Code, s.now().UTC().Format("20060102T150405Z"))
	if err := s.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), xlsxContentType); err != nil {
		return "", fmt.Errorf("上传报表失败: %w", err)
	}

	s.logger.Info("Shift report archived",
		zap.String("shift_id", shiftID),
		zap.String("key", key),
		zap.Int("bytes", buf.Len()),
		zap.String("operator", actor.UserID),
	)
	return key, nil
}
