package entity

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// NamePlaceholder 名称缺少任一组成部分时的占位名称
const NamePlaceholder = "/"

// RescuePrefix 兜底会话名称前缀
const RescuePrefix = "RESCUE"

// SessionName 会话名称：<产线编码>/<YYMMDD>/<班次编码>
func SessionName(worklineCode string, date time.Time, shiftCode string) string {
	if worklineCode == "" || shiftCode == "" || date.IsZero() {
		return NamePlaceholder
	}
	return fmt.Sprintf("%s/%s/%s", worklineCode, date.Format("060102"), shiftCode)
}

// RescueSessionName 兜底会话名称：RESCUE/<YYMMDD>/<班次编码>
func RescueSessionName(date time.Time, shiftCode string) string {
	return SessionName(RescuePrefix, date, shiftCode)
}

// LineName 生产行名称：<会话名称> - <工单号>
func LineName(sessionName, orderName string) string {
	if sessionName == "" || orderName == "" {
		return NamePlaceholder
	}
	return sessionName + " - " + orderName
}

// ValidCode 编码非空、不超过5个字符且不含 "/"
func ValidCode(code string) bool {
	if strings.TrimSpace(code) == "" || strings.Contains(code, "/") {
		return false
	}
	return utf8.RuneCountInString(code) <= MaxCodeLength
}

// NormalizeDate 取日历日期，统一为UTC零点
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
