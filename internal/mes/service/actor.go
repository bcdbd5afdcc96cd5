package service

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

// Actor 当前操作人上下文
type Actor struct {
	UserID    string
	UserName  string
	CompanyID string
	Location  *time.Location // 用户时区，决定"今天"
}

// Loc 用户时区，未设置时为UTC
func (a Actor) Loc() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

// Today 用户时区下now所在的日历日期
func (a Actor) Today(now time.Time) time.Time {
	return entity.NormalizeDate(now.In(a.Loc()))
}

// LoadLocation 解析IANA时区名称，失败时返回fallback
func LoadLocation(name string, fallback *time.Location) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// ParseDate 解析 YYYY-MM-DD 日期
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return entity.NormalizeDate(t), nil
}
