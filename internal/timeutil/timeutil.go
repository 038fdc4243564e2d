// Package timeutil 统一节点心跳与任务时间的格式，与节点代理写入的格式一致。
package timeutil

import (
	"time"

	"github.com/duke-git/lancet/v2/datetime"
)

// DateTimeFormat 时间格式 2006-01-02 15:04:05
const DateTimeFormat = "yyyy-mm-dd hh:mm:ss"

// Format 按指定时区格式化时间
func Format(t time.Time, loc *time.Location) string {
	return datetime.FormatTimeToStr(t.In(loc), DateTimeFormat)
}

// Parse 按指定时区解析时间字符串
func Parse(s string, loc *time.Location) (time.Time, error) {
	return datetime.FormatStrToTime(s, DateTimeFormat, loc.String())
}
