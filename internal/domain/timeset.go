package domain

import (
	"sort"
	"time"
)

// 时间集合按时刻（而不是按字符串表示）比较，
// 同一时刻的不同时区表示被视为同一个元素。

// ContainsTime 判断 list 中是否存在与 t 同一时刻的元素
func ContainsTime(list []time.Time, t time.Time) bool {
	for _, v := range list {
		if v.Equal(t) {
			return true
		}
	}
	return false
}

// AddTime 追加 t（已存在时不变），返回新切片
func AddTime(list []time.Time, t time.Time) []time.Time {
	if ContainsTime(list, t) {
		return list
	}
	return append(list, t)
}

// RemoveTimes 返回 list 中不属于 drop 的元素
func RemoveTimes(list, drop []time.Time) []time.Time {
	out := make([]time.Time, 0, len(list))
	for _, v := range list {
		if !ContainsTime(drop, v) {
			out = append(out, v)
		}
	}
	return out
}

// UniqueTimes 去重并保持原有顺序
func UniqueTimes(list []time.Time) []time.Time {
	out := make([]time.Time, 0, len(list))
	for _, v := range list {
		out = AddTime(out, v)
	}
	return out
}

// SortTimes 按时间先后排序（原地）
func SortTimes(list []time.Time) {
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
}
