package clock

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Clock 统一时间源（全部使用UTC）
type Clock interface {
	Now() time.Time
}

// Real 系统时钟
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake 固定时钟（测试用）
type Fake struct {
	Current time.Time
}

func NewFake(t time.Time) *Fake { return &Fake{Current: t.UTC()} }

func (f *Fake) Now() time.Time { return f.Current }

// Advance 推进固定时钟
func (f *Fake) Advance(d time.Duration) { f.Current = f.Current.Add(d) }

// IsRelative 判断是否为相对时间记号（如 "+3d"、"-2h"、"+1w"）
func IsRelative(value string) bool {
	if len(value) < 3 {
		return false
	}
	if value[0] != '+' && value[0] != '-' {
		return false
	}
	switch value[len(value)-1] {
	case 'm', 'h', 'd', 'w':
	default:
		return false
	}
	_, err := strconv.Atoi(value[1 : len(value)-1])
	return err == nil
}

// ResolveRelative 在求值时刻把相对时间记号换算为绝对时间
// 支持单位：m（分钟）、h（小时）、d（天）、w（周）
func ResolveRelative(value string, now time.Time) (time.Time, error) {
	if !IsRelative(value) {
		return time.Time{}, fmt.Errorf("invalid relative time token: %q", value)
	}

	n, err := strconv.Atoi(value[1 : len(value)-1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid relative time token: %q", value)
	}

	var unit time.Duration
	switch value[len(value)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	}

	d := time.Duration(n) * unit
	if strings.HasPrefix(value, "-") {
		d = -d
	}
	return now.Add(d), nil
}

// Weighted 带权重的候选项
type Weighted struct {
	Item   string
	Weight float64
}

// PickWeighted 按累计权重均匀采样选取一项
func PickWeighted(choices []Weighted, r *rand.Rand) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices given")
	}

	var total float64
	for _, c := range choices {
		if c.Weight < 0 {
			return "", fmt.Errorf("negative weight for %q", c.Item)
		}
		total += c.Weight
	}
	if total <= 0 {
		return "", fmt.Errorf("total weight must be positive")
	}

	target := r.Float64() * total
	var cumulative float64
	for _, c := range choices {
		cumulative += c.Weight
		if target < cumulative {
			return c.Item, nil
		}
	}
	// 浮点累计误差时退回最后一项
	return choices[len(choices)-1].Item, nil
}
