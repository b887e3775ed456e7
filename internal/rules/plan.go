package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/models"
)

// parsedCond 解析后的条件，值已按字段类型落定
type parsedCond struct {
	field string
	def   fieldDef
	op    string
	str   string
	b     bool
	n     int
	t     time.Time
}

func isInequality(op string) bool {
	switch op {
	case models.OpLess, models.OpLessEqual, models.OpGreaterEqual, models.OpGreater:
		return true
	}
	return false
}

func parseCondition(fields map[string]fieldDef, cond models.Condition, now time.Time) (parsedCond, error) {
	def, ok := fields[cond.Field]
	if !ok {
		return parsedCond{}, fmt.Errorf("unknown condition field: %s", cond.Field)
	}

	switch cond.Op {
	case models.OpEqual, models.OpNotEqual:
	case models.OpLess, models.OpLessEqual, models.OpGreaterEqual, models.OpGreater:
		if def.kind != kindInt && def.kind != kindTime {
			return parsedCond{}, fmt.Errorf("operator %s not supported on field %s", cond.Op, cond.Field)
		}
	default:
		return parsedCond{}, fmt.Errorf("unknown condition operator: %s", cond.Op)
	}

	pc := parsedCond{field: cond.Field, def: def, op: cond.Op}

	switch def.kind {
	case kindString:
		pc.str = cond.Value
	case kindBool:
		switch cond.Value {
		case "true":
			pc.b = true
		case "false":
			pc.b = false
		default:
			return parsedCond{}, fmt.Errorf("invalid bool value for field %s: %s", cond.Field, cond.Value)
		}
	case kindInt:
		n, err := strconv.Atoi(cond.Value)
		if err != nil {
			return parsedCond{}, fmt.Errorf("invalid int value for field %s: %s", cond.Field, cond.Value)
		}
		pc.n = n
	case kindTime:
		if clock.IsRelative(cond.Value) {
			t, err := clock.ResolveRelative(cond.Value, now)
			if err != nil {
				return parsedCond{}, fmt.Errorf("invalid relative time for field %s: %w", cond.Field, err)
			}
			pc.t = t
		} else {
			t, err := time.Parse(time.RFC3339, cond.Value)
			if err != nil {
				return parsedCond{}, fmt.Errorf("invalid time value for field %s: %s", cond.Field, cond.Value)
			}
			pc.t = t
		}
	}

	return pc, nil
}

// ValidateConditions 在事件写入时校验条件，求值阶段不再重复报错
func ValidateConditions(model string, conds []models.Condition) error {
	fields, err := fieldsFor(model)
	if err != nil {
		return err
	}
	for _, cond := range conds {
		if _, err := parseCondition(fields, cond, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// Plan 一次求值的查询计划
// 等式全部下推到 SQL；不等式最多下推一个，其余在内存里过滤
type Plan struct {
	model string
	Where string
	Args  []interface{}
	post  []parsedCond
}

// Compile 把条件编译成查询计划，相对时间按 now 换算
func Compile(model string, conds []models.Condition, now time.Time) (*Plan, error) {
	fields, err := fieldsFor(model)
	if err != nil {
		return nil, err
	}

	plan := &Plan{model: model}
	var clauses []string
	inequalityUsed := false

	for _, cond := range conds {
		pc, err := parseCondition(fields, cond, now)
		if err != nil {
			return nil, err
		}

		if isInequality(pc.op) && inequalityUsed {
			plan.post = append(plan.post, pc)
			continue
		}

		arg := pc.argValue()
		placeholder := fmt.Sprintf("$%d", len(plan.Args)+1)

		switch pc.op {
		case models.OpEqual:
			clauses = append(clauses, fmt.Sprintf("%s = %s", pc.def.column, placeholder))
		case models.OpNotEqual:
			clauses = append(clauses, fmt.Sprintf("%s <> %s", pc.def.column, placeholder))
		case models.OpLess, models.OpLessEqual:
			// 字段为空的实体不参与小于比较
			clauses = append(clauses, fmt.Sprintf("(%s IS NOT NULL AND %s %s %s)", pc.def.column, pc.def.column, pc.op, placeholder))
			inequalityUsed = true
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", pc.def.column, pc.op, placeholder))
			inequalityUsed = true
		}
		plan.Args = append(plan.Args, arg)
	}

	plan.Where = strings.Join(clauses, " AND ")
	return plan, nil
}

func (pc parsedCond) argValue() interface{} {
	switch pc.def.kind {
	case kindBool:
		return pc.b
	case kindInt:
		return pc.n
	case kindTime:
		return pc.t
	default:
		return pc.str
	}
}

// MatchDevice 内存过滤：设备是否通过计划的剩余条件
func (p *Plan) MatchDevice(d *models.Device) bool {
	return p.match(func(field string) (interface{}, bool) {
		return deviceValue(d, field)
	})
}

// MatchShelf 内存过滤：货架是否通过计划的剩余条件
func (p *Plan) MatchShelf(s *models.Shelf) bool {
	return p.match(func(field string) (interface{}, bool) {
		return shelfValue(s, field)
	})
}

func (p *Plan) match(value func(field string) (interface{}, bool)) bool {
	for _, pc := range p.post {
		v, ok := value(pc.field)
		if !ok {
			// 字段为空：任何比较都不命中
			return false
		}
		if !pc.compare(v) {
			return false
		}
	}
	return true
}

func (pc parsedCond) compare(v interface{}) bool {
	switch pc.def.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return false
		}
		if pc.op == models.OpNotEqual {
			return s != pc.str
		}
		return s == pc.str
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		if pc.op == models.OpNotEqual {
			return b != pc.b
		}
		return b == pc.b
	case kindInt:
		n, ok := v.(int)
		if !ok {
			return false
		}
		switch pc.op {
		case models.OpLess:
			return n < pc.n
		case models.OpLessEqual:
			return n <= pc.n
		case models.OpEqual:
			return n == pc.n
		case models.OpNotEqual:
			return n != pc.n
		case models.OpGreaterEqual:
			return n >= pc.n
		case models.OpGreater:
			return n > pc.n
		}
	case kindTime:
		t, ok := v.(time.Time)
		if !ok {
			return false
		}
		switch pc.op {
		case models.OpLess:
			return t.Before(pc.t)
		case models.OpLessEqual:
			return !t.After(pc.t)
		case models.OpEqual:
			return t.Equal(pc.t)
		case models.OpNotEqual:
			return !t.Equal(pc.t)
		case models.OpGreaterEqual:
			return !t.Before(pc.t)
		case models.OpGreater:
			return t.After(pc.t)
		}
	}
	return false
}
