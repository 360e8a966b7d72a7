package lua

import (
	"fmt"
	"math"
	"sort"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/BDNK1/scriptval/runtime"
)

// toLuaArgs converts the arguments of a registry call. Results become
// their proxy tables and file contexts become arrays of path strings.
func toLuaArgs(L *glua.LState, args []any) ([]glua.LValue, error) {
	out := make([]glua.LValue, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case *result:
			out[i] = a.tbl
		case *runtime.FileContext:
			paths, err := a.Paths()
			if err != nil {
				return nil, err
			}
			out[i] = goToLua(L, paths)
		default:
			out[i] = goToLua(L, arg)
		}
	}
	return out, nil
}

func goToLua(L *glua.LState, v any) glua.LValue {
	switch val := v.(type) {
	case nil:
		return glua.LNil
	case glua.LValue:
		return val
	case bool:
		return glua.LBool(val)
	case string:
		return glua.LString(val)
	case int:
		return glua.LNumber(val)
	case int32:
		return glua.LNumber(val)
	case int64:
		return glua.LNumber(val)
	case uint64:
		return glua.LNumber(val)
	case float32:
		return glua.LNumber(val)
	case float64:
		return glua.LNumber(val)
	case time.Time:
		return glua.LString(val.Format(time.RFC3339))
	case time.Duration:
		return glua.LString(val.String())
	case []string:
		tbl := L.NewTable()
		for _, s := range val {
			tbl.Append(glua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return glua.LString(fmt.Sprint(val))
	}
}

// luaToGo converts a Lua value to plain Go. Tables with only positive
// integer keys become slices; other tables become maps with string keys.
func luaToGo(v glua.LValue) any {
	switch val := v.(type) {
	case *glua.LNilType:
		return nil
	case glua.LBool:
		return bool(val)
	case glua.LString:
		return string(val)
	case glua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *glua.LTable:
		if n := val.MaxN(); n > 0 && countKeys(val) == n {
			items := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, luaToGo(val.RawGetInt(i)))
			}
			return items
		}
		m := make(map[string]any)
		val.ForEach(func(k, item glua.LValue) {
			m[k.String()] = luaToGo(item)
		})
		return m
	default:
		return v.String()
	}
}

func countKeys(tbl *glua.LTable) int {
	n := 0
	tbl.ForEach(func(glua.LValue, glua.LValue) { n++ })
	return n
}

// sortedKeys is used for deterministic diagnostics.
func sortedKeys(tbl *glua.LTable) []string {
	var keys []string
	tbl.ForEach(func(k, _ glua.LValue) {
		keys = append(keys, k.String())
	})
	sort.Strings(keys)
	return keys
}
