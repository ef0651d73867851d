package kdb

import (
	"encoding/json"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und)
)

func typeRank(v interface{}) int {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if !x {
			return 1
		}
		return 2
	case float64, json.Number:
		return 3
	case string:
		return 4
	case []interface{}:
		return 5
	case map[string]interface{}:
		return 6
	}
	return 7
}

// CompareKeys orders decoded JSON values the way view keys are collated:
// null, false, true, numbers, strings, arrays, objects. Strings compare by
// Unicode collation; arrays and objects compare member by member.
func CompareKeys(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case float64, json.Number:
		fa, _ := toNumber(a)
		fb, _ := toNumber(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case string:
		return compareStrings(x, b.(string))
	case []interface{}:
		y := b.([]interface{})
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := CompareKeys(x[i], y[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(x), len(y))
	case map[string]interface{}:
		y := b.(map[string]interface{})
		xk, yk := objectKeys(x), objectKeys(y)
		for i := 0; i < len(xk) && i < len(yk); i++ {
			if c := compareStrings(xk[i], yk[i]); c != 0 {
				return c
			}
			if c := CompareKeys(x[xk[i]], y[yk[i]]); c != 0 {
				return c
			}
		}
		return compareInts(len(xk), len(yk))
	}
	return 0
}

func compareStrings(a, b string) int {
	if a == b {
		return 0
	}
	collatorMu.Lock()
	c := collator.CompareString(a, b)
	collatorMu.Unlock()
	if c != 0 {
		return c
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func objectKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
