package property

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// identityFields name an array element across rewrites: nodes by name and
// app, connections and destinations by extension and app, flows by name,
// conversion rules by path
var identityFields = []string{"name", "extension", "app", "path"}

var canonicalOptions = func() *pretty.Options {
	opts := *pretty.DefaultOptions
	opts.SortKeys = true
	return &opts
}()

// patchRaw expresses next as edits to prev. Keys and array elements present
// in both keep their position and formatting; new ones are appended and
// missing ones removed.
func patchRaw(prev, next []byte) ([]byte, error) {
	if sameJSON(prev, next) {
		return prev, nil
	}
	p, n := gjson.ParseBytes(prev), gjson.ParseBytes(next)
	switch {
	case p.IsObject() && n.IsObject():
		return patchObject(p, n)
	case p.IsArray() && n.IsArray():
		return patchArray(p, n)
	}
	return next, nil
}

func patchObject(prev, next gjson.Result) ([]byte, error) {
	old := make(map[string]gjson.Result)
	prev.ForEach(func(k, v gjson.Result) bool {
		old[k.String()] = v
		return true
	})
	keep := make(map[string]bool)
	next.ForEach(func(k, _ gjson.Result) bool {
		keep[k.String()] = true
		return true
	})

	out := []byte(prev.Raw)
	var err error
	for key := range old {
		if keep[key] {
			continue
		}
		if out, err = sjson.DeleteBytes(out, escapeKey(key)); err != nil {
			return nil, err
		}
	}

	next.ForEach(func(k, v gjson.Result) bool {
		val := []byte(v.Raw)
		if o, ok := old[k.String()]; ok {
			if val, err = patchRaw([]byte(o.Raw), val); err != nil {
				return false
			}
			if bytes.Equal(val, []byte(o.Raw)) {
				return true
			}
		}
		out, err = sjson.SetRawBytes(out, escapeKey(k.String()), val)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// patchArray rebuilds the array in next's order, reusing the previous
// element with the same identity (or, for anonymous elements, the same index)
func patchArray(prev, next gjson.Result) ([]byte, error) {
	olds := prev.Array()
	used := make([]bool, len(olds))

	var items [][]byte
	for i, v := range next.Array() {
		j := matchElement(olds, used, v, i)
		if j < 0 {
			items = append(items, []byte(v.Raw))
			continue
		}
		used[j] = true
		item, err := patchRaw([]byte(olds[j].Raw), []byte(v.Raw))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	out := append([]byte{'['}, bytes.Join(items, []byte{','})...)
	return append(out, ']'), nil
}

func matchElement(olds []gjson.Result, used []bool, v gjson.Result, i int) int {
	if id, ok := identity(v); ok {
		for j, o := range olds {
			if oid, ok := identity(o); !used[j] && ok && oid == id {
				return j
			}
		}
		return -1
	}
	if i < len(olds) && !used[i] {
		if _, named := identity(olds[i]); !named {
			return i
		}
	}
	return -1
}

func identity(r gjson.Result) (string, bool) {
	if !r.IsObject() {
		return "", false
	}
	var b strings.Builder
	for _, f := range identityFields {
		if v := r.Get(f); v.Exists() {
			b.WriteString(f)
			b.WriteByte('=')
			b.WriteString(v.Raw)
			b.WriteByte(';')
		}
	}
	return b.String(), b.Len() > 0
}

func sameJSON(a, b []byte) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

func canonical(raw []byte) []byte {
	return pretty.Ugly(pretty.PrettyOptions(raw, canonicalOptions))
}

// escapeKey quotes the path syntax characters of an object key
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`\.*?|#@!:`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
