package ops

import (
	"path"
	"strings"

	"github.com/kxvfs/convergefs/internal/vdt"
)

// Enumerate lists node's direct children, optionally filtered by a
// DOS-style wildcard pattern (spec.md §4's enumerate operation). An empty
// pattern or "*" matches everything without invoking path.Match at all, so
// the common case never pays for glob evaluation.
func Enumerate(node *vdt.Node, pattern string) []vdt.FileItem {
	var out []vdt.FileItem
	matchAll := pattern == "" || pattern == "*"
	foldPattern := strings.ToLower(pattern)

	node.WalkChildren(func(c *vdt.Node) bool {
		item := c.Item()
		if matchAll {
			out = append(out, item)
			return true
		}
		if ok, err := path.Match(foldPattern, strings.ToLower(item.Name)); err == nil && ok {
			out = append(out, item)
		}
		return true
	})
	return out
}
