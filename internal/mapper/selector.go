package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cssIdentifier is the safe subset of id/class names used verbatim in a
// derived selector. Anything else (generated ids with ':' etc.) is skipped.
var cssIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// maxPathDepth bounds the ancestor walk when nothing identifiable exists.
const maxPathDepth = 8

// DeriveSelector builds a stable CSS selector for the captured element: the
// element's own id when it has one, otherwise a class/tag/nth-of-type path
// anchored at the nearest identifiable ancestor.
func DeriveSelector(sel *goquery.Selection) string {
	node := sel.First()
	if node.Length() == 0 {
		return ""
	}

	if id := usableID(node); id != "" {
		return "#" + id
	}

	var segments []string
	for cur, depth := node, 0; cur.Length() > 0 && depth < maxPathDepth; cur, depth = cur.Parent(), depth+1 {
		tag := goquery.NodeName(cur)
		if tag == "body" || tag == "html" || strings.HasPrefix(tag, "#") {
			break
		}
		if id := usableID(cur); id != "" {
			segments = append([]string{"#" + id}, segments...)
			return strings.Join(segments, " > ")
		}
		segments = append([]string{segment(cur, tag)}, segments...)
	}
	return strings.Join(segments, " > ")
}

// segment describes one element: tag plus a class when a usable one exists,
// else an nth-of-type disambiguator when same-tag siblings do.
func segment(cur *goquery.Selection, tag string) string {
	if cls := usableClass(cur); cls != "" {
		return tag + "." + cls
	}
	if cur.PrevAll().Filter(tag).Length() > 0 || cur.NextAll().Filter(tag).Length() > 0 {
		position := cur.PrevAll().Filter(tag).Length() + 1
		return fmt.Sprintf("%s:nth-of-type(%d)", tag, position)
	}
	return tag
}

func usableID(sel *goquery.Selection) string {
	id, ok := sel.Attr("id")
	if !ok || !cssIdentifier.MatchString(id) {
		return ""
	}
	return id
}

func usableClass(sel *goquery.Selection) string {
	classes, ok := sel.Attr("class")
	if !ok {
		return ""
	}
	for _, cls := range strings.Fields(classes) {
		if cssIdentifier.MatchString(cls) {
			return cls
		}
	}
	return ""
}
