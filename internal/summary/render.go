package summary

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/grouper"
)

// Markdown renders a summary as markdown, one section per category with the
// Miscellaneous section last.
func Markdown(s content.Summary) string {
	if len(s.Categories) == 0 {
		return "No summary content available for this day."
	}

	var main, misc []content.Category
	for _, c := range s.Categories {
		if c.Topic == grouper.MiscellaneousLabel {
			misc = append(misc, c)
		} else {
			main = append(main, c)
		}
	}

	var sections []string
	for _, c := range append(main, misc...) {
		sections = append(sections, renderCategory(c))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func renderCategory(c content.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", c.Title)
	for _, e := range c.Content {
		fmt.Fprintf(&b, "\n- %s", strings.TrimSpace(e.Text))
		for _, src := range e.Sources {
			fmt.Fprintf(&b, " [source](%s)", src)
		}
		for _, img := range e.Images {
			fmt.Fprintf(&b, "\n\n  ![](%s)", img)
		}
		for _, vid := range e.Videos {
			fmt.Fprintf(&b, "\n\n  [video](%s)", vid)
		}
	}
	return b.String()
}
