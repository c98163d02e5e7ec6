// Package export renders a filtered slice of knowledge-base content as a
// Markdown document. It is a pure read-only consumer of the effective
// collection and section metadata.
package export

import (
	"fmt"
	"strings"

	"github.com/lemonadev03/kbmd/internal/kb"
)

// Document carries everything the renderer needs. FAQs should be the
// effective collection; the renderer applies its own per-section ordering so
// export output always matches on-screen order.
type Document struct {
	Sections    []kb.Section
	PhaseGroups []kb.PhaseGroup
	FAQs        []kb.FAQ
	Variables   []kb.Variable
	CustomRules string
}

// Markdown renders the document according to the preset options. Sections are
// included when selected directly or through a selected phase group; sections
// are emitted in their display order.
func Markdown(doc Document, options kb.ExportOptions) string {
	var builder strings.Builder
	builder.WriteString("# Knowledge Base\n\n")

	if options.IncludeCustomRules && doc.CustomRules != "" {
		builder.WriteString("## System Prompt Logic\n\n")
		builder.WriteString(doc.CustomRules)
		builder.WriteString("\n\n")
	}

	if options.IncludeVariables && len(doc.Variables) > 0 {
		builder.WriteString("## Variables\n\n")
		builder.WriteString("| Key | Value |\n")
		builder.WriteString("|-----|-------|\n")
		for _, variable := range doc.Variables {
			fmt.Fprintf(&builder, "| `%s` | %s |\n", variable.Key, variable.Value)
		}
		builder.WriteString("\n")
	}

	selected := selectedSectionIDs(doc.Sections, options)
	faqsBySection := make(map[string][]kb.FAQ, len(doc.Sections))
	for _, faq := range doc.FAQs {
		faqsBySection[faq.SectionID] = append(faqsBySection[faq.SectionID], faq)
	}

	for _, section := range doc.Sections {
		if _, ok := selected[section.ID]; !ok {
			continue
		}

		fmt.Fprintf(&builder, "# %s\n\n", section.Name)

		sectionFaqs := append([]kb.FAQ(nil), faqsBySection[section.ID]...)
		if len(sectionFaqs) == 0 {
			builder.WriteString("*No FAQs in this section.*\n\n")
			continue
		}
		kb.SortFAQs(sectionFaqs)

		for _, faq := range sectionFaqs {
			fmt.Fprintf(&builder, "## %s\n\n", faq.Question)
			fmt.Fprintf(&builder, "%s\n\n", faq.Answer)
			if strings.TrimSpace(faq.Notes) != "" {
				fmt.Fprintf(&builder, "*Note: %s*\n\n", faq.Notes)
			}
		}
	}

	return builder.String()
}

// selectedSectionIDs resolves the preset selection: section ids selected
// directly, plus every section belonging to a selected phase group.
func selectedSectionIDs(sections []kb.Section, options kb.ExportOptions) map[string]struct{} {
	selected := make(map[string]struct{}, len(options.SectionIDs))
	for _, id := range options.SectionIDs {
		selected[id] = struct{}{}
	}
	groups := make(map[string]struct{}, len(options.PhaseGroupIDs))
	for _, id := range options.PhaseGroupIDs {
		groups[id] = struct{}{}
	}
	for _, section := range sections {
		if section.PhaseGroupID == nil {
			continue
		}
		if _, ok := groups[*section.PhaseGroupID]; ok {
			selected[section.ID] = struct{}{}
		}
	}
	return selected
}
