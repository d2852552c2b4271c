package csvimport

// TemplateHeader is the exact header row the parser's column positions assume.
const TemplateHeader = "Milestone Title,Milestone Description,Task Title,Task Description,Resources (comma-separated),Due Date (YYYY-MM-DD)"

// TemplateFilename is the suggested download name for the template document.
const TemplateFilename = "roadmap-template.csv"

var templateRows = []string{
	`Foundation Phase,Get the basics in place,Complete onboarding call,Meet your advisor and agree on goals,"""https://example.com/onboarding-guide""",2025-02-01`,
	`Foundation Phase,Get the basics in place,Draft personal development plan,Write down objectives for the engagement,"""https://example.com/templates/pdp"", ""https://example.com/goal-setting""",2025-02-15`,
	`Development Phase,Work through the core program,Complete first project review,Submit work for advisor feedback,"""https://example.com/review-checklist""",2025-03-10`,
	`Development Phase,Work through the core program,Attend monthly strategy session,"Prepare questions, notes and blockers beforehand",,2025-03-31`,
	`Advanced Phase,Consolidate and plan next steps,Present final outcomes,Walk through results and agree on follow-up,"""https://example.com/presentation-tips""",2025-04-30`,
}

// Template returns the downloadable CSV document documenting the expected
// column layout. The output is static and always parses back into three
// milestones via Parse.
func Template() string {
	doc := TemplateHeader
	for _, row := range templateRows {
		doc += "\n" + row
	}
	return doc + "\n"
}
