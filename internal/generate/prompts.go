package generate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"docforge/api/internal/store"
)

type promptData struct {
	Project  store.Project
	Enhanced bool
}

var promptFuncs = template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}

var prompts = map[store.DocumentType]*template.Template{
	store.DocumentOverview:  mustPrompt("overview", overviewPrompt),
	store.DocumentTechnical: mustPrompt("technical", technicalPrompt),
	store.DocumentUIUX:      mustPrompt("ui-ux", uiuxPrompt),
}

var editTemplate = template.Must(template.New("edit").Parse(strings.TrimSpace(editPrompt)))

func mustPrompt(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(promptFuncs).Parse(strings.TrimSpace(projectPreamble + body)))
}

// CanGenerate reports whether documents of this type have a drafting prompt.
func CanGenerate(docType store.DocumentType) bool {
	_, ok := prompts[docType]
	return ok
}

// BuildPrompt renders the drafting prompt for a document type from the project.
func BuildPrompt(docType store.DocumentType, project store.Project) (string, error) {
	tmpl, ok := prompts[docType]
	if !ok {
		return "", fmt.Errorf("no prompt for document type %q", docType)
	}
	return render(tmpl, promptData{Project: project, Enhanced: project.EnhancedMode})
}

type editData struct {
	Instruction string
	Content     string
	Enhanced    bool
}

// BuildEditPrompt asks the model to revise existing HTML per instruction.
func BuildEditPrompt(content, instruction string, enhanced bool) (string, error) {
	return render(editTemplate, editData{Instruction: instruction, Content: content, Enhanced: enhanced})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// projectPreamble defines the "details" block the drafting prompts embed.
const projectPreamble = `{{define "details"}}
Project name: {{.Project.Name}}
{{- with .Project.Idea}}
Idea: {{.}}{{end}}
{{- with .Project.Description}}
Description: {{.}}{{end}}
{{- with .Project.TechStack}}
Tech stack: {{join .}}{{end}}
{{- with .Project.Features}}
Key features: {{join .}}{{end}}
{{- with .Project.TargetAudience}}
Target audience: {{.}}{{end}}
{{end}}`

const overviewPrompt = `
{{if .Enhanced}}Write polished, professional project documentation as clean semantic HTML suitable for a rich text editor.{{else}}Write complete project documentation as clean semantic HTML.{{end}}
{{template "details" .}}
Use exactly these sections, each an <h2> inside a <section>:
1. Project Overview: purpose and value.
2. Tech Stack: recommended technologies and why.
3. Features: a short introduction followed by a <ul> with one <li> per feature.
4. Platform Recommendation: web, mobile or hybrid, with reasoning.

Rules:
- Do not repeat the project details above as their own section.
- Return HTML only, no Markdown fences or commentary.
`

const technicalPrompt = `
{{if .Enhanced}}Write in-depth technical documentation as semantic HTML suitable for a rich text editor, consistent with the project overview.{{else}}Write technical documentation as semantic HTML.{{end}}
{{template "details" .}}
Use these <h2> sections in order: System Architecture, Data Model, API Design, Security, Deployment, Testing Strategy.
Under System Architecture describe component relationships, data flow and integration points as lists.
Under API Design list endpoints with method, path and purpose in a <table>.
{{- if .Enhanced}}
Add scalability considerations and trade-offs under each section.{{end}}

Return HTML only, no Markdown fences or commentary.
`

const uiuxPrompt = `
{{if .Enhanced}}Write a detailed UI/UX specification as semantic HTML suitable for a rich text editor.{{else}}Write a UI/UX specification as semantic HTML.{{end}}
{{template "details" .}}
Use these <h2> sections in order: User Personas, User Flows, Information Architecture, Screens, Design System, Accessibility.
Under Screens add an <h3> per screen with its purpose and key components.
{{- if .Enhanced}}
Include interaction states and responsive behaviour for each screen.{{end}}

Return HTML only, no Markdown fences or commentary.
`

const editPrompt = `
{{if .Enhanced}}You are an expert technical writer. Improve the HTML content below following this instruction:{{else}}Revise the HTML content below following this instruction:{{end}}
"{{.Instruction}}"

Keep the existing structure unless the instruction asks otherwise. Return only valid HTML, no Markdown fences or commentary.

{{.Content}}
`
