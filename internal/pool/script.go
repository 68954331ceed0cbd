package pool

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

// validLabel matches labels that can go into a job name, which is used both
// as a file name and inside #SBATCH lines.
var validLabel = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

const defaultJobTemplate = `#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --nodes={{.Nodes}}
#SBATCH --output={{.ScriptDir}}/{{.JobName}}.stdout
#SBATCH --error={{.ScriptDir}}/{{.JobName}}.stderr
{{- if .Walltime}}
#SBATCH --time={{.Walltime}}
{{- end}}
{{- if .Overrides}}
{{.Overrides}}
{{- end}}

{{.Command}}
`

// jobScript is the data a job template is rendered with.
type jobScript struct {
	JobName   string
	Nodes     int
	Command   string
	ScriptDir string
	Walltime  string
	Overrides string
}

func parseJobTemplate(text string) (*template.Template, error) {
	if text == "" {
		text = defaultJobTemplate
	}
	tmpl, err := template.New("job").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("pool: parse job template: %w", err)
	}
	return tmpl, nil
}

// writeJobScript renders data into <ScriptDir>/<JobName>.submit.
func writeJobScript(tmpl *template.Template, data jobScript) (string, error) {
	if data.JobName == "" || strings.ContainsAny(data.JobName, "/\\\r\n") || filepath.Base(data.JobName) != data.JobName {
		return "", fmt.Errorf("pool: job name %q is not a plain file name", data.JobName)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("pool: render job script: %w", err)
	}
	if err := os.MkdirAll(data.ScriptDir, 0o755); err != nil {
		return "", fmt.Errorf("pool: create script dir: %w", err)
	}
	path := filepath.Join(data.ScriptDir, data.JobName+".submit")
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return "", fmt.Errorf("pool: write job script: %w", err)
	}
	return path, nil
}
