// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
)

// Aleutian palette.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Label:   lipgloss.NewStyle().Foreground(colorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Success: lipgloss.NewStyle().Foreground(colorTealBright),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
}

// printer writes command output. Styling is applied only when out is a
// terminal; otherwise output is plain text suitable for pipes.
type printer struct {
	out    io.Writer
	styled bool
	json   bool
}

func newPrinter(out *os.File, asJSON bool) *printer {
	fd := out.Fd()
	return &printer{
		out:    out,
		styled: !asJSON && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
		json:   asJSON,
	}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(text string) {
	if p.json {
		return
	}
	fmt.Fprintln(p.out, p.render(styles.Title, text))
}

func (p *printer) success(text string) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(styles.Success, "✓"), text)
}

// status is success on stderr, for commands whose stdout carries data.
func (p *printer) status(text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", p.render(styles.Success, "✓"), text)
}

func (p *printer) warn(text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", p.render(styles.Warning, "⚠"), text)
}

func (p *printer) field(name string, value any) {
	fmt.Fprintf(p.out, "  %s %v\n", p.render(styles.Label, name+":"), value)
}

func (p *printer) box(title, content string) {
	if !p.styled {
		fmt.Fprintf(p.out, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, styles.Box.Width(72).Render(styles.Title.Render(title)+"\n"+content))
}

// emitJSON writes v as indented JSON. It reports whether JSON output is
// active, so callers can return early.
func (p *printer) emitJSON(v any) (bool, error) {
	if !p.json {
		return false, nil
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func (p *printer) graphSummary(g *model.KnowledgeGraph) error {
	if ok, err := p.emitJSON(g.Summarize()); ok {
		return err
	}
	p.success("Graph built")
	p.field("id", g.ID)
	p.field("name", g.Name)
	p.field("entities", g.EntityCount)
	p.field("relationships", g.RelationshipCount)
	return nil
}

func (p *printer) summaries(list []model.Summary) error {
	if ok, err := p.emitJSON(list); ok {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(p.out, p.render(styles.Muted, "No graphs stored."))
		return nil
	}
	p.title(fmt.Sprintf("%d graph(s)", len(list)))
	for _, s := range list {
		fmt.Fprintf(p.out, "  %s  %s %s\n",
			s.ID,
			s.Name,
			p.render(styles.Muted, fmt.Sprintf("(%d entities, %d relationships)", s.EntityCount, s.RelationshipCount)),
		)
	}
	return nil
}

func (p *printer) queryResult(res *query.QueryResult, labels map[string]string) error {
	if ok, err := p.emitJSON(res); ok {
		return err
	}
	p.box("Answer", res.Answer)
	p.field("confidence", fmt.Sprintf("%.2f", res.Confidence))
	for _, e := range res.RelevantEntities {
		fmt.Fprintf(p.out, "  • %s %s\n", e.Label,
			p.render(styles.Muted, fmt.Sprintf("%s score=%.2f", e.Type, e.Score)))
	}
	for _, path := range res.Paths {
		parts := make([]string, len(path))
		for i, step := range path {
			if i%2 == 0 {
				parts[i] = labelOr(labels, step)
			} else {
				parts[i] = step
			}
		}
		fmt.Fprintf(p.out, "  %s %s\n", p.render(styles.Label, "path:"), strings.Join(parts, " "))
	}
	if res.ExportStatement != "" {
		p.field("cypher", res.ExportStatement)
	}
	return nil
}

func labelOr(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return id
}
