// Package qccheck holds the website quality-control checklist and an
// inspector that fills in the checks a headless browser can verify.
package qccheck

import (
	"math"
	"strings"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type Item struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// Checklist is the fixed set of checks every project carries.
var Checklist = []Item{
	{ID: "responsive", Label: "Diseño Responsivo", Category: "UX"},
	{ID: "speed", Label: "Velocidad de Carga < 3s", Category: "Performance"},
	{ID: "seo", Label: "Meta Tags SEO", Category: "SEO"},
	{ID: "ssl", Label: "Certificado SSL", Category: "Security"},
	{ID: "forms", Label: "Formularios Funcionando", Category: "Functionality"},
	{ID: "links", Label: "Links sin Errores 404", Category: "Functionality"},
	{ID: "images", Label: "Imágenes Optimizadas", Category: "Performance"},
	{ID: "favicon", Label: "Favicon Configurado", Category: "Branding"},
	{ID: "analytics", Label: "Analytics Instalado", Category: "Tracking"},
	{ID: "backup", Label: "Backup Configurado", Category: "Security"},
}

func IsCheck(id string) bool {
	for _, item := range Checklist {
		if item.ID == id {
			return true
		}
	}
	return false
}

// NewChecklist returns every check set to false.
func NewChecklist() map[string]bool {
	out := make(map[string]bool, len(Checklist))
	for _, item := range Checklist {
		out[item.ID] = false
	}
	return out
}

// Status derives the project status from its checks.
func Status(checks map[string]bool) string {
	done := passed(checks)
	switch {
	case done == len(Checklist):
		return StatusCompleted
	case done > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}

// Progress is the rounded percentage of passed checks.
func Progress(checks map[string]bool) int {
	return int(math.Round(float64(passed(checks)) * 100 / float64(len(Checklist))))
}

func passed(checks map[string]bool) int {
	n := 0
	for _, item := range Checklist {
		if checks[item.ID] {
			n++
		}
	}
	return n
}

// NormalizeURL prefixes https:// unless the value already starts with "http".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	return "https://" + raw
}
