package capture

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ignisos/api/internal/locale"
)

const DefaultSystemPrompt = `Eres un asistente que extrae tareas de texto. Responde UNICAMENTE con un objeto JSON válido: {"tasks": [{"description": "...", "client": "...", "urgency": "Alta|Media|Baja", "type": "Trabajo|Personal", "dueDate": "DD/MM/YYYY o null", "responsibles": []}]}`

const userPromptTemplate = `Hoy es %s.

Analiza esta nota y extrae TODAS las tareas:
- Descripción clara
- Cliente (o "Personal")
- Urgencia (Alta/Media/Baja)
- Tipo (Trabajo/Personal)
- Fecha límite DD/MM/YYYY o null
- Responsables: array de nombres o []

Responde SOLO con JSON válido.

Nota:
%s`

// UserPrompt embeds today's date and the raw note.
func UserPrompt(today time.Time, note string) string {
	return fmt.Sprintf(userPromptTemplate, locale.LongDate(today), note)
}

// PromptSource serves the system prompt, optionally read from a file that is
// reloaded whenever it changes on disk.
type PromptSource struct {
	path string

	mu      sync.RWMutex
	current string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPromptSource returns a source backed by path. An empty path, or a file
// that cannot be read, serves DefaultSystemPrompt.
func NewPromptSource(path string) *PromptSource {
	p := &PromptSource{path: path, current: DefaultSystemPrompt, done: make(chan struct{})}
	if path == "" {
		return p
	}
	p.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("capture: prompt watcher unavailable: %v", err)
		return p
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Printf("capture: watch %s: %v", filepath.Dir(path), err)
		_ = watcher.Close()
		return p
	}
	p.watcher = watcher
	go p.watch()
	return p
}

func (p *PromptSource) System() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *PromptSource) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

func (p *PromptSource) watch() {
	target := filepath.Clean(p.path)
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
				p.reload()
			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				p.set(DefaultSystemPrompt)
				log.Printf("capture: prompt file %s removed, using built-in prompt", p.path)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("capture: prompt watcher error: %v", err)
		}
	}
}

func (p *PromptSource) reload() {
	contents, err := os.ReadFile(p.path)
	if err != nil {
		log.Printf("capture: read prompt file %s: %v", p.path, err)
		return
	}
	prompt := strings.TrimSpace(string(contents))
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	p.set(prompt)
}

func (p *PromptSource) set(prompt string) {
	p.mu.Lock()
	p.current = prompt
	p.mu.Unlock()
}
