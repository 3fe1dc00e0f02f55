// Package storage is the file-backed world manager. Each world lives under
// <root>/worlds/<world-id>/ as a config.json plus one directory per agent
// (config.json, system-prompt.md, memory.json). Writes are atomic
// (temp file + rename) so a crashed save never leaves a torn document.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentworld.ai/internal/world"
)

const (
	worldsDirName  = "worlds"
	agentsDirName  = "agents"
	configFileName = "config.json"
	promptFileName = "system-prompt.md"
	memoryFileName = "memory.json"
)

// WorldInfo is the listing row for a stored world.
type WorldInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TurnLimit   int       `json:"turn_limit,omitempty"`
	AgentCount  int       `json:"agent_count"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type worldDoc struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TurnLimit   int       `json:"turn_limit,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type agentDoc struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func worldDir(root, id string) string {
	return filepath.Join(root, worldsDirName, id)
}

// ListWorlds scans the root for stored worlds. A missing root is an empty
// list, not an error.
func ListWorlds(root string) ([]WorldInfo, error) {
	ents, err := os.ReadDir(filepath.Join(root, worldsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []WorldInfo
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		doc, err := readWorldDoc(worldDir(root, e.Name()))
		if err != nil {
			continue // skip half-written or foreign directories
		}
		agents, _ := listAgentIDs(worldDir(root, e.Name()))
		out = append(out, WorldInfo{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			TurnLimit:   doc.TurnLimit,
			AgentCount:  len(agents),
			UpdatedAt:   doc.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetWorld loads one world with all its agents, a fresh emitter, and the
// persistence hook wired. Returns (nil, nil) when the world does not exist.
func GetWorld(root, id string) (*world.World, error) {
	dir := worldDir(root, world.ToKebabCase(id))
	doc, err := readWorldDoc(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	w := &world.World{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		TurnLimit:   doc.TurnLimit,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		Agents:      map[string]*world.Agent{},
	}
	w.SetEmitter(world.NewEmitter())
	agentIDs, err := listAgentIDs(dir)
	if err != nil {
		return nil, err
	}
	for _, aid := range agentIDs {
		a, err := readAgent(dir, aid)
		if err != nil {
			return nil, fmt.Errorf("world %s agent %s: %w", doc.ID, aid, err)
		}
		w.Agents[a.ID] = a
	}
	w.SetSaver(func(w *world.World) error { return saveWorld(root, w) })
	return w, nil
}

// CreateWorld creates the on-disk layout for a new world. Creation fails
// when the derived id is already taken: the kebab transform is not
// collision-free and we refuse to guess.
func CreateWorld(root string, cfg world.Config) (*world.World, error) {
	w, err := world.New(cfg)
	if err != nil {
		return nil, err
	}
	dir := worldDir(root, w.ID)
	if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
		return nil, fmt.Errorf("world id %q: %w", w.ID, world.ErrExists)
	}
	if err := os.MkdirAll(filepath.Join(dir, agentsDirName), 0o755); err != nil {
		return nil, err
	}
	w.SetSaver(func(w *world.World) error { return saveWorld(root, w) })
	if err := w.Save(); err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWorld applies partial updates to a stored world. Returns (nil, nil)
// when the world does not exist. Renames change only the display name; the
// id is fixed at creation.
func UpdateWorld(root, id string, up world.Updates) (*world.World, error) {
	w, err := GetWorld(root, id)
	if err != nil || w == nil {
		return w, err
	}
	if up.Name != nil && strings.TrimSpace(*up.Name) != "" {
		w.Name = *up.Name
	}
	if up.Description != nil {
		w.Description = *up.Description
	}
	if up.TurnLimit != nil && *up.TurnLimit > 0 {
		w.TurnLimit = *up.TurnLimit
	}
	if err := w.Save(); err != nil {
		return nil, err
	}
	return w, nil
}

func saveWorld(root string, w *world.World) error {
	dir := worldDir(root, w.ID)
	if err := os.MkdirAll(filepath.Join(dir, agentsDirName), 0o755); err != nil {
		return err
	}
	doc := worldDoc{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		TurnLimit:   w.TurnLimit,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if err := writeJSON(filepath.Join(dir, configFileName), doc); err != nil {
		return err
	}
	for _, a := range w.Agents {
		if err := saveAgent(dir, a); err != nil {
			return err
		}
	}
	// Drop directories of agents removed from the world.
	stored, err := listAgentIDs(dir)
	if err != nil {
		return err
	}
	for _, aid := range stored {
		if _, ok := w.Agents[aid]; !ok {
			if err := os.RemoveAll(filepath.Join(dir, agentsDirName, aid)); err != nil {
				return err
			}
		}
	}
	return nil
}

func saveAgent(dir string, a *world.Agent) error {
	adir := filepath.Join(dir, agentsDirName, a.ID)
	if err := os.MkdirAll(adir, 0o755); err != nil {
		return err
	}
	doc := agentDoc{
		ID:        a.ID,
		Name:      a.Name,
		Provider:  a.Provider,
		Model:     a.Model,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if err := writeJSON(filepath.Join(adir, configFileName), doc); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(adir, promptFileName), []byte(a.SystemPrompt)); err != nil {
		return err
	}
	mem := a.Memory
	if mem == nil {
		mem = []world.MemoryMessage{}
	}
	return writeJSON(filepath.Join(adir, memoryFileName), mem)
}

func readWorldDoc(dir string) (worldDoc, error) {
	var doc worldDoc
	b, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("%s: %w", configFileName, err)
	}
	if doc.ID == "" {
		doc.ID = filepath.Base(dir)
	}
	return doc, nil
}

func readAgent(dir, aid string) (*world.Agent, error) {
	adir := filepath.Join(dir, agentsDirName, aid)
	b, err := os.ReadFile(filepath.Join(adir, configFileName))
	if err != nil {
		return nil, err
	}
	var doc agentDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	a := &world.Agent{
		ID:        doc.ID,
		Name:      doc.Name,
		Provider:  doc.Provider,
		Model:     doc.Model,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if a.ID == "" {
		a.ID = aid
	}
	if prompt, err := os.ReadFile(filepath.Join(adir, promptFileName)); err == nil {
		a.SystemPrompt = string(prompt)
	}
	if mb, err := os.ReadFile(filepath.Join(adir, memoryFileName)); err == nil {
		if err := json.Unmarshal(mb, &a.Memory); err != nil {
			return nil, fmt.Errorf("%s: %w", memoryFileName, err)
		}
	}
	return a, nil
}

func listAgentIDs(dir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(dir, agentsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range ents {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(b, '\n'))
}

func writeFile(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
