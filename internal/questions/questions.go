// Package questions reads evaluation items from JSON or YAML files.
package questions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/lexeval/internal/model"
)

// File is one parsed questions file.
type File struct {
	Path      string
	Hash      string
	Questions []model.Question
}

// methodOrder is the fixed order in which per-method answer fields become candidates.
var methodOrder = []string{"GRACE", "LTE", "MEMIT", "LoRA", "ROME"}

// Load reads and converts every file in paths. Questions without an explicit
// ID are numbered after the largest explicit ID, in file order.
func Load(paths []string) ([]File, error) {
	type pending struct {
		file, index int
	}

	files := make([]File, 0, len(paths))
	seen := make(map[int64]string)
	var maxID int64
	var unnumbered []pending

	for fi, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		imports, err := Parse(path, data)
		if err != nil {
			return nil, err
		}

		f := File{Path: path, Hash: sha256sum(data)}
		for qi, imp := range imports {
			q, hasID, err := Convert(imp)
			if err != nil {
				return nil, fmt.Errorf("%s: question %d: %w", path, qi+1, err)
			}
			if hasID {
				if prev, dup := seen[q.ID]; dup {
					return nil, fmt.Errorf("%s: duplicate question id %d (first seen in %s)", path, q.ID, prev)
				}
				seen[q.ID] = path
				maxID = max(maxID, q.ID)
			} else {
				unnumbered = append(unnumbered, pending{file: fi, index: qi})
			}
			f.Questions = append(f.Questions, q)
		}
		files = append(files, f)
	}

	for _, p := range unnumbered {
		maxID++
		files[p.file].Questions[p.index].ID = maxID
	}
	return files, nil
}

// Parse decodes a questions file. The format is chosen by extension;
// anything other than .yaml or .yml is treated as JSON.
func Parse(path string, data []byte) ([]model.QuestionImport, error) {
	var imports []model.QuestionImport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &imports); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &imports); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return imports, nil
}

// Convert turns an imported record into a Question. The boolean reports
// whether the record carried its own ID.
func Convert(imp model.QuestionImport) (model.Question, bool, error) {
	q := model.Question{
		Prompt:      imp.Prompt,
		GroundTruth: imp.GroundTruth,
	}
	if q.Prompt == "" {
		q.Prompt = imp.CaseName
	}
	if q.Prompt == "" {
		return q, false, fmt.Errorf("prompt is empty")
	}

	hasID := false
	switch {
	case imp.ID != nil:
		q.ID, hasID = *imp.ID, true
	case imp.CaseID != nil:
		q.ID, hasID = *imp.CaseID, true
	}

	methods := map[string]string{
		"GRACE": imp.GRACE,
		"LTE":   imp.LTE,
		"MEMIT": imp.MEMIT,
		"LoRA":  imp.LoRA,
		"ROME":  imp.ROME,
	}
	hasMethods := false
	for _, v := range methods {
		if v != "" {
			hasMethods = true
			break
		}
	}

	switch {
	case hasMethods && len(imp.Candidates) > 0:
		return q, hasID, fmt.Errorf("both candidates and per-method answers are set")
	case hasMethods:
		for i, m := range methodOrder {
			q.Candidates = append(q.Candidates, model.Candidate{
				Label:       string(rune('A' + i)),
				SourceModel: m,
				Content:     methods[m],
			})
		}
	default:
		q.Candidates = append([]model.Candidate(nil), imp.Candidates...)
	}

	if len(q.Candidates) == 0 {
		return q, hasID, fmt.Errorf("no candidate answers")
	}
	return q, hasID, nil
}

// Flatten concatenates the questions of all files in load order.
func Flatten(files []File) []model.Question {
	var out []model.Question
	for _, f := range files {
		out = append(out, f.Questions...)
	}
	return out
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
