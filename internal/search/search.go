// Package search provides the in-memory dataset search index backing the
// public data search endpoint. The index is built once at boot from the
// dataset catalog and is read-only afterwards, so lookups need no locking.
package search

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// title hits rank higher than description or metadata hits
const (
	titleWeight = 3
	fieldWeight = 1
)

// minTokenLength drops noise tokens unless whitelisted.
const minTokenLength = 3

// Document is one searchable dataset description.
type Document struct {
	ID          string            `json:"id"`
	Source      string            `json:"data_source"`
	Title       string            `json:"title"`
	Species     string            `json:"species"`
	Description string            `json:"description"`
	Technology  string            `json:"technology,omitempty"`
	NumSamples  int               `json:"no_samples,omitempty"`
	ResourceID  string            `json:"resource_id"`
	Parameters  map[string]string `json:"loading_parameters,omitempty"`
}

// Result is one ranked search hit.
type Result struct {
	Document
	Score int `json:"-"`
}

// TermFilter controls which tokens enter the index. Blacklisted tokens are
// never indexed; whitelisted tokens bypass the minimum length cut.
type TermFilter struct {
	whitelist map[string]bool
	blacklist map[string]bool
}

// LoadTermFilter reads whitelist and blacklist term files (YAML lists of
// strings). Either path may be empty.
func LoadTermFilter(whitelistPath, blacklistPath string) (*TermFilter, error) {
	whitelist, err := loadTermFile(whitelistPath)
	if err != nil {
		return nil, err
	}

	blacklist, err := loadTermFile(blacklistPath)
	if err != nil {
		return nil, err
	}

	return &TermFilter{whitelist: whitelist, blacklist: blacklist}, nil
}

func loadTermFile(path string) (map[string]bool, error) {
	terms := make(map[string]bool)
	if path == "" {
		return terms, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading term file %s: %w", path, err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing term file %s: %w", path, err)
	}

	for _, term := range list {
		terms[strings.ToLower(strings.TrimSpace(term))] = true
	}

	return terms, nil
}

// LoadDocuments reads the searchable dataset descriptions from a JSON file
// holding an array of documents. An empty path yields an empty catalog.
func LoadDocuments(path string) ([]Document, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset catalog %s: %w", path, err)
	}

	var documents []Document
	if err := json.Unmarshal(data, &documents); err != nil {
		return nil, fmt.Errorf("parsing dataset catalog %s: %w", path, err)
	}

	return documents, nil
}

// keep reports whether a token enters the index.
func (f *TermFilter) keep(token string) bool {
	if f == nil {
		return len(token) >= minTokenLength
	}

	if f.blacklist[token] {
		return false
	}

	if f.whitelist[token] {
		return true
	}

	return len(token) >= minTokenLength
}

// Index is the inverted dataset search index.
type Index struct {
	documents []Document
	// postings maps a token to per-document weighted hit counts
	postings map[string]map[int]int
	// species maps the lowercased species name to document indexes
	species map[string][]int
}

// NewIndex builds an index over the given documents. Tokens are drawn from
// the title, description, source, technology and loading parameter values.
func NewIndex(documents []Document, filter *TermFilter) *Index {
	idx := &Index{
		documents: append([]Document(nil), documents...),
		postings:  make(map[string]map[int]int),
		species:   make(map[string][]int),
	}

	for i, doc := range idx.documents {
		idx.addField(i, doc.Title, titleWeight, filter)
		idx.addField(i, doc.Description, fieldWeight, filter)
		idx.addField(i, doc.Source, fieldWeight, filter)
		idx.addField(i, doc.Technology, fieldWeight, filter)

		for _, value := range doc.Parameters {
			idx.addField(i, value, fieldWeight, filter)
		}

		species := strings.ToLower(strings.TrimSpace(doc.Species))
		idx.species[species] = append(idx.species[species], i)
	}

	return idx
}

func (idx *Index) addField(doc int, text string, weight int, filter *TermFilter) {
	for _, token := range Tokenize(text) {
		if !filter.keep(token) {
			continue
		}

		if idx.postings[token] == nil {
			idx.postings[token] = make(map[int]int)
		}

		idx.postings[token][doc] += weight
	}
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	return len(idx.documents)
}

// Species returns the sorted distinct species of the indexed documents.
func (idx *Index) Species() []string {
	distinct := make(map[string]bool)

	for _, doc := range idx.documents {
		if doc.Species != "" {
			distinct[doc.Species] = true
		}
	}

	species := make([]string, 0, len(distinct))
	for name := range distinct {
		species = append(species, name)
	}

	sort.Strings(species)

	return species
}

// Search returns the documents matching every query token, ranked by
// weighted hit count. A non-empty species restricts hits to that species
// (case-insensitive).
func (idx *Index) Search(query, species string) []Result {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	scores := make(map[int]int)

	for i, token := range tokens {
		postings := idx.postings[token]

		if i == 0 {
			for doc, weight := range postings {
				scores[doc] = weight
			}

			continue
		}

		// AND semantics: drop documents missing this token
		for doc := range scores {
			weight, ok := postings[doc]
			if !ok {
				delete(scores, doc)
				continue
			}

			scores[doc] += weight
		}
	}

	wantSpecies := strings.ToLower(strings.TrimSpace(species))

	results := make([]Result, 0, len(scores))

	for doc, score := range scores {
		if wantSpecies != "" && strings.ToLower(idx.documents[doc].Species) != wantSpecies {
			continue
		}

		results = append(results, Result{Document: idx.documents[doc], Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].ID < results[j].ID
	})

	return results
}

// Tokenize splits text into lowercased alphanumeric tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
