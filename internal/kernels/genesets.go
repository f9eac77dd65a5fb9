package kernels

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gsakit-io/gsakit/internal/config"
)

// ErrNoGeneSets indicates an empty or unreadable pathway file.
var ErrNoGeneSets = errors.New("no gene sets loaded")

// GeneSet is one pathway with its member genes.
type GeneSet struct {
	ID      string
	Name    string
	Disease bool
	// Genes holds the member gene identifiers, upper-cased.
	Genes map[string]bool
	// Interactors holds additional interactor genes used when the
	// analysis enables interactor extension.
	Interactors map[string]bool
}

// GeneSetDB is the loaded pathway database.
type GeneSetDB struct {
	// Release identifies the pathway database version.
	Release string
	Sets    []GeneSet
}

// LoadGeneSets reads the tab-delimited pathway file. Each line declares one
// pathway:
//
//	id <TAB> name <TAB> disease(0|1) <TAB> gene,gene,... [<TAB> interactor,interactor,...]
//
// Lines starting with '#' are skipped.
func LoadGeneSets(path, release string) (*GeneSetDB, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pathway file %s: %w", path, err)
	}
	defer file.Close()

	db := &GeneSetDB{Release: release}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("pathway file %s line %d: expected at least 4 columns, got %d", path, lineNo, len(fields))
		}

		set := GeneSet{
			ID:      fields[0],
			Name:    fields[1],
			Disease: fields[2] == "1",
			Genes:   parseGeneList(fields[3]),
		}

		if len(fields) > 4 {
			set.Interactors = parseGeneList(fields[4])
		}

		db.Sets = append(db.Sets, set)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pathway file %s: %w", path, err)
	}

	if len(db.Sets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoGeneSets, path)
	}

	return db, nil
}

// LoadGeneSetsFromEnv loads the pathway database from PATHWAY_FILE and
// PATHWAY_RELEASE.
func LoadGeneSetsFromEnv() (*GeneSetDB, error) {
	path := config.GetEnvStr("PATHWAY_FILE", "")
	if path == "" {
		return nil, fmt.Errorf("%w: PATHWAY_FILE is not set", ErrNoGeneSets)
	}

	return LoadGeneSets(path, config.GetEnvStr("PATHWAY_RELEASE", "unknown"))
}

func parseGeneList(field string) map[string]bool {
	genes := make(map[string]bool)

	for _, gene := range strings.Split(field, ",") {
		if gene = strings.ToUpper(strings.TrimSpace(gene)); gene != "" {
			genes[gene] = true
		}
	}

	return genes
}

// members returns the effective gene membership of a set, including
// interactors when enabled.
func (s *GeneSet) members(useInteractors bool) map[string]bool {
	if !useInteractors || len(s.Interactors) == 0 {
		return s.Genes
	}

	merged := make(map[string]bool, len(s.Genes)+len(s.Interactors))
	for gene := range s.Genes {
		merged[gene] = true
	}

	for gene := range s.Interactors {
		merged[gene] = true
	}

	return merged
}

// selected is one pathway resolved against the submitted genes.
type selected struct {
	set *GeneSet
	// rows holds the matrix row indexes of the mapped genes
	rows []int
}

// selectSets resolves the database against the submitted gene rows and the
// analysis settings: disease filtering, the explicit pathway restriction and
// the size bounds (measured in mapped submitted genes).
func (db *GeneSetDB) selectSets(rows []string, cfg *KernelConfig) []selected {
	restrict := make(map[string]bool, len(cfg.Pathways))
	for _, id := range cfg.Pathways {
		restrict[id] = true
	}

	rowIndex := make(map[string]int, len(rows))
	for i, row := range rows {
		rowIndex[strings.ToUpper(row)] = i
	}

	result := make([]selected, 0, len(db.Sets))

	for i := range db.Sets {
		set := &db.Sets[i]

		if set.Disease && !cfg.IncludeDiseasePathways {
			continue
		}

		if len(restrict) > 0 && !restrict[set.ID] {
			continue
		}

		members := set.members(cfg.UseInteractors)

		mapped := make([]int, 0, len(members))
		for gene := range members {
			if row, ok := rowIndex[gene]; ok {
				mapped = append(mapped, row)
			}
		}

		if len(mapped) < cfg.MinPathwaySize {
			continue
		}

		if cfg.MaxPathwaySize > 0 && len(mapped) > cfg.MaxPathwaySize {
			continue
		}

		result = append(result, selected{set: set, rows: mapped})
	}

	return result
}

// geneFrequency counts, for every matrix row, how many selected sets contain
// it. PADOG uses this to down-weigh promiscuous genes.
func geneFrequency(sets []selected, rowCount int) []int {
	frequency := make([]int, rowCount)

	for _, s := range sets {
		for _, row := range s.rows {
			frequency[row]++
		}
	}

	return frequency
}
