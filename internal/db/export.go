package db

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

// Export file names, one JSON record per line
const (
	ExportSessions    = "sessions.jsonl"
	ExportItems       = "context_items.jsonl"
	ExportCheckpoints = "checkpoints.jsonl"
	ExportIssues      = "issues.jsonl"
	ExportPlans       = "plans.jsonl"
	ExportMemory      = "memories.jsonl"
)

// ExportRecord is one line of an export file
type ExportRecord struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	ContentHash string          `json:"content_hash"`
	Data        json.RawMessage `json:"data"`
}

// ExportResult reports how many records were written per file
type ExportResult struct {
	Dir    string         `json:"dir"`
	Counts map[string]int `json:"counts"`
}

// checkpointExport bundles a checkpoint header with its snapshot items
type checkpointExport struct {
	models.Checkpoint
	Items []models.CheckpointItem `json:"items"`
}

// issueExport bundles an issue with its outgoing dependency edges
type issueExport struct {
	models.Issue
	Dependencies []models.Dependency `json:"dependencies,omitempty"`
}

func issueRecord(q queryer, is models.Issue) (issueExport, error) {
	deps, err := queryDependencies(q, `SELECT issue_id, depends_on_id, dependency_type, created_at
		FROM issue_dependencies WHERE issue_id = ? ORDER BY created_at, rowid`, is.ID)
	return issueExport{Issue: is, Dependencies: deps}, err
}

// memoryRows lists the memory of projectPath, or of every project when empty
func memoryRows(q queryer, projectPath string) ([]models.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM project_memory`
	var args []any
	if projectPath != "" {
		query += ` WHERE project_path = ?`
		args = append(args, projectPath)
	}
	rows, err := q.Query(query+` ORDER BY project_path, key`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mem)
	}
	return out, rows.Err()
}

// contentHash is the hex blake2b-256 of a record's JSON encoding
func contentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newExportRecord(typ, id string, v any) (ExportRecord, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ExportRecord{}, fmt.Errorf("encode %s %s: %w", typ, id, err)
	}
	return ExportRecord{Type: typ, ID: id, ContentHash: contentHash(data), Data: data}, nil
}

func writeJSONL(path string, records []ExportRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExportJSONL writes the sessions, context items, checkpoints, issues (with
// their outgoing dependencies), plans and memory of projectPath (all
// projects when empty) into dir. Files are built and written concurrently;
// the first failure cancels the rest.
func (db *DB) ExportJSONL(ctx context.Context, dir, projectPath string) (*ExportResult, error) {
	const op = "export"
	if dir == "" {
		return nil, validationErr(op, "output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	projectPath = workdir.NormalizePath(projectPath)
	sessions, err := db.ListSessions(SessionFilter{ProjectPath: projectPath, Status: StatusAll})
	if err != nil {
		return nil, err
	}

	builders := map[string]func() ([]ExportRecord, error){
		ExportSessions: func() ([]ExportRecord, error) {
			var out []ExportRecord
			for _, s := range sessions {
				r, err := newExportRecord(EntitySession, s.ID, s)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
			return out, nil
		},
		ExportItems: func() ([]ExportRecord, error) {
			var out []ExportRecord
			for _, s := range sessions {
				items, err := db.ListItems(s.ID, ItemListFilter{})
				if err != nil {
					return nil, err
				}
				for _, it := range items {
					r, err := newExportRecord(EntityItem, it.ID, it)
					if err != nil {
						return nil, err
					}
					out = append(out, r)
				}
			}
			return out, nil
		},
		ExportCheckpoints: func() ([]ExportRecord, error) {
			var out []ExportRecord
			for _, s := range sessions {
				cps, err := db.ListCheckpoints(s.ID, 0)
				if err != nil {
					return nil, err
				}
				for _, c := range cps {
					items, err := db.CheckpointItems(c.ID)
					if err != nil {
						return nil, err
					}
					r, err := newExportRecord(EntityCheckpoint, c.ID, checkpointExport{Checkpoint: c, Items: items})
					if err != nil {
						return nil, err
					}
					out = append(out, r)
				}
			}
			return out, nil
		},
		ExportIssues: func() ([]ExportRecord, error) {
			issues, err := db.ListIssues(IssueFilter{ProjectPath: projectPath, Status: StatusAll})
			if err != nil {
				return nil, err
			}
			var out []ExportRecord
			for _, is := range issues {
				rec, err := issueRecord(db.conn, is)
				if err != nil {
					return nil, err
				}
				r, err := newExportRecord(EntityIssue, is.ID, rec)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
			return out, nil
		},
		ExportPlans: func() ([]ExportRecord, error) {
			plans, err := db.ListPlans(projectPath, StatusAll)
			if err != nil {
				return nil, err
			}
			var out []ExportRecord
			for _, p := range plans {
				r, err := newExportRecord(EntityPlan, p.ID, p)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
			return out, nil
		},
		ExportMemory: func() ([]ExportRecord, error) {
			mem, err := memoryRows(db.conn, projectPath)
			if err != nil {
				return nil, err
			}
			var out []ExportRecord
			for _, m := range mem {
				r, err := newExportRecord(EntityMemory, m.ID, m)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
			return out, nil
		},
	}

	result := &ExportResult{Dir: dir, Counts: make(map[string]int, len(builders))}
	counts := make(chan struct {
		name string
		n    int
	}, len(builders))

	g, gctx := errgroup.WithContext(ctx)
	for name, build := range builders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := build()
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := writeJSONL(filepath.Join(dir, name), records); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			counts <- struct {
				name string
				n    int
			}{name, len(records)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(counts)
	for c := range counts {
		result.Counts[c.name] = c.n
	}
	db.logger.Info("export complete", "dir", dir, "project", projectPath, "sessions", len(sessions))
	return result, nil
}
