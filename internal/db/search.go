package db

import (
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/sahilm/fuzzy"
)

// SearchResult holds a context item with its fuzzy match score
type SearchResult struct {
	Item  models.ContextItem `json:"item"`
	Score int                `json:"score"` // higher is better
}

// itemSource adapts items to fuzzy.Source, matching on "key value"
type itemSource []models.ContextItem

func (s itemSource) String(i int) string { return s[i].Key + " " + s[i].Value }
func (s itemSource) Len() int            { return len(s) }

// SearchItems ranks a session's context items against query. A zero limit
// returns every match.
func (db *DB) SearchItems(sessionID, query string, limit int) ([]SearchResult, error) {
	const op = "search context items"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationErr(op, "query is required")
	}
	if limit < 0 {
		return nil, validationErr(op, "limit must not be negative")
	}
	if err := sessionExists(db.conn, op, sessionID); err != nil {
		return nil, classify(op, err)
	}
	items, err := sessionItems(db.conn, sessionID)
	if err != nil {
		return nil, classify(op, err)
	}

	matches := fuzzy.FindFrom(query, itemSource(items))
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{Item: items[m.Index], Score: m.Score})
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}
