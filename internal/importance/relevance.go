package importance

import (
	"context"
	"log/slog"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// Scored is a ledger record with its cosine similarity to a query.
type Scored struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Relevant returns up to limit records whose similarity to query exceeds
// the configured minimum, best first. Record embeddings are computed on
// every call. Embedding failures are logged and yield an empty result.
func (c *Classifier) Relevant(ctx context.Context, query string, limit int) ([]Scored, error) {
	var records []Record
	for _, cat := range Categories {
		records = append(records, c.ledger[cat]...)
	}
	if len(records) == 0 || limit <= 0 {
		return []Scored{}, nil
	}

	q, err := c.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("importance relevance: embedding query failed", "error", err)
		return []Scored{}, nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("importance relevance: embedding records failed", "records", len(records), "error", err)
		return []Scored{}, nil
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection("importance", nil, nil)
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		doc := chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   r.Text,
			Embedding: vecs[i],
			Metadata:  map[string]string{"category": string(r.Category)},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			slog.Warn("importance relevance: indexing record failed", "index", i, "error", err)
			return []Scored{}, nil
		}
	}

	hits, err := col.QueryEmbedding(ctx, q, col.Count(), nil, nil)
	if err != nil {
		slog.Warn("importance relevance: query failed", "error", err)
		return []Scored{}, nil
	}

	out := make([]Scored, 0, limit)
	for _, h := range hits {
		// NaN from a zero query vector must not pass.
		if !(float64(h.Similarity) > c.minSim) {
			continue
		}
		i, err := strconv.Atoi(h.ID)
		if err != nil {
			continue
		}
		out = append(out, Scored{Record: records[i], Similarity: float64(h.Similarity)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
