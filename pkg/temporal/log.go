package temporal

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// Log is the append-only temporal log backed by a *store.Store.
type Log struct {
	db  *sqlx.DB
	ids *ids.Generator
}

// New wraps s as a Log. ids is the shared identifier generator so message
// ids are strictly increasing across every kind the process mints.
func New(s *store.Store, idGen *ids.Generator) *Log {
	return &Log{db: s.DB, ids: idGen}
}

// AppendMessage assigns an id (and CreatedAt, if unset) and appends m to the
// log. The total order is the order append_message is called in.
func (l *Log) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = l.ids.Next(ids.KindMessage)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.TokenEstimate == 0 && m.Content != "" {
		m.TokenEstimate = EstimateTokens(m.Content)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (id, kind, content, tool_call_id, tool_name, token_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(m.Kind), m.Content, m.ToolCallID, m.ToolName, m.TokenEstimate, m.CreatedAt)
	if err != nil {
		return Message{}, store.NewFailure(store.KindIO, "temporal.AppendMessage", err)
	}

	logger.G(ctx).WithField("message_id", m.ID).WithField("kind", m.Kind).Debug("appended message")
	return m, nil
}

// MessageFilter bounds a GetMessages query. A zero value returns everything.
type MessageFilter struct {
	AfterID string // exclusive
	Limit   int    // 0 means unbounded
}

// GetMessages returns messages in id (creation) order, optionally bounded.
func (l *Log) GetMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	query := "SELECT id, kind, content, tool_call_id, tool_name, token_estimate, created_at FROM messages"
	args := []any{}
	if filter.AfterID != "" {
		query += " WHERE id > ?"
		args = append(args, filter.AfterID)
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var msgs []Message
	if err := l.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, store.NewFailure(store.KindIO, "temporal.GetMessages", err)
	}
	return msgs, nil
}

// GetMessage returns a single message by id.
func (l *Log) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	err := l.db.GetContext(ctx, &m, `
		SELECT id, kind, content, tool_call_id, tool_name, token_estimate, created_at FROM messages WHERE id = ?
	`, id)
	if err != nil {
		return Message{}, store.NewFailure(store.KindNotFound, "temporal.GetMessage", err)
	}
	return m, nil
}

// GetMessageWithContext returns the window [id-before .. id+after] around
// id, clipped to the bounds of the log, in ascending order.
func (l *Log) GetMessageWithContext(ctx context.Context, id string, before, after int) ([]Message, error) {
	all, err := l.GetMessages(ctx, MessageFilter{})
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, m := range all {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, store.NewFailure(store.KindNotFound, "temporal.GetMessageWithContext", nil)
	}

	start := idx - before
	if start < 0 {
		start = 0
	}
	end := idx + after + 1
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// GetSummaries returns all summaries ordered by (order, start_id).
func (l *Log) GetSummaries(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	err := l.db.SelectContext(ctx, &summaries, `
		SELECT id, order_n, start_id, end_id, body, token_estimate, subsumed_by, created_at
		FROM summaries ORDER BY order_n ASC, start_id ASC
	`)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "temporal.GetSummaries", err)
	}
	return summaries, nil
}

// PutSummary persists a new summary row. Callers (pkg/distill) are
// responsible for id assignment via ids.Generator.
func (l *Log) PutSummary(ctx context.Context, tx *sqlx.Tx, s Summary) error {
	exec := l.db.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `
		INSERT INTO summaries (id, order_n, start_id, end_id, body, token_estimate, subsumed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Order, s.StartID, s.EndID, s.Body, s.TokenEstimate, s.SubsumedBy, s.CreatedAt)
	if err != nil {
		return store.NewFailure(store.KindIO, "temporal.PutSummary", err)
	}
	return nil
}

// MarkSubsumed sets subsumed_by on every summary id in ids to newSummaryID.
func (l *Log) MarkSubsumed(ctx context.Context, tx *sqlx.Tx, summaryIDs []string, newSummaryID string) error {
	exec := l.db.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	for _, id := range summaryIDs {
		if _, err := exec(ctx, `UPDATE summaries SET subsumed_by = ? WHERE id = ?`, newSummaryID, id); err != nil {
			return store.NewFailure(store.KindIO, "temporal.MarkSubsumed", err)
		}
	}
	return nil
}

// EstimateUncompactedTokens sums token_estimate for messages not covered
// by any order-1 summary, subsumed or not: subsumption folds an order-1
// summary into a higher order without uncovering its messages.
func (l *Log) EstimateUncompactedTokens(ctx context.Context) (int, error) {
	msgs, err := l.GetMessages(ctx, MessageFilter{})
	if err != nil {
		return 0, err
	}
	summaries, err := l.GetSummaries(ctx)
	if err != nil {
		return 0, err
	}

	covered := coveredMessageIDs(msgs, summaries)
	total := 0
	for _, m := range msgs {
		if !covered[m.ID] {
			total += m.TokenEstimate
		}
	}
	return total, nil
}

// SearchFTS performs a keyword search over message content and returns up
// to limit hits ranked by relevance, each with a snippet carrying explicit
// match markers (">>>term<<<").
func (l *Log) SearchFTS(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT m.id, snippet(messages_fts, 0, '>>>', '<<<', '...', 12) AS snip
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "temporal.SearchFTS", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Snippet); err != nil {
			return nil, store.NewFailure(store.KindIO, "temporal.SearchFTS.scan", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
