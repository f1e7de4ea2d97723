// Package sqlitestore implements storage.Storage on top of
// modernc.org/sqlite, the pure-Go, cgo-free SQLite driver. A second
// storage backend alongside storage.MemoryStore: same contract, durable
// across process restarts. Turns, episodes, facts, and embeddings each
// get a table, indexed on session_id, episode_id, and status; slices and
// maps are stored JSON-encoded.
//
// Vector search loads candidate embeddings filtered on the indexed
// session_id/type columns and scores them in Go with brute-force cosine
// similarity, matching storage.MemoryStore's behavior.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/acmserr"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/storage"
)

// timeFormat is RFC 3339 with a fixed-width 9-digit fraction so the
// stored strings order lexicographically the same way the times do.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	episode_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	actor_id TEXT,
	markers TEXT,
	token_count INTEGER NOT NULL,
	embedding_id TEXT,
	position INTEGER NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_episode ON turns(episode_id);

CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	closed_at TEXT,
	close_reason TEXT,
	turn_count INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	markers TEXT,
	summary TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);

CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	episode_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	fact_type TEXT NOT NULL,
	confidence REAL NOT NULL,
	embedding_id TEXT,
	token_count INTEGER NOT NULL,
	superseded_by TEXT,
	supersedes TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_facts_session ON facts(session_id);
CREATE INDEX IF NOT EXISTS idx_facts_episode ON facts(episode_id);

CREATE TABLE IF NOT EXISTS embeddings (
	id TEXT PRIMARY KEY,
	vector TEXT NOT NULL,
	session_id TEXT,
	type TEXT,
	metadata TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_session ON embeddings(session_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings(type);
`

// Store is a SQLite-backed storage.Storage implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and applies
// the schema. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, acmserr.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, acmserr.NewStorageError("migrate", err)
	}
	return &Store{db: db}, nil
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) SaveTurn(ctx context.Context, turn *acms.Turn) error {
	markers, err := json.Marshal(turn.Markers)
	if err != nil {
		return acmserr.NewStorageError("save_turn", err)
	}
	metadata, err := json.Marshal(turn.Metadata)
	if err != nil {
		return acmserr.NewStorageError("save_turn", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, episode_id, role, content, created_at, actor_id, markers, token_count, embedding_id, position, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, episode_id=excluded.episode_id, role=excluded.role,
			content=excluded.content, created_at=excluded.created_at, actor_id=excluded.actor_id,
			markers=excluded.markers, token_count=excluded.token_count, embedding_id=excluded.embedding_id,
			position=excluded.position, metadata=excluded.metadata`,
		turn.ID, turn.SessionID, turn.EpisodeID, string(turn.Role), turn.Content,
		turn.CreatedAt.Format(timeFormat), turn.ActorID, string(markers),
		turn.TokenCount, turn.EmbeddingID, turn.Position, string(metadata))
	if err != nil {
		return acmserr.NewStorageError("save_turn", err)
	}
	return nil
}

func (s *Store) scanTurn(row interface{ Scan(...any) error }) (*acms.Turn, error) {
	var t acms.Turn
	var role, createdAt, markers, metadata string
	var actorID, embeddingID sql.NullString
	if err := row.Scan(&t.ID, &t.SessionID, &t.EpisodeID, &role, &t.Content, &createdAt,
		&actorID, &markers, &t.TokenCount, &embeddingID, &t.Position, &metadata); err != nil {
		return nil, err
	}
	t.Role = acms.Role(role)
	t.ActorID = actorID.String
	t.EmbeddingID = embeddingID.String
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parsed
	if markers != "" {
		if err := json.Unmarshal([]byte(markers), &t.Markers); err != nil {
			return nil, err
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

const turnColumns = `id, session_id, episode_id, role, content, created_at, actor_id, markers, token_count, embedding_id, position, metadata`

func (s *Store) GetTurn(ctx context.Context, id string) (*acms.Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	t, err := s.scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, acmserr.ErrTurnNotFound
	}
	if err != nil {
		return nil, acmserr.NewStorageError("get_turn", err)
	}
	return t, nil
}

func (s *Store) queryTurns(ctx context.Context, query string, args ...any) ([]*acms.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*acms.Turn
	for rows.Next() {
		t, err := s.scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*acms.Turn, error) {
	out, err := s.queryTurns(ctx, `SELECT `+turnColumns+` FROM turns WHERE episode_id = ? ORDER BY position ASC`, episodeID)
	if err != nil {
		return nil, acmserr.NewStorageError("get_turns_by_episode", err)
	}
	return out, nil
}

func (s *Store) GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*acms.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	out, err := s.queryTurns(ctx, query, args...)
	if err != nil {
		return nil, acmserr.NewStorageError("get_turns_by_session", err)
	}
	return out, nil
}

func (s *Store) GetMarkedTurns(ctx context.Context, sessionID string, excludeEpisodeID string) ([]*acms.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE session_id = ? AND markers IS NOT NULL AND markers != '' AND markers != '[]' AND markers != 'null'`
	args := []any{sessionID}
	if excludeEpisodeID != "" {
		query += ` AND episode_id != ?`
		args = append(args, excludeEpisodeID)
	}
	query += ` ORDER BY created_at ASC`
	out, err := s.queryTurns(ctx, query, args...)
	if err != nil {
		return nil, acmserr.NewStorageError("get_marked_turns", err)
	}
	return out, nil
}

func (s *Store) SaveEpisode(ctx context.Context, ep *acms.Episode) error {
	return s.upsertEpisode(ctx, ep)
}

func (s *Store) upsertEpisode(ctx context.Context, ep *acms.Episode) error {
	markers, err := json.Marshal(ep.Markers)
	if err != nil {
		return acmserr.NewStorageError("save_episode", err)
	}
	metadata, err := json.Marshal(ep.Metadata)
	if err != nil {
		return acmserr.NewStorageError("save_episode", err)
	}
	var closedAt sql.NullString
	if ep.ClosedAt != nil {
		closedAt = sql.NullString{String: ep.ClosedAt.Format(timeFormat), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, session_id, status, created_at, closed_at, close_reason, turn_count, total_tokens, markers, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, status=excluded.status, created_at=excluded.created_at,
			closed_at=excluded.closed_at, close_reason=excluded.close_reason, turn_count=excluded.turn_count,
			total_tokens=excluded.total_tokens, markers=excluded.markers, summary=excluded.summary, metadata=excluded.metadata`,
		ep.ID, ep.SessionID, string(ep.Status), ep.CreatedAt.Format(timeFormat), closedAt,
		ep.CloseReason, ep.TurnCount, ep.TotalTokens, string(markers), ep.Summary, string(metadata))
	if err != nil {
		return acmserr.NewStorageError("save_episode", err)
	}
	return nil
}

const episodeColumns = `id, session_id, status, created_at, closed_at, close_reason, turn_count, total_tokens, markers, summary, metadata`

func scanEpisode(row interface{ Scan(...any) error }) (*acms.Episode, error) {
	var e acms.Episode
	var status, createdAt, markers, metadata string
	var closedAt, closeReason, summary sql.NullString
	if err := row.Scan(&e.ID, &e.SessionID, &status, &createdAt, &closedAt, &closeReason,
		&e.TurnCount, &e.TotalTokens, &markers, &summary, &metadata); err != nil {
		return nil, err
	}
	e.Status = acms.EpisodeStatus(status)
	e.CloseReason = closeReason.String
	e.Summary = summary.String
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parsed
	if closedAt.Valid {
		ct, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return nil, err
		}
		e.ClosedAt = &ct
	}
	if markers != "" {
		if err := json.Unmarshal([]byte(markers), &e.Markers); err != nil {
			return nil, err
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *Store) GetEpisode(ctx context.Context, id string) (*acms.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, acmserr.ErrEpisodeNotFound
	}
	if err != nil {
		return nil, acmserr.NewStorageError("get_episode", err)
	}
	return e, nil
}

func (s *Store) GetEpisodes(ctx context.Context, sessionID string, limit int, status storage.EpisodeStatusFilter) ([]*acms.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE session_id = ?`
	args := []any{sessionID}
	if !status.Any {
		query += ` AND status = ?`
		args = append(args, string(status.Status))
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, acmserr.NewStorageError("get_episodes", err)
	}
	defer rows.Close()
	var out []*acms.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, acmserr.NewStorageError("get_episodes", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, acmserr.NewStorageError("get_episodes", err)
	}
	return out, nil
}

func (s *Store) UpdateEpisode(ctx context.Context, ep *acms.Episode) error {
	if _, err := s.GetEpisode(ctx, ep.ID); err != nil {
		return err
	}
	return s.upsertEpisode(ctx, ep)
}

func (s *Store) SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error {
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return acmserr.NewStorageError("save_embedding", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return acmserr.NewStorageError("save_embedding", err)
	}
	sessionID, _ := metadata["session_id"].(string)
	embType, _ := metadata["type"].(string)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, vector, session_id, type, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector=excluded.vector, session_id=excluded.session_id, type=excluded.type, metadata=excluded.metadata`,
		id, string(vecJSON), sessionID, embType, string(metaJSON))
	if err != nil {
		return acmserr.NewStorageError("save_embedding", err)
	}
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, id string) (*acms.EmbeddingRecord, error) {
	var vecJSON, metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT vector, metadata FROM embeddings WHERE id = ?`, id).Scan(&vecJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, acmserr.NewStorageError("get_embedding", acmserr.ErrEmbeddingNotFound)
	}
	if err != nil {
		return nil, acmserr.NewStorageError("get_embedding", err)
	}
	rec := &acms.EmbeddingRecord{ID: id}
	if err := json.Unmarshal([]byte(vecJSON), &rec.Vector); err != nil {
		return nil, acmserr.NewStorageError("get_embedding", err)
	}
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, acmserr.NewStorageError("get_embedding", err)
		}
	}
	return rec, nil
}

// VectorSearch pushes the common session_id/type filter keys down to the
// indexed columns, then applies any remaining filter keys and scores
// candidates with brute-force cosine similarity in Go.
func (s *Store) VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]storage.VectorSearchResult, error) {
	query := `SELECT id, vector, metadata FROM embeddings WHERE 1=1`
	var args []any
	remaining := make(map[string]any, len(filter))
	for key, val := range filter {
		remaining[key] = val
	}
	if sessionID, ok := remaining["session_id"].(string); ok {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
		delete(remaining, "session_id")
	}
	if embType, ok := remaining["type"].(string); ok {
		query += ` AND type = ?`
		args = append(args, embType)
		delete(remaining, "type")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, acmserr.NewStorageError("vector_search", err)
	}
	defer rows.Close()

	var results []storage.VectorSearchResult
	for rows.Next() {
		var id, vecJSON, metaJSON string
		if err := rows.Scan(&id, &vecJSON, &metaJSON); err != nil {
			return nil, acmserr.NewStorageError("vector_search", err)
		}
		var candidate []float64
		if err := json.Unmarshal([]byte(vecJSON), &candidate); err != nil {
			return nil, acmserr.NewStorageError("vector_search", err)
		}
		var metadata map[string]any
		if metaJSON != "" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
				return nil, acmserr.NewStorageError("vector_search", err)
			}
		}
		if !matchesFilter(metadata, remaining) {
			continue
		}
		score := embedding.Cosine(vector, candidate)
		results = append(results, storage.VectorSearchResult{ID: id, Score: score, Metadata: metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, acmserr.NewStorageError("vector_search", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func (s *Store) SaveFact(ctx context.Context, fact *acms.Fact) error {
	return s.upsertFact(ctx, fact)
}

func (s *Store) upsertFact(ctx context.Context, fact *acms.Fact) error {
	supersedes, err := json.Marshal(fact.Supersedes)
	if err != nil {
		return acmserr.NewStorageError("save_fact", err)
	}
	metadata, err := json.Marshal(fact.Metadata)
	if err != nil {
		return acmserr.NewStorageError("save_fact", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, session_id, episode_id, content, created_at, fact_type, confidence, embedding_id, token_count, superseded_by, supersedes, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, episode_id=excluded.episode_id, content=excluded.content,
			created_at=excluded.created_at, fact_type=excluded.fact_type, confidence=excluded.confidence,
			embedding_id=excluded.embedding_id, token_count=excluded.token_count, superseded_by=excluded.superseded_by,
			supersedes=excluded.supersedes, metadata=excluded.metadata`,
		fact.ID, fact.SessionID, fact.EpisodeID, fact.Content, fact.CreatedAt.Format(timeFormat),
		string(fact.FactType), fact.Confidence, fact.EmbeddingID, fact.TokenCount, fact.SupersededBy,
		string(supersedes), string(metadata))
	if err != nil {
		return acmserr.NewStorageError("save_fact", err)
	}
	return nil
}

const factColumns = `id, session_id, episode_id, content, created_at, fact_type, confidence, embedding_id, token_count, superseded_by, supersedes, metadata`

func scanFact(row interface{ Scan(...any) error }) (*acms.Fact, error) {
	var f acms.Fact
	var factType, createdAt, supersedes, metadata string
	var embeddingID, supersededBy sql.NullString
	if err := row.Scan(&f.ID, &f.SessionID, &f.EpisodeID, &f.Content, &createdAt, &factType,
		&f.Confidence, &embeddingID, &f.TokenCount, &supersededBy, &supersedes, &metadata); err != nil {
		return nil, err
	}
	f.FactType = acms.MarkerType(factType)
	f.EmbeddingID = embeddingID.String
	f.SupersededBy = supersededBy.String
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = parsed
	if supersedes != "" {
		if err := json.Unmarshal([]byte(supersedes), &f.Supersedes); err != nil {
			return nil, err
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &f.Metadata); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func (s *Store) queryFacts(ctx context.Context, query string, args ...any) ([]*acms.Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*acms.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error) {
	out, err := s.queryFacts(ctx, `SELECT `+factColumns+` FROM facts WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, acmserr.NewStorageError("get_facts_by_session", err)
	}
	return out, nil
}

func (s *Store) GetFactsByEpisode(ctx context.Context, episodeID string) ([]*acms.Fact, error) {
	out, err := s.queryFacts(ctx, `SELECT `+factColumns+` FROM facts WHERE episode_id = ? ORDER BY created_at ASC`, episodeID)
	if err != nil {
		return nil, acmserr.NewStorageError("get_facts_by_episode", err)
	}
	return out, nil
}

func (s *Store) GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error) {
	out, err := s.queryFacts(ctx, `SELECT `+factColumns+` FROM facts WHERE session_id = ? AND (superseded_by IS NULL OR superseded_by = '') ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, acmserr.NewStorageError("get_active_facts_by_session", err)
	}
	return out, nil
}

func (s *Store) UpdateFact(ctx context.Context, fact *acms.Fact) error {
	var exists string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM facts WHERE id = ?`, fact.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return acmserr.NewStorageError("update_fact", acmserr.ErrFactNotFound)
	}
	if err != nil {
		return acmserr.NewStorageError("update_fact", err)
	}
	return s.upsertFact(ctx, fact)
}

func (s *Store) GetSessionStats(ctx context.Context, sessionID string) (acms.SessionStats, error) {
	var stats acms.SessionStats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(token_count), 0), MIN(created_at), MAX(created_at)
		FROM turns WHERE session_id = ?`, sessionID)
	var created, lastActivity sql.NullString
	if err := row.Scan(&stats.TotalTurns, &stats.TotalTokensIngested, &created, &lastActivity); err != nil {
		return stats, acmserr.NewStorageError("get_session_stats", err)
	}
	if created.Valid {
		t, err := time.Parse(time.RFC3339Nano, created.String)
		if err != nil {
			return stats, acmserr.NewStorageError("get_session_stats", err)
		}
		stats.CreatedAt = t
	}
	if lastActivity.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastActivity.String)
		if err != nil {
			return stats, acmserr.NewStorageError("get_session_stats", err)
		}
		stats.LastActivityAt = t
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE session_id = ?`, sessionID).Scan(&stats.TotalEpisodes); err != nil {
		return stats, acmserr.NewStorageError("get_session_stats", err)
	}

	var currentID sql.NullString
	var currentTurns sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT id, turn_count FROM episodes WHERE session_id = ? AND status = ? LIMIT 1`,
		sessionID, string(acms.EpisodeOpen)).Scan(&currentID, &currentTurns)
	if err != nil && err != sql.ErrNoRows {
		return stats, acmserr.NewStorageError("get_session_stats", err)
	}
	stats.CurrentEpisodeID = currentID.String
	stats.CurrentEpisodeTurns = int(currentTurns.Int64)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE session_id = ?`, sessionID).Scan(&stats.TotalFacts); err != nil {
		return stats, acmserr.NewStorageError("get_session_stats", err)
	}

	return stats, nil
}

// Close closes the underlying database connection.
func (s *Store) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return acmserr.NewStorageError("close", err)
	}
	return nil
}
