package skills

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pulsefit/retain/pkg/agent"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Library indexes markdown skill files and selects the most relevant
// guidance for a session goal. Selection is vector search over the skill
// guidance when an embedder is configured, with a keyword fallback so a
// missing or failing embedding provider degrades instead of breaking
// session creation.
type Library struct {
	db       *sql.DB
	dir      string
	logger   zerolog.Logger
	embedder Embedder
	watcher  *fileWatcher

	mu    sync.RWMutex
	dirty bool
}

// Config holds skill library configuration.
type Config struct {
	// Dir is the directory of markdown skill files.
	Dir string
	// DBPath locates the sqlite index.
	DBPath string
	Logger zerolog.Logger
	// Embedder is optional; without it selection falls back to keyword
	// overlap scoring.
	Embedder Embedder
	// Watch enables the fsnotify watcher on Dir.
	Watch bool
}

// NewLibrary opens the index and optionally starts watching the skill
// directory.
func NewLibrary(cfg Config) (*Library, error) {
	if cfg.Dir == "" {
		return nil, errors.New("skill directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l := &Library{
		db:       db,
		dir:      cfg.Dir,
		logger:   cfg.Logger,
		embedder: cfg.Embedder,
		dirty:    true, // trigger initial sync
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Watch {
		watcher, err := newFileWatcher(cfg.Logger, l.MarkDirty)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create skill watcher: %w", err)
		}
		if err := watcher.watch(cfg.Dir); err != nil {
			watcher.stop()
			db.Close()
			return nil, fmt.Errorf("failed to watch skill directory: %w", err)
		}
		l.watcher = watcher
	}

	l.logger.Info().Str("dir", cfg.Dir).Msg("Skill library initialized")
	return l, nil
}

func (l *Library) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			title TEXT NOT NULL,
			guidance TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_skills_path ON skills(path);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}

	if l.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS skill_vectors USING vec0(
				skill_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, l.embedder.Dimension())
		if _, err := l.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// MarkDirty schedules a resync before the next selection.
func (l *Library) MarkDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}

// Close stops the watcher and closes the index.
func (l *Library) Close() error {
	if l.watcher != nil {
		if err := l.watcher.stop(); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to stop skill watcher")
		}
	}
	return l.db.Close()
}

// Select returns up to max skills ranked by relevance to the goal. It
// implements the prompt assembler's skill source.
func (l *Library) Select(ctx context.Context, goal, typeHint string, max int) ([]agent.Skill, error) {
	if max <= 0 {
		return nil, nil
	}

	l.mu.RLock()
	dirty := l.dirty
	l.mu.RUnlock()
	if dirty {
		if err := l.Sync(ctx); err != nil {
			return nil, fmt.Errorf("skill sync failed: %w", err)
		}
	}

	query := strings.TrimSpace(typeHint + " " + goal)
	if query == "" {
		return nil, nil
	}

	if l.embedder != nil {
		skills, err := l.vectorSelect(ctx, query, max)
		if err == nil {
			return skills, nil
		}
		l.logger.Warn().Err(err).Msg("Vector skill selection failed, falling back to keywords")
	}

	return l.keywordSelect(ctx, query, max)
}

func (l *Library) vectorSelect(ctx context.Context, query string, max int) ([]agent.Skill, error) {
	vecs, err := l.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(vecs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT s.title, s.guidance, vec_distance_cosine(v.embedding, ?) AS distance
		FROM skill_vectors v
		JOIN skills s ON s.id = v.skill_id
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agent.Skill
	for rows.Next() {
		var s agent.Skill
		var distance float64
		if err := rows.Scan(&s.Title, &s.Guidance, &distance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// keywordSelect scores skills by token overlap between the query and the
// skill title plus guidance.
func (l *Library) keywordSelect(ctx context.Context, query string, max int) ([]agent.Skill, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT title, guidance FROM skills`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	queryTokens := tokenize(query)

	type scored struct {
		skill agent.Skill
		score int
	}
	var candidates []scored

	for rows.Next() {
		var s agent.Skill
		if err := rows.Scan(&s.Title, &s.Guidance); err != nil {
			return nil, err
		}
		score := overlap(queryTokens, tokenize(s.Title+" "+s.Guidance))
		if score > 0 {
			candidates = append(candidates, scored{skill: s, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}

	out := make([]agent.Skill, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.skill)
	}
	return out, nil
}

// Sync reconciles the index with the skill directory: new and changed files
// are re-indexed and re-embedded, removed files are dropped.
func (l *Library) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read skill directory: %w", err)
	}

	seen := make(map[string]bool)
	var changed []skillFile

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable skill file")
			continue
		}

		sf := parseSkillFile(path, data)
		seen[path] = true

		var existingHash string
		err = l.db.QueryRowContext(ctx, `SELECT content_hash FROM skills WHERE path = ?`, path).Scan(&existingHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if existingHash == sf.hash {
			continue
		}
		changed = append(changed, sf)
	}

	// Drop skills whose files disappeared.
	rows, err := l.db.QueryContext(ctx, `SELECT id, path FROM skills`)
	if err != nil {
		return err
	}
	var removed []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return err
		}
		if !seen[path] {
			removed = append(removed, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range removed {
		if _, err := l.db.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id); err != nil {
			return err
		}
		if l.embedder != nil {
			if _, err := l.db.ExecContext(ctx, `DELETE FROM skill_vectors WHERE skill_id = ?`, id); err != nil {
				return err
			}
		}
	}

	if len(changed) > 0 {
		if err := l.indexSkills(ctx, changed); err != nil {
			return err
		}
	}

	l.dirty = false
	l.logger.Debug().
		Int("changed", len(changed)).
		Int("removed", len(removed)).
		Msg("Skill library synced")
	return nil
}

func (l *Library) indexSkills(ctx context.Context, files []skillFile) error {
	var vectors [][]float32
	if l.embedder != nil {
		texts := make([]string, len(files))
		for i, sf := range files {
			texts[i] = sf.title + "\n\n" + sf.guidance
		}
		vecs, err := l.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed skills: %w", err)
		}
		vectors = vecs
	}

	now := time.Now().Unix()
	for i, sf := range files {
		id := sf.hash

		// Replace any previous revision of this file, vector row included.
		var oldID string
		err := l.db.QueryRowContext(ctx, `SELECT id FROM skills WHERE path = ?`, sf.path).Scan(&oldID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if oldID != "" {
			if _, err := l.db.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, oldID); err != nil {
				return err
			}
			if l.embedder != nil {
				if _, err := l.db.ExecContext(ctx, `DELETE FROM skill_vectors WHERE skill_id = ?`, oldID); err != nil {
					return err
				}
			}
		}
		if _, err := l.db.ExecContext(ctx, `
			INSERT INTO skills (id, path, content_hash, title, guidance, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, sf.path, sf.hash, sf.title, sf.guidance, now); err != nil {
			return err
		}

		if l.embedder != nil {
			embeddingJSON, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			if _, err := l.db.ExecContext(ctx, `DELETE FROM skill_vectors WHERE skill_id = ?`, id); err != nil {
				return err
			}
			if _, err := l.db.ExecContext(ctx, `
				INSERT INTO skill_vectors (skill_id, embedding) VALUES (?, ?)
			`, id, string(embeddingJSON)); err != nil {
				return err
			}
		}
	}

	return nil
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 2 {
			tokens[f] = true
		}
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}

type skillFile struct {
	path     string
	hash     string
	title    string
	guidance string
}

// parseSkillFile extracts the title from the first level-one heading, falling
// back to the file name, and treats the remainder as guidance.
func parseSkillFile(path string, data []byte) skillFile {
	sum := sha256.Sum256(append([]byte(path+"\x00"), data...))

	content := strings.TrimSpace(string(data))
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	guidance := content

	lines := strings.SplitN(content, "\n", 2)
	if strings.HasPrefix(lines[0], "# ") {
		title = strings.TrimSpace(strings.TrimPrefix(lines[0], "# "))
		if len(lines) > 1 {
			guidance = strings.TrimSpace(lines[1])
		} else {
			guidance = ""
		}
	}

	return skillFile{
		path:     path,
		hash:     hex.EncodeToString(sum[:]),
		title:    title,
		guidance: guidance,
	}
}
