// Package storage provides SQLite-backed persistence for posts, comments,
// and per-comment emotion scores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"emolens/internal/domain"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	title TEXT,
	topic TEXT,
	author TEXT,
	like_cnt INTEGER DEFAULT 0,
	repost_cnt INTEGER DEFAULT 0,
	comment_cnt INTEGER DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL,
	user TEXT,
	text TEXT,
	ts TEXT,
	like_cnt INTEGER DEFAULT 0,
	dedup_key INTEGER NOT NULL,
	UNIQUE(post_id, dedup_key),
	FOREIGN KEY (post_id) REFERENCES posts (id)
);

CREATE TABLE IF NOT EXISTS emotions (
	comment_id INTEGER PRIMARY KEY,
	anger REAL,
	disgust REAL,
	fear REAL,
	joy REAL,
	sadness REAL,
	surprise REAL,
	labels TEXT,
	source TEXT,
	FOREIGN KEY (comment_id) REFERENCES comments (id)
);
`

// PostRecord is a stored post row.
type PostRecord struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Topic        string    `json:"topic"`
	Author       string    `json:"author"`
	LikeCount    int       `json:"like_count"`
	RepostCount  int       `json:"repost_count"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CommentRecord is a stored comment row joined with its emotion scores.
type CommentRecord struct {
	ID        int64      `json:"id"`
	User      string     `json:"user"`
	Text      string     `json:"text"`
	Timestamp string     `json:"timestamp"`
	LikeCount int        `json:"like_count"`
	Scores    [6]float64 `json:"scores"`
	Labels    []string   `json:"labels"`
	Source    string     `json:"source"`
}

// Store provides SQLite-backed persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath, enables WAL, and creates
// tables when they do not already exist.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAnalysis persists a pipeline result in one transaction: the post
// (upserted by url), its comments, and the per-comment emotion scores.
// Reprocessing the same URL updates the existing post row.
func (s *Store) SaveAnalysis(ctx context.Context, result domain.PipelineResult) (int64, error) {
	if len(result.Comments) != len(result.Results) {
		return 0, fmt.Errorf("storage: %d comments but %d results", len(result.Comments), len(result.Results))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	postID, err := upsertPost(ctx, tx, result.Post, len(result.Comments))
	if err != nil {
		return 0, err
	}

	for i, comment := range result.Comments {
		commentID, err := upsertComment(ctx, tx, postID, comment)
		if err != nil {
			return 0, err
		}
		if err := upsertEmotion(ctx, tx, commentID, result.Results[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit: %w", err)
	}
	return postID, nil
}

func upsertPost(ctx context.Context, tx *sql.Tx, post domain.Post, commentCount int) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO posts (url, title, topic, author, like_cnt, repost_cnt, comment_cnt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			topic = excluded.topic,
			author = excluded.author,
			like_cnt = excluded.like_cnt,
			repost_cnt = excluded.repost_cnt,
			comment_cnt = excluded.comment_cnt`,
		post.URL, post.Title, post.Topic, post.Author,
		post.LikeCount, post.RepostCount, commentCount,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert post: %w", err)
	}

	var postID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE url = ?`, post.URL).Scan(&postID); err != nil {
		return 0, fmt.Errorf("storage: post id lookup: %w", err)
	}
	return postID, nil
}

func upsertComment(ctx context.Context, tx *sql.Tx, postID int64, comment domain.Comment) (int64, error) {
	ts := ""
	if !comment.Timestamp.IsZero() {
		ts = comment.Timestamp.Format(time.RFC3339)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO comments (post_id, user, text, ts, like_cnt, dedup_key)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(post_id, dedup_key) DO UPDATE SET like_cnt = excluded.like_cnt`,
		postID, comment.User, comment.Text, ts, comment.LikeCount, int64(comment.DedupKey),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert comment: %w", err)
	}

	var commentID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM comments WHERE post_id = ? AND dedup_key = ?`,
		postID, int64(comment.DedupKey),
	).Scan(&commentID)
	if err != nil {
		return 0, fmt.Errorf("storage: comment id lookup: %w", err)
	}
	return commentID, nil
}

func upsertEmotion(ctx context.Context, tx *sql.Tx, commentID int64, result domain.ClassificationResult) error {
	labels := make([]string, len(result.Labels))
	for i, label := range result.Labels {
		labels[i] = string(label)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO emotions
			(comment_id, anger, disgust, fear, joy, sadness, surprise, labels, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		commentID,
		result.Scores[0], result.Scores[1], result.Scores[2],
		result.Scores[3], result.Scores[4], result.Scores[5],
		strings.Join(labels, ","), string(result.Source),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert emotion: %w", err)
	}
	return nil
}

// EmotionDistribution returns the per-emotion score averages across all
// classified comments of a post, in canonical emotion order.
func (s *Store) EmotionDistribution(ctx context.Context, postID int64) ([6]float64, error) {
	var dist [6]float64
	var avgs [6]sql.NullFloat64

	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(anger), AVG(disgust), AVG(fear), AVG(joy), AVG(sadness), AVG(surprise)
		 FROM emotions
		 JOIN comments ON emotions.comment_id = comments.id
		 WHERE comments.post_id = ?`,
		postID,
	).Scan(&avgs[0], &avgs[1], &avgs[2], &avgs[3], &avgs[4], &avgs[5])
	if err != nil {
		return dist, fmt.Errorf("storage: emotion distribution: %w", err)
	}

	for i, avg := range avgs {
		if avg.Valid {
			dist[i] = avg.Float64
		}
	}
	return dist, nil
}

// RecentPosts returns the most recently analyzed posts for the history view.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]PostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, topic, author, like_cnt, repost_cnt, comment_cnt, created_at
		 FROM posts
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent posts: %w", err)
	}
	defer rows.Close()

	var posts []PostRecord
	for rows.Next() {
		var p PostRecord
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.Topic, &p.Author,
			&p.LikeCount, &p.RepostCount, &p.CommentCount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CommentsWithEmotions returns a post's comments joined with their emotion
// scores, in insertion order.
func (s *Store) CommentsWithEmotions(ctx context.Context, postID int64) ([]CommentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT comments.id, comments.user, comments.text, comments.ts, comments.like_cnt,
			COALESCE(emotions.anger, 0), COALESCE(emotions.disgust, 0), COALESCE(emotions.fear, 0),
			COALESCE(emotions.joy, 0), COALESCE(emotions.sadness, 0), COALESCE(emotions.surprise, 0),
			COALESCE(emotions.labels, ''), COALESCE(emotions.source, '')
		 FROM comments
		 LEFT JOIN emotions ON emotions.comment_id = comments.id
		 WHERE comments.post_id = ?
		 ORDER BY comments.id ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: comments with emotions: %w", err)
	}
	defer rows.Close()

	var comments []CommentRecord
	for rows.Next() {
		var c CommentRecord
		var labels string
		if err := rows.Scan(&c.ID, &c.User, &c.Text, &c.Timestamp, &c.LikeCount,
			&c.Scores[0], &c.Scores[1], &c.Scores[2], &c.Scores[3], &c.Scores[4], &c.Scores[5],
			&labels, &c.Source); err != nil {
			return nil, fmt.Errorf("storage: scan comment: %w", err)
		}
		if labels != "" {
			c.Labels = strings.Split(labels, ",")
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
