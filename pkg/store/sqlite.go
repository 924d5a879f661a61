package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kubelens/kubelens/pkg/models"
)

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps writers serialized
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return store, nil
}

// migrate creates the database schema
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT,
		github_id TEXT UNIQUE,
		email TEXT,
		avatar_url TEXT,
		role TEXT DEFAULT 'viewer',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_login DATETIME
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user_agent TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		selected_clusters TEXT NOT NULL DEFAULT '[]',
		namespace TEXT NOT NULL DEFAULT '',
		page_size INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		notification_type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		resource TEXT,
		read INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// User methods

const userColumns = `id, username, password_hash, github_id, email, avatar_url, role, created_at, last_login`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) GetUser(id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) GetUserByUsername(username string) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) GetUserByGitHubID(githubID string) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID))
}

func (s *SQLiteStore) scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var idStr string
	var passwordHash, githubID, email, avatar, role sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(&idStr, &u.Username, &passwordHash, &githubID, &email, &avatar, &role, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.ID, _ = uuid.Parse(idStr)
	u.PasswordHash = passwordHash.String
	u.GitHubID = githubID.String
	u.Email = email.String
	u.AvatarURL = avatar.String
	if role.Valid && role.String != "" {
		u.Role = models.UserRole(role.String)
	} else {
		u.Role = models.UserRoleViewer
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now().UTC()
	if user.Role == "" {
		user.Role = models.UserRoleViewer
	}

	_, err := s.db.Exec(`INSERT INTO users (id, username, password_hash, github_id, email, avatar_url, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Username, nullString(user.PasswordHash), nullString(user.GitHubID),
		nullString(user.Email), nullString(user.AvatarURL), string(user.Role), user.CreatedAt)
	return err
}

func (s *SQLiteStore) UpdateUser(user *models.User) error {
	res, err := s.db.Exec(`UPDATE users SET username = ?, password_hash = ?, github_id = ?, email = ?, avatar_url = ?, role = ? WHERE id = ?`,
		user.Username, nullString(user.PasswordHash), nullString(user.GitHubID),
		nullString(user.Email), nullString(user.AvatarURL), string(user.Role), user.ID.String())
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *SQLiteStore) UpdateLastLogin(userID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE users SET last_login = ? WHERE id = ?`, time.Now().UTC(), userID.String())
	return err
}

// ListUsers returns all users, newest first
func (s *SQLiteStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of accounts. The server seeds the admin
// account only while this is zero.
func (s *SQLiteStore) CountUsers() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// Session methods

func (s *SQLiteStore) CreateSession(session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO sessions (id, user_id, user_agent, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID.String(), session.UserID.String(), nullString(session.UserAgent),
		session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	return err
}

func (s *SQLiteStore) GetSession(id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT id, user_id, user_agent, created_at, expires_at, revoked_at FROM sessions WHERE id = ?`, id.String())

	var sess models.Session
	var idStr, userIDStr string
	var userAgent sql.NullString
	var revokedAt sql.NullTime

	err := row.Scan(&idStr, &userIDStr, &userAgent, &sess.CreatedAt, &sess.ExpiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess.ID, _ = uuid.Parse(idStr)
	sess.UserID, _ = uuid.Parse(userIDStr)
	sess.UserAgent = userAgent.String
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

// RevokeSession marks a session as signed out. Revoking twice keeps the
// first timestamp.
func (s *SQLiteStore) RevokeSession(id uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now().UTC(), id.String())
	return err
}

func (s *SQLiteStore) RevokeUserSessions(userID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, time.Now().UTC(), userID.String())
	return err
}

// DeleteExpiredSessions removes sessions that expired before the given time
// and returns how many were removed.
func (s *SQLiteStore) DeleteExpiredSessions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Preference methods

// GetPreferences returns the stored preferences, or empty defaults when the
// user never saved any.
func (s *SQLiteStore) GetPreferences(userID uuid.UUID) (*models.Preferences, error) {
	row := s.db.QueryRow(`SELECT selected_clusters, namespace, page_size, updated_at FROM preferences WHERE user_id = ?`, userID.String())

	prefs := &models.Preferences{UserID: userID, SelectedClusters: []string{}}
	var clustersJSON string
	err := row.Scan(&clustersJSON, &prefs.Namespace, &prefs.PageSize, &prefs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(clustersJSON), &prefs.SelectedClusters); err != nil {
		return nil, fmt.Errorf("decode selected clusters: %w", err)
	}
	return prefs, nil
}

func (s *SQLiteStore) SavePreferences(prefs *models.Preferences) error {
	clusters := prefs.SelectedClusters
	if clusters == nil {
		clusters = []string{}
	}
	clustersJSON, err := json.Marshal(clusters)
	if err != nil {
		return err
	}
	prefs.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`INSERT INTO preferences (user_id, selected_clusters, namespace, page_size, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET selected_clusters = excluded.selected_clusters, namespace = excluded.namespace,
		page_size = excluded.page_size, updated_at = excluded.updated_at`,
		prefs.UserID.String(), string(clustersJSON), prefs.Namespace, prefs.PageSize, prefs.UpdatedAt)
	return err
}

// Notification methods

func (s *SQLiteStore) CreateNotification(notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	notification.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`INSERT INTO notifications (id, user_id, notification_type, title, message, resource, read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID.String(), notification.UserID.String(),
		string(notification.NotificationType), notification.Title, notification.Message,
		nullString(notification.Resource), boolToInt(notification.Read), notification.CreatedAt)
	return err
}

func (s *SQLiteStore) GetUserNotifications(userID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.db.Query(`SELECT id, user_id, notification_type, title, message, resource, read, created_at FROM notifications WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var idStr, userIDStr string
		var notificationType string
		var resource sql.NullString
		var read int

		if err := rows.Scan(&idStr, &userIDStr, &notificationType, &n.Title, &n.Message, &resource, &read, &n.CreatedAt); err != nil {
			return nil, err
		}

		n.ID, _ = uuid.Parse(idStr)
		n.UserID, _ = uuid.Parse(userIDStr)
		n.NotificationType = models.NotificationType(notificationType)
		n.Resource = resource.String
		n.Read = read == 1
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *SQLiteStore) GetUnreadNotificationCount(userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID.String()).Scan(&count)
	return count, err
}

// MarkNotificationRead marks one of the user's notifications as read. Another
// user's notification is reported as ErrNotFound.
func (s *SQLiteStore) MarkNotificationRead(userID, id uuid.UUID) error {
	res, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id.String(), userID.String())
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *SQLiteStore) MarkAllNotificationsRead(userID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE user_id = ?`, userID.String())
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
