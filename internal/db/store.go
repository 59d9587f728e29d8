package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store implements the query contracts the admin engine and sound manager
// consume: identity, levels, overrides, audit, bans, mutes and sound aliases.
type Store struct {
	db *Database
}

// AuditEntry is one executed admin command.
type AuditEntry struct {
	ID        int64     `json:"id"`
	PlayerID  int64     `json:"player_id"`
	GUID      string    `json:"guid"`
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	Args      string    `json:"args"`
	Target    string    `json:"target,omitempty"`
	Success   bool      `json:"success"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// Restriction is a ban or mute row. A zero ExpiresAt means permanent.
type Restriction struct {
	ID        int64     `json:"id"`
	GUID      string    `json:"guid"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	IssuedBy  string    `json:"issued_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Permanent reports whether the restriction never expires.
func (r Restriction) Permanent() bool {
	return r.ExpiresAt.IsZero()
}

// Active reports whether the restriction applies at now.
func (r Restriction) Active(now time.Time) bool {
	return r.Permanent() || r.ExpiresAt.After(now)
}

// Remaining returns the time left at now, zero for permanent rows.
func (r Restriction) Remaining(now time.Time) time.Duration {
	if r.Permanent() {
		return 0
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// SoundAlias binds a quick-command alias to a clip in the owner's namespace.
type SoundAlias struct {
	GUID  string `json:"guid"`
	Alias string `json:"alias"`
	Sound string `json:"sound"`
	Text  string `json:"text,omitempty"`
}

// CommandOverride is an explicit allow or deny of one command for one player.
type CommandOverride struct {
	GUID    string `json:"guid"`
	Command string `json:"command"`
	Allowed bool   `json:"allowed"`
}

// Open opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guid TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS aliases (
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			uses INTEGER NOT NULL DEFAULT 1,
			last_used INTEGER NOT NULL,
			PRIMARY KEY (player_id, name),
			FOREIGN KEY (player_id) REFERENCES players(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS command_overrides (
			guid TEXT NOT NULL,
			command TEXT NOT NULL,
			allowed INTEGER NOT NULL,
			PRIMARY KEY (guid, command)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id INTEGER NOT NULL DEFAULT -1,
			guid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			args TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			origin TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			issued_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS mutes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			issued_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS sound_aliases (
			guid TEXT NOT NULL,
			alias TEXT NOT NULL,
			sound TEXT NOT NULL,
			chat_text TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (guid, alias)
		);

		CREATE INDEX IF NOT EXISTS idx_bans_guid ON bans(guid);
		CREATE INDEX IF NOT EXISTS idx_mutes_guid ON mutes(guid);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`

	_, err := s.db.Exec(ctx, schema)
	return err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// ---- Players ----

// ResolvePlayer returns the id for guid, creating the row on first sight.
func (s *Store) ResolvePlayer(ctx context.Context, guid, name string) (int64, error) {
	now := time.Now().Unix()
	var id int64

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO players (guid, name, first_seen, last_seen) VALUES (?, ?, ?, ?)
			ON CONFLICT(guid) DO UPDATE SET name = excluded.name, last_seen = excluded.last_seen`,
			guid, name, now, now); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, "SELECT id FROM players WHERE guid = ?", guid).Scan(&id)
	})
	if err != nil {
		return -1, unavailable("resolve player", err)
	}
	return id, nil
}

// RecordAlias records a name used by a player.
func (s *Store) RecordAlias(ctx context.Context, playerID int64, name string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO aliases (player_id, name, last_used) VALUES (?, ?, ?)
		ON CONFLICT(player_id, name) DO UPDATE SET uses = uses + 1, last_used = excluded.last_used`,
		playerID, name, time.Now().Unix())
	if err != nil {
		return unavailable("record alias", err)
	}
	return nil
}

// Aliases returns the names a player has used, most recent first.
func (s *Store) Aliases(ctx context.Context, playerID int64, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT name FROM aliases WHERE player_id = ? ORDER BY last_used DESC LIMIT ?", playerID, limit)
	if err != nil {
		return nil, unavailable("list aliases", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, unavailable("scan alias", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AdminLevel returns the stored level for guid, 0 when unknown.
func (s *Store) AdminLevel(ctx context.Context, guid string) (int, error) {
	var level int
	err := s.db.QueryRow(ctx, "SELECT level FROM players WHERE guid = ?", guid).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("admin level", err)
	}
	return level, nil
}

// SetAdminLevel stores level for guid, creating the player if needed.
func (s *Store) SetAdminLevel(ctx context.Context, guid, name string, level int) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(ctx, `
		INSERT INTO players (guid, name, level, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET level = excluded.level`,
		guid, name, level, now, now)
	if err != nil {
		return unavailable("set admin level", err)
	}
	return nil
}

// ---- Command overrides ----

// CommandOverride returns the explicit grant for guid and command. found is
// false when no row exists.
func (s *Store) CommandOverride(ctx context.Context, guid, command string) (allowed, found bool, err error) {
	var v int
	err = s.db.QueryRow(ctx,
		"SELECT allowed FROM command_overrides WHERE guid = ? AND command = ?",
		guid, strings.ToLower(command)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, unavailable("command override", err)
	}
	return v != 0, true, nil
}

// SetCommandOverride stores an explicit allow or deny.
func (s *Store) SetCommandOverride(ctx context.Context, guid, command string, allowed bool) error {
	v := 0
	if allowed {
		v = 1
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO command_overrides (guid, command, allowed) VALUES (?, ?, ?)
		ON CONFLICT(guid, command) DO UPDATE SET allowed = excluded.allowed`,
		guid, strings.ToLower(command), v)
	if err != nil {
		return unavailable("set command override", err)
	}
	return nil
}

// ClearCommandOverride removes an override, returning whether one existed.
func (s *Store) ClearCommandOverride(ctx context.Context, guid, command string) (bool, error) {
	res, err := s.db.Exec(ctx,
		"DELETE FROM command_overrides WHERE guid = ? AND command = ?", guid, strings.ToLower(command))
	if err != nil {
		return false, unavailable("clear command override", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CommandOverrides lists the overrides for guid, or all when guid is empty.
func (s *Store) CommandOverrides(ctx context.Context, guid string) ([]CommandOverride, error) {
	query := "SELECT guid, command, allowed FROM command_overrides"
	var args []interface{}
	if guid != "" {
		query += " WHERE guid = ?"
		args = append(args, guid)
	}
	query += " ORDER BY guid, command"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list command overrides", err)
	}
	defer rows.Close()

	var out []CommandOverride
	for rows.Next() {
		var o CommandOverride
		var v int
		if err := rows.Scan(&o.GUID, &o.Command, &v); err != nil {
			return nil, unavailable("scan command override", err)
		}
		o.Allowed = v != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- Audit log ----

// InsertAudit appends one audit row.
func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (player_id, guid, name, command, args, target, success, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PlayerID, e.GUID, e.Name, e.Command, e.Args, e.Target, success, e.Origin, e.CreatedAt.Unix())
	if err != nil {
		return unavailable("insert audit", err)
	}
	return nil
}

// RecentAudit returns the newest audit rows.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, player_id, guid, name, command, args, target, success, origin, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("recent audit", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var success int
		var created int64
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.GUID, &e.Name, &e.Command, &e.Args,
			&e.Target, &success, &e.Origin, &created); err != nil {
			return nil, unavailable("scan audit", err)
		}
		e.Success = success != 0
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- Bans and mutes ----

type restrictionTable string

const (
	tableBans  restrictionTable = "bans"
	tableMutes restrictionTable = "mutes"
)

func (s *Store) active(ctx context.Context, table restrictionTable, guid string, now time.Time) (*Restriction, error) {
	// Permanent rows sort first, then the latest expiry.
	query := fmt.Sprintf(`
		SELECT id, guid, name, reason, issued_by, created_at, expires_at FROM %s
		WHERE guid = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY (expires_at = 0) DESC, expires_at DESC LIMIT 1`, table)

	var r Restriction
	var created, expires int64
	err := s.db.QueryRow(ctx, query, guid, now.Unix()).
		Scan(&r.ID, &r.GUID, &r.Name, &r.Reason, &r.IssuedBy, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("active "+string(table), err)
	}
	r.CreatedAt = time.Unix(created, 0)
	r.ExpiresAt = timeOrZero(expires)
	return &r, nil
}

func (s *Store) insert(ctx context.Context, table restrictionTable, r Restriction) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (guid, name, reason, issued_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`, table)

	res, err := s.db.Exec(ctx, query, r.GUID, r.Name, r.Reason, r.IssuedBy,
		r.CreatedAt.Unix(), unixOrZero(r.ExpiresAt))
	if err != nil {
		return 0, unavailable("insert "+string(table), err)
	}
	return res.LastInsertId()
}

func (s *Store) remove(ctx context.Context, table restrictionTable, guid string) (int64, error) {
	res, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE guid = ?", table), guid)
	if err != nil {
		return 0, unavailable("remove "+string(table), err)
	}
	return res.RowsAffected()
}

// ActiveBan returns the ban in force for guid at now, or nil.
func (s *Store) ActiveBan(ctx context.Context, guid string, now time.Time) (*Restriction, error) {
	return s.active(ctx, tableBans, guid, now)
}

// InsertBan stores a ban and returns its id.
func (s *Store) InsertBan(ctx context.Context, r Restriction) (int64, error) {
	return s.insert(ctx, tableBans, r)
}

// RemoveBans deletes every ban for guid.
func (s *Store) RemoveBans(ctx context.Context, guid string) (int64, error) {
	return s.remove(ctx, tableBans, guid)
}

// ActiveMute returns the mute in force for guid at now, or nil.
func (s *Store) ActiveMute(ctx context.Context, guid string, now time.Time) (*Restriction, error) {
	return s.active(ctx, tableMutes, guid, now)
}

// InsertMute stores a mute and returns its id.
func (s *Store) InsertMute(ctx context.Context, r Restriction) (int64, error) {
	return s.insert(ctx, tableMutes, r)
}

// RemoveMutes deletes every mute for guid.
func (s *Store) RemoveMutes(ctx context.Context, guid string) (int64, error) {
	return s.remove(ctx, tableMutes, guid)
}

// ExpireRestrictions deletes bans and mutes whose expiry is at or before now.
func (s *Store) ExpireRestrictions(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []restrictionTable{tableBans, tableMutes} {
			res, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE expires_at != 0 AND expires_at <= ?", table), now.Unix())
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("expire restrictions", err)
	}
	return total, nil
}

// ---- Sound aliases ----

// SoundAlias returns the binding for guid and alias, or nil.
func (s *Store) SoundAlias(ctx context.Context, guid, alias string) (*SoundAlias, error) {
	a := SoundAlias{GUID: guid, Alias: alias}
	err := s.db.QueryRow(ctx,
		"SELECT sound, chat_text FROM sound_aliases WHERE guid = ? AND alias = ?", guid, alias).
		Scan(&a.Sound, &a.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("sound alias", err)
	}
	return &a, nil
}

// SetSoundAlias creates or replaces a binding.
func (s *Store) SetSoundAlias(ctx context.Context, a SoundAlias) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sound_aliases (guid, alias, sound, chat_text) VALUES (?, ?, ?, ?)
		ON CONFLICT(guid, alias) DO UPDATE SET sound = excluded.sound, chat_text = excluded.chat_text`,
		a.GUID, a.Alias, a.Sound, a.Text)
	if err != nil {
		return unavailable("set sound alias", err)
	}
	return nil
}

// DeleteSoundAlias removes a binding, returning whether it existed.
func (s *Store) DeleteSoundAlias(ctx context.Context, guid, alias string) (bool, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM sound_aliases WHERE guid = ? AND alias = ?", guid, alias)
	if err != nil {
		return false, unavailable("delete sound alias", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RenameSoundReferences repoints bindings after a clip rename.
func (s *Store) RenameSoundReferences(ctx context.Context, guid, oldName, newName string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE sound_aliases SET sound = ? WHERE guid = ? AND sound = ?", newName, guid, oldName)
	if err != nil {
		return unavailable("rename sound references", err)
	}
	return nil
}

// DeleteSoundReferences drops bindings to a deleted clip.
func (s *Store) DeleteSoundReferences(ctx context.Context, guid, sound string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM sound_aliases WHERE guid = ? AND sound = ?", guid, sound)
	if err != nil {
		return unavailable("delete sound references", err)
	}
	return nil
}
