package sqlstore

import (
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the per-database differences of the scenes table.
type Dialect struct {
	Name   string
	Driver string
	// Schema creates the scenes table if it does not exist.
	Schema string
	// InsertIgnore inserts a row unless the id already exists. Arguments:
	// id, canvas, created_at, updated_at.
	InsertIgnore string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		Schema: `CREATE TABLE IF NOT EXISTS scenes (
			id TEXT PRIMARY KEY,
			canvas TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0
		)`,
		InsertIgnore: `INSERT INTO scenes (id, canvas, created_at, updated_at, revision)
			VALUES (?, ?, ?, ?, 0) ON CONFLICT(id) DO NOTHING`,
	}

	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		Schema: `CREATE TABLE IF NOT EXISTS scenes (
			id TEXT PRIMARY KEY,
			canvas TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			revision BIGINT NOT NULL DEFAULT 0
		)`,
		InsertIgnore: `INSERT INTO scenes (id, canvas, created_at, updated_at, revision)
			VALUES (?, ?, ?, ?, 0) ON CONFLICT (id) DO NOTHING`,
		numbered: true,
	}

	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		Schema: `CREATE TABLE IF NOT EXISTS scenes (
			id VARCHAR(191) NOT NULL PRIMARY KEY,
			canvas LONGTEXT NOT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			revision BIGINT UNSIGNED NOT NULL DEFAULT 0
		)`,
		InsertIgnore: `INSERT IGNORE INTO scenes (id, canvas, created_at, updated_at, revision)
			VALUES (?, ?, ?, ?, 0)`,
	}
)

// DialectByName resolves a configured backend name.
func DialectByName(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "postgresql", "pg":
		return Postgres, true
	case "mysql", "mariadb":
		return MySQL, true
	default:
		return Dialect{}, false
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
