package sqlite

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Versions are
// sequential starting from 1. The schema mirrors migrations/*.sql with
// UUIDs and JSON documents stored as TEXT.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS organizations (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL UNIQUE,
	settings    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	email            TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	phone            TEXT,
	role             TEXT NOT NULL DEFAULT 'user',
	is_active        INTEGER NOT NULL DEFAULT 1,
	preferences      TEXT NOT NULL DEFAULT '{}',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	first_name       TEXT NOT NULL,
	last_name        TEXT NOT NULL DEFAULT '',
	email            TEXT,
	phone            TEXT,
	company          TEXT,
	title            TEXT,
	status           TEXT NOT NULL DEFAULT 'lead',
	notes            TEXT,
	owner_id         TEXT NOT NULL,
	created_by_id    TEXT,
	visibility       TEXT NOT NULL DEFAULT 'org',
	visible_to       TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_org_email ON contacts(organization_id, lower(email))
	WHERE email IS NOT NULL;

CREATE TABLE IF NOT EXISTS deals (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	value            REAL NOT NULL DEFAULT 0,
	currency         TEXT NOT NULL DEFAULT 'USD',
	stage            TEXT NOT NULL DEFAULT 'lead',
	probability      INTEGER NOT NULL DEFAULT 0,
	expected_close   DATETIME,
	actual_close     DATETIME,
	contact_id       TEXT,
	owner_id         TEXT NOT NULL,
	created_by_id    TEXT,
	visibility       TEXT NOT NULL DEFAULT 'org',
	visible_to       TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	description      TEXT,
	status           TEXT NOT NULL DEFAULT 'todo',
	priority         TEXT NOT NULL DEFAULT 'medium',
	due_date         DATETIME,
	completed_at     DATETIME,
	assigned_to_id   TEXT,
	contact_id       TEXT,
	deal_id          TEXT,
	owner_id         TEXT NOT NULL,
	created_by_id    TEXT,
	visibility       TEXT NOT NULL DEFAULT 'org',
	visible_to       TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	type             TEXT NOT NULL,
	subject          TEXT NOT NULL,
	description      TEXT,
	contact_id       TEXT,
	deal_id          TEXT,
	user_id          TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT,
	link             TEXT,
	metadata         TEXT,
	user_id          TEXT NOT NULL,
	organization_id  TEXT NOT NULL,
	is_read          INTEGER NOT NULL DEFAULT 0,
	read_at          DATETIME,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);

CREATE TABLE IF NOT EXISTS audit_logs (
	id               TEXT PRIMARY KEY,
	action           TEXT NOT NULL,
	entity           TEXT NOT NULL,
	entity_id        TEXT,
	entity_name      TEXT,
	details          TEXT,
	user_id          TEXT,
	user_name        TEXT,
	organization_id  TEXT,
	ip_address       TEXT,
	user_agent       TEXT,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_org_created ON audit_logs(organization_id, created_at);
`,
	},
}
