package database

// Schema is the subset of the Pathfinder map schema this service touches.
const Schema = `
CREATE TABLE IF NOT EXISTS system (
	id            BIGSERIAL PRIMARY KEY,
	map_id        INTEGER     NOT NULL,
	system_id     INTEGER     NOT NULL,
	alias         TEXT        NOT NULL DEFAULT '',
	active        BOOLEAN     NOT NULL DEFAULT TRUE,
	updated       TIMESTAMPTZ NOT NULL DEFAULT now(),
	rally_updated TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_system_map_active ON system (map_id, active);

CREATE TABLE IF NOT EXISTS connection (
	id     BIGSERIAL PRIMARY KEY,
	map_id INTEGER NOT NULL,
	source BIGINT  NOT NULL REFERENCES system(id) ON DELETE CASCADE,
	target BIGINT  NOT NULL REFERENCES system(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_connection_map ON connection (map_id);
`

const queryActiveSystems = `
	SELECT system_id, alias
	FROM system
	WHERE active AND map_id = $1
	ORDER BY system_id
`

const queryConnections = `
	SELECT s1.system_id, s2.system_id
	FROM connection c
	JOIN system s1 ON s1.id = c.source
	JOIN system s2 ON s2.id = c.target
	WHERE c.map_id = $1
`

const queryCountActive = `
	SELECT count(*)
	FROM system
	WHERE active AND map_id = $1 AND system_id = $2
`

const updateRallyPoint = `
	UPDATE system
	SET updated = $1, rally_updated = $1
	WHERE active AND map_id = $2 AND system_id = $3
`
