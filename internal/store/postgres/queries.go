package postgres

// SQL queries for profile-state storage. One row per (profile_id, key); the
// whole value is always written back, so upsert is last-write-wins by design.

const (
	queryGetValue = `
		SELECT value
		FROM profile_state
		WHERE profile_id = $1 AND key = $2
	`

	queryUpsertValue = `
		INSERT INTO profile_state (profile_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`

	queryDeleteValue = `
		DELETE FROM profile_state
		WHERE profile_id = $1 AND key = $2
	`

	queryClearProfile = `
		DELETE FROM profile_state
		WHERE profile_id = $1
	`
)
