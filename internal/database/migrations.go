package database

// migrations are idempotent and applied in order on startup
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id         BIGINT PRIMARY KEY,
		username        TEXT NOT NULL DEFAULT '',
		first_name      TEXT NOT NULL DEFAULT '',
		last_name       TEXT NOT NULL DEFAULT '',
		language_code   TEXT NOT NULL DEFAULT '',
		referral_code   TEXT NOT NULL UNIQUE,
		referred_by     BIGINT REFERENCES users(user_id),
		total_referrals INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_active     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id         BIGINT PRIMARY KEY REFERENCES users(user_id),
		interface_lang  TEXT NOT NULL DEFAULT 'ar',
		transcribe_lang TEXT NOT NULL DEFAULT 'auto',
		task_type       TEXT NOT NULL DEFAULT 'transcribe',
		export_format   TEXT NOT NULL DEFAULT 'txt'
	)`,
	`CREATE TABLE IF NOT EXISTS user_quota (
		user_id            BIGINT PRIMARY KEY REFERENCES users(user_id),
		plan_type          TEXT NOT NULL DEFAULT 'free',
		minutes_used       DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (minutes_used >= 0),
		minutes_limit      INTEGER NOT NULL DEFAULT 5,
		bonus_minutes      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (bonus_minutes >= 0),
		last_reset         TIMESTAMPTZ NOT NULL DEFAULT now(),
		subscription_start TIMESTAMPTZ,
		subscription_end   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS quota_holds (
		id         UUID PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(user_id),
		minutes    DOUBLE PRECISION NOT NULL CHECK (minutes >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quota_holds_user ON quota_holds (user_id, expires_at)`,
	`CREATE TABLE IF NOT EXISTS usage_stats (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL REFERENCES users(user_id),
		file_type        TEXT NOT NULL,
		file_size        BIGINT NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		processing_time  DOUBLE PRECISION NOT NULL,
		language         TEXT NOT NULL DEFAULT '',
		task_type        TEXT NOT NULL,
		characters_count INTEGER NOT NULL,
		words_count      INTEGER NOT NULL,
		timestamp        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_stats_user ON usage_stats (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             UUID PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users(user_id),
		plan_type      TEXT NOT NULL,
		amount         DOUBLE PRECISION NOT NULL,
		currency       TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		payment_method TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		verified_at    TIMESTAMPTZ
	)`,
}
