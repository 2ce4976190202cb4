package postgres

const Schema = `
CREATE TABLE IF NOT EXISTS events (
  id                 BIGSERIAL PRIMARY KEY,
  facilitator_id     TEXT        NOT NULL,
  title              TEXT        NOT NULL,
  start_time         TIMESTAMPTZ NOT NULL,
  duration_minutes   INT         NOT NULL CHECK (duration_minutes > 0),
  available_capacity INT         NOT NULL CHECK (available_capacity >= 0),
  cancelled          BOOLEAN     NOT NULL DEFAULT FALSE,
  status             TEXT        NOT NULL CHECK (status IN ('AWAITING','IN_PROGRESS','COMPLETED','CANCELLED')),
  version            BIGINT      NOT NULL DEFAULT 0,
  created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS events_status_start_idx ON events (status, start_time) WHERE NOT cancelled;

CREATE TABLE IF NOT EXISTS seat_claims (
  event_id   BIGINT      NOT NULL REFERENCES events(id),
  booking_id BIGINT      NOT NULL,
  claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (event_id, booking_id)
);
`

const eventColumns = `id, facilitator_id, title, start_time, duration_minutes,
  available_capacity, cancelled, status, version, created_at, updated_at`

const insertEventSQL = `
INSERT INTO events (facilitator_id, title, start_time, duration_minutes,
  available_capacity, cancelled, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING ` + eventColumns

const getEventSQL = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

const lockEventSQL = getEventSQL + ` FOR UPDATE`

// The boundary is start_time for AWAITING and start_time + duration for IN_PROGRESS.
const lockDueSQL = `
SELECT ` + eventColumns + `
FROM events
WHERE status = $1
  AND NOT cancelled
  AND (CASE WHEN $1 = 'IN_PROGRESS'
            THEN start_time + make_interval(mins => duration_minutes)
            ELSE start_time END) <= $2
ORDER BY start_time, id
LIMIT $3
FOR UPDATE SKIP LOCKED
`

const updateEventSQL = `
UPDATE events SET
  available_capacity = $3, cancelled = $4, status = $5, updated_at = $6,
  version = version + 1
WHERE id = $1 AND version = $2
`

const insertClaimSQL = `
INSERT INTO seat_claims (event_id, booking_id, claimed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, booking_id) DO NOTHING
`

const deleteClaimSQL = `DELETE FROM seat_claims WHERE event_id = $1 AND booking_id = $2`

const hasClaimSQL = `SELECT EXISTS(SELECT 1 FROM seat_claims WHERE event_id = $1 AND booking_id = $2)`
