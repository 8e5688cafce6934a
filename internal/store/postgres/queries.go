package postgres

// scheduled_jobs keeps the queryable lifecycle fields as plain columns
// and the nested structures (schedule, customers, config, cache,
// execution, email_stats, history, actors) as JSONB.

const jobColumns = `
    id, job_type, status, is_active,
    schedule, customers, config, cache,
    execution, email_stats, history,
    created_by, modified_by,
    next_run_at, created_at, updated_at`

const queryInsertJob = `
INSERT INTO scheduled_jobs (
    id, job_type, status, is_active,
    schedule, customers, config, cache,
    execution, email_stats, history,
    created_by, modified_by,
    next_run_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const queryGetJob = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE id = $1
`

const queryGetJobForUpdate = queryGetJob + `FOR UPDATE
`

const queryUpdateJob = `
UPDATE scheduled_jobs
SET job_type = $2, status = $3, is_active = $4,
    schedule = $5, customers = $6, config = $7, cache = $8,
    execution = $9, email_stats = $10, history = $11,
    created_by = $12, modified_by = $13,
    next_run_at = $14, updated_at = $15
WHERE id = $1
  AND status = $16
`

const queryGetJobStatus = `
SELECT status FROM scheduled_jobs WHERE id = $1
`

const queryClaimJob = `
UPDATE scheduled_jobs
SET status = 'PROCESSING', updated_at = $2
WHERE id = $1
  AND status IN ('SCHEDULED', 'CACHED', 'COMPLETED', 'FAILED')
RETURNING` + jobColumns

const queryDeleteJob = `
DELETE FROM scheduled_jobs WHERE id = $1
RETURNING id
`

const queryCountByStatus = `
SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status
`

const queryCountByType = `
SELECT job_type, COUNT(*) FROM scheduled_jobs GROUP BY job_type
`

const queryUpcomingJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE is_active = true
  AND status IN ('SCHEDULED', 'COMPLETED', 'FAILED')
  AND next_run_at IS NOT NULL
  AND next_run_at > $1
ORDER BY next_run_at ASC
LIMIT $2
`

const queryRecentJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE status = $1
ORDER BY updated_at DESC
LIMIT $2
`

// COMPLETED and FAILED are terminal for a cycle, not for the job: a
// recurring job finishes each cycle in one of them with next_run_at
// re-armed, and is dispatched again from there on the next tick.
const queryDueJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE is_active = true
  AND status IN ('SCHEDULED', 'COMPLETED', 'FAILED')
  AND next_run_at IS NOT NULL
  AND next_run_at <= $1
ORDER BY next_run_at ASC
LIMIT $2
`

const queryStuckJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE status IN ('PROCESSING', 'SENDING')
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`
