package sqlinline

const QInsertJob = `--sql 55480180-e9bf-4bd2-9d1a-07b31b963971
insert into jobs (id, group_id, mode, status, params, batch_refs, staged_uploads, collected_refs, artifacts, error_message, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

const QSelectJob = `--sql 9e484946-77a4-425f-9946-bec35101bd3b
select id, group_id, mode, status, params, batch_refs, staged_uploads, collected_refs, artifacts, error_message, created_at, updated_at, completed_at
from jobs
where id = $1;
`

const QSelectJobsByGroup = `--sql df162a50-0152-45d0-938a-00322c1a6c1a
select id, group_id, mode, status, params, batch_refs, staged_uploads, collected_refs, artifacts, error_message, created_at, updated_at, completed_at
from jobs
where group_id = $1
order by created_at asc;
`

const QSelectJobsByStatus = `--sql 2ed7ba2c-651c-4409-807c-7ab3fa4ba377
select id, group_id, mode, status, params, batch_refs, staged_uploads, collected_refs, artifacts, error_message, created_at, updated_at, completed_at
from jobs
where status = $1
order by created_at asc;
`

// Conditional single-row update: the expected current status guards the
// write so overlapping invocations cannot clobber a newer transition.
const QUpdateJobStatus = `--sql f7ea93c8-16c4-46f1-8f26-fe805b08a3ff
update jobs
set status = $3,
    error_message = $4,
    batch_refs = $5,
    staged_uploads = $6,
    collected_refs = $7,
    artifacts = $8,
    updated_at = $9,
    completed_at = $10
where id = $1 and status = $2;
`

const QDeleteJob = `--sql 61a0fffa-97b4-45bb-a555-135a7007e61f
delete from jobs
where id = $1;
`
