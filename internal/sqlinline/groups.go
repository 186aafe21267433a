package sqlinline

const QInsertGroup = `--sql 99be5e39-d2a8-4cc3-b57d-d6f9e00e9c55
insert into groups (id, name, created_at)
values ($1, $2, $3);
`

const QSelectGroup = `--sql 58405300-ea5c-4a90-892d-04d5582cd1ae
select id, name, created_at
from groups
where id = $1;
`

// Cascade deletion runs inside one transaction: child jobs are deleted and
// returned first so external references survive long enough for cleanup,
// then the group row goes.
const QDeleteGroupJobs = `--sql 9976e581-36bd-4250-8547-29b5860f102f
delete from jobs
where group_id = $1
returning id, group_id, mode, status, params, batch_refs, staged_uploads, artifacts, error_message, created_at, updated_at, completed_at;
`

const QDeleteGroup = `--sql 70cafef7-ec2e-4b3b-b59c-1846717c0940
delete from groups
where id = $1;
`
