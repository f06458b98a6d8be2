package store

// Relational schema for the orchestration core. The unique index on
// analysis_locks enforces at most one lock per
// (project_id, branch_name, analysis_type); acquisition relies on the insert
// conflicting under contention rather than a pre-read.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT NOT NULL,
    namespace       TEXT NOT NULL DEFAULT '',
    workspace_id    BIGINT NOT NULL DEFAULT 0,
    provider        TEXT NOT NULL,
    base_url        TEXT NOT NULL DEFAULT '',
    workspace       TEXT NOT NULL DEFAULT '',
    repo_slug       TEXT NOT NULL DEFAULT '',
    token           TEXT NOT NULL DEFAULT '',
    ai_binding      TEXT NOT NULL DEFAULT '',
    default_branch  TEXT NOT NULL DEFAULT '',
    config          JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pull_requests (
    id                  BIGSERIAL PRIMARY KEY,
    project_id          BIGINT NOT NULL REFERENCES projects(id),
    pr_number           INT NOT NULL,
    source_branch_name  TEXT NOT NULL,
    target_branch_name  TEXT NOT NULL,
    commit_hash         TEXT NOT NULL,
    pr_version          INT NOT NULL DEFAULT 1,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (project_id, pr_number)
);

CREATE TABLE IF NOT EXISTS code_analyses (
    id                  BIGSERIAL PRIMARY KEY,
    project_id          BIGINT NOT NULL REFERENCES projects(id),
    analysis_type       TEXT NOT NULL,
    pr_number           INT,
    branch_name         TEXT NOT NULL,
    source_branch_name  TEXT NOT NULL DEFAULT '',
    commit_hash         TEXT NOT NULL,
    pr_version          INT NOT NULL DEFAULT 1,
    status              TEXT NOT NULL,
    comment             TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS code_analyses_fingerprint
    ON code_analyses (project_id, commit_hash, COALESCE(pr_number, -1))
    WHERE status = 'ACCEPTED';

CREATE TABLE IF NOT EXISTS code_analysis_issues (
    id            BIGSERIAL PRIMARY KEY,
    analysis_id   BIGINT NOT NULL REFERENCES code_analyses(id) ON DELETE CASCADE,
    file_path     TEXT NOT NULL,
    line_number   INT,
    severity      TEXT NOT NULL,
    reason        TEXT NOT NULL,
    suggested_fix_description TEXT NOT NULL DEFAULT '',
    resolved      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS code_analysis_issues_file
    ON code_analysis_issues (file_path);

CREATE TABLE IF NOT EXISTS branches (
    id                           BIGSERIAL PRIMARY KEY,
    project_id                   BIGINT NOT NULL REFERENCES projects(id),
    branch_name                  TEXT NOT NULL,
    commit_hash                  TEXT NOT NULL DEFAULT '',
    last_successful_commit_hash  TEXT NOT NULL DEFAULT '',
    health_status                TEXT NOT NULL DEFAULT 'UNKNOWN',
    consecutive_failures         INT NOT NULL DEFAULT 0,
    last_health_check_at         TIMESTAMPTZ,
    total_issues                 INT NOT NULL DEFAULT 0,
    high_severity_count          INT NOT NULL DEFAULT 0,
    medium_severity_count        INT NOT NULL DEFAULT 0,
    low_severity_count           INT NOT NULL DEFAULT 0,
    info_severity_count          INT NOT NULL DEFAULT 0,
    resolved_count               INT NOT NULL DEFAULT 0,
    updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (project_id, branch_name)
);

CREATE TABLE IF NOT EXISTS branch_issues (
    id                      BIGSERIAL PRIMARY KEY,
    branch_id               BIGINT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
    code_analysis_issue_id  BIGINT NOT NULL REFERENCES code_analysis_issues(id),
    severity                TEXT NOT NULL,
    resolved                BOOLEAN NOT NULL DEFAULT FALSE,
    first_detected_pr_number INT,
    resolved_in_pr_number   INT,
    resolved_in_commit_hash TEXT NOT NULL DEFAULT '',
    resolved_description    TEXT NOT NULL DEFAULT '',
    resolved_at             TIMESTAMPTZ,
    resolved_by             TEXT NOT NULL DEFAULT '',
    UNIQUE (branch_id, code_analysis_issue_id)
);

CREATE TABLE IF NOT EXISTS branch_files (
    id          BIGSERIAL PRIMARY KEY,
    project_id  BIGINT NOT NULL REFERENCES projects(id),
    branch_name TEXT NOT NULL,
    file_path   TEXT NOT NULL,
    issue_count INT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (project_id, branch_name, file_path)
);

CREATE TABLE IF NOT EXISTS analysis_locks (
    lock_key      TEXT PRIMARY KEY,
    project_id    BIGINT NOT NULL,
    branch_name   TEXT NOT NULL,
    analysis_type TEXT NOT NULL,
    commit_hash   TEXT NOT NULL DEFAULT '',
    pr_number     INT,
    acquired_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at    TIMESTAMPTZ NOT NULL
);

-- Single holder per tuple. The index cannot be partial on expires_at
-- (now() is not immutable), so acquirers delete expired rows inline
-- before inserting.
CREATE UNIQUE INDEX IF NOT EXISTS analysis_locks_tuple
    ON analysis_locks (project_id, branch_name, analysis_type);
`
