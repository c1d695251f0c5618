package storage

const schema = `
-- Question corpus. Keyed by the content hash of the normalized text, so an
-- edited question re-enters as a new card.
CREATE TABLE IF NOT EXISTS questions (
    id        TEXT PRIMARY KEY,
    source_id INTEGER,
    topic     TEXT NOT NULL DEFAULT '',
    question  TEXT NOT NULL,
    answer    TEXT NOT NULL,
    context   TEXT NOT NULL DEFAULT '',

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

-- Corpus sources: local directories or git repositories.
CREATE TABLE IF NOT EXISTS sources (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    type         TEXT NOT NULL,           -- 'local' or 'git'
    path         TEXT NOT NULL UNIQUE,
    last_scanned DATETIME
);

-- Scheduling state, one row per question.
CREATE TABLE IF NOT EXISTS cards (
    question_id    TEXT PRIMARY KEY,
    topic          TEXT NOT NULL DEFAULT '',
    difficulty     REAL NOT NULL DEFAULT 0,
    stability      REAL NOT NULL DEFAULT 0,
    retrievability REAL NOT NULL DEFAULT 0,
    state          INTEGER NOT NULL DEFAULT 0, -- 0:New 1:Learning 2:Review 3:Relearning
    step_index     INTEGER NOT NULL DEFAULT 0,
    last_review_at DATETIME,
    next_review_at DATETIME NOT NULL,
    review_count   INTEGER NOT NULL DEFAULT 0,
    lapse_count    INTEGER NOT NULL DEFAULT 0,
    success_count  INTEGER NOT NULL DEFAULT 0,
    suspended      INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(question_id) REFERENCES questions(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_next_review ON cards(next_review_at);
CREATE INDEX IF NOT EXISTS idx_cards_state ON cards(state);

-- Append-only answer log. Never updated or deleted.
CREATE TABLE IF NOT EXISTS review_events (
    id                    TEXT PRIMARY KEY,
    card_id               TEXT NOT NULL,
    session_id            TEXT,
    reviewed_at           DATETIME NOT NULL,
    rating                INTEGER NOT NULL,       -- 1:Again 2:Hard 3:Good 4:Easy
    response_time_ms      INTEGER NOT NULL DEFAULT 0,
    difficulty_before     REAL NOT NULL,
    stability_before      REAL NOT NULL,
    retrievability_before REAL NOT NULL,
    difficulty_after      REAL NOT NULL,
    stability_after       REAL NOT NULL,
    retrievability_after  REAL NOT NULL,
    interval_days         INTEGER NOT NULL
    -- no FK on card_id: events outlive their card when a question is
    -- removed from its corpus
);
CREATE INDEX IF NOT EXISTS idx_review_events_card ON review_events(card_id);
CREATE INDEX IF NOT EXISTS idx_review_events_time ON review_events(reviewed_at);

CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL,
    started_at       DATETIME NOT NULL,
    ended_at         DATETIME,
    target_retention REAL NOT NULL,
    max_reviews      INTEGER NOT NULL,
    reviewed         INTEGER NOT NULL DEFAULT 0,
    correct          INTEGER NOT NULL DEFAULT 0,
    new_learned      INTEGER NOT NULL DEFAULT 0,
    retention_rate   REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leech_records (
    card_id                TEXT PRIMARY KEY,
    lapse_count            INTEGER NOT NULL,
    threshold_at_detection INTEGER NOT NULL,
    detected_at            DATETIME NOT NULL,
    suspended              INTEGER NOT NULL DEFAULT 0,
    notes                  TEXT NOT NULL DEFAULT '',

    FOREIGN KEY(card_id) REFERENCES cards(question_id)
);

-- Versioned model coefficients. The optimizer appends a new row; the
-- scheduler reads the latest version at call time.
CREATE TABLE IF NOT EXISTS param_sets (
    version          INTEGER PRIMARY KEY AUTOINCREMENT,
    weights          TEXT NOT NULL,      -- JSON array of floats
    target_retention REAL NOT NULL,
    created_at       DATETIME NOT NULL
);
`
