package store

// Schema contains the SQL schema of the embedded stores. Nullable text
// columns hold records written under older schema versions.
const Schema = `
-- Customers table
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

-- Leads (inquiries) owned by a customer
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
);

-- Message store
CREATE TABLE IF NOT EXISTS customer_messages (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT 'email',
    direction TEXT NOT NULL DEFAULT 'inbound',
    subject TEXT,
    from_name TEXT,
    from_email TEXT,
    to_email TEXT,
    received_at TEXT,
    created_at TEXT,
    body_full TEXT,
    content TEXT,
    preview TEXT,
    body TEXT,
    thread_id TEXT,
    lead_id TEXT,
    status TEXT
);

-- Web form inbox
CREATE TABLE IF NOT EXISTS inbox_forms (
    id TEXT PRIMARY KEY,
    lead_id TEXT,
    name TEXT,
    email TEXT,
    message TEXT,
    status TEXT NOT NULL DEFAULT 'new',
    created_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);
CREATE INDEX IF NOT EXISTS idx_leads_customer_id ON leads(customer_id);
CREATE INDEX IF NOT EXISTS idx_messages_customer ON customer_messages(customer_id, channel);
CREATE INDEX IF NOT EXISTS idx_messages_status ON customer_messages(status);
CREATE INDEX IF NOT EXISTS idx_forms_lead_id ON inbox_forms(lead_id);

-- Full-text search over messages
CREATE VIRTUAL TABLE IF NOT EXISTS customer_messages_fts USING fts5(
    subject,
    from_name,
    from_email,
    body_full,
    content='customer_messages',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS customer_messages_fts_insert AFTER INSERT ON customer_messages BEGIN
    INSERT INTO customer_messages_fts(rowid, subject, from_name, from_email, body_full)
    VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_full);
END;

CREATE TRIGGER IF NOT EXISTS customer_messages_fts_update AFTER UPDATE ON customer_messages BEGIN
    INSERT INTO customer_messages_fts(customer_messages_fts, rowid, subject, from_name, from_email, body_full)
    VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_full);
    INSERT INTO customer_messages_fts(rowid, subject, from_name, from_email, body_full)
    VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_full);
END;

CREATE TRIGGER IF NOT EXISTS customer_messages_fts_delete AFTER DELETE ON customer_messages BEGIN
    INSERT INTO customer_messages_fts(customer_messages_fts, rowid, subject, from_name, from_email, body_full)
    VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_full);
END;
`
