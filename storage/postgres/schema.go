package postgres

// schema creates the chunk table and the similarity search function.
// Embeddings are left dimension-free so one table serves any model.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id          text PRIMARY KEY,
	run_id      text NOT NULL,
	document_id text NOT NULL,
	seq         bigserial,
	chunk_index integer NOT NULL,
	content     text NOT NULL,
	page        integer NOT NULL DEFAULT 0,
	section     text NOT NULL DEFAULT '',
	embedding   vector
);

CREATE INDEX IF NOT EXISTS chunks_run_document_idx ON chunks (run_id, document_id, chunk_index);
CREATE INDEX IF NOT EXISTS chunks_run_seq_idx ON chunks (run_id, seq);

CREATE OR REPLACE FUNCTION match_chunks(
	query_embedding vector,
	match_run       text,
	match_threshold float,
	match_count     integer
)
RETURNS TABLE (
	id          text,
	document_id text,
	seq         bigint,
	content     text,
	page        integer,
	section     text,
	similarity  float
)
LANGUAGE sql STABLE
AS $$
	SELECT c.id, c.document_id, c.seq, c.content, c.page, c.section,
	       1 - (c.embedding <=> query_embedding) AS similarity
	FROM chunks c
	WHERE c.run_id = match_run
	  AND c.embedding IS NOT NULL
	  AND 1 - (c.embedding <=> query_embedding) >= match_threshold
	ORDER BY similarity DESC, c.seq ASC
	LIMIT match_count;
$$;
`
