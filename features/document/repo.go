package document

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const docColumns = `id, external_id, title, source_path, content_hash, document_type, category, tags,
	source_date, effective_date, expiration_date, is_public, uploader_id,
	status, processing_error, chunk_count, word_count, page_count, raw_text, embedding_model,
	created_at, updated_at`

func scanDoc(row interface{ Scan(...any) error }, d *Document) error {
	var sourcePath, processingError, uploaderID, rawText, embeddingModel sql.NullString
	err := row.Scan(&d.ID, &d.ExternalID, &d.Title, &sourcePath, &d.ContentHash, &d.DocumentType, &d.Category, pq.Array(&d.Tags),
		&d.SourceDate, &d.EffectiveDate, &d.ExpirationDate, &d.IsPublic, &uploaderID,
		&d.Status, &processingError, &d.ChunkCount, &d.WordCount, &d.PageCount, &rawText, &embeddingModel,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return err
	}
	d.SourcePath = sourcePath.String
	d.ProcessingError = processingError.String
	d.UploaderID = uploaderID.String
	d.RawText = rawText.String
	d.EmbeddingModel = embeddingModel.String
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (external_id, title, source_path, content_hash, document_type, category, tags,
		source_date, effective_date, expiration_date, is_public, uploader_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		doc.ExternalID, doc.Title, doc.SourcePath, doc.ContentHash, doc.DocumentType, doc.Category, pq.Array(doc.Tags),
		doc.SourceDate, doc.EffectiveDate, doc.ExpirationDate, doc.IsPublic, nullString(doc.UploaderID), StatusPending,
	).Scan(&doc.ID)
}

func (r *PostgresRepo) UpdateMetadata(ctx context.Context, doc *Document) error {
	query := `UPDATE documents SET title = $1, source_path = $2, content_hash = $3, document_type = $4,
		category = $5, tags = $6, source_date = $7, effective_date = $8, expiration_date = $9,
		is_public = $10, uploader_id = $11, updated_at = NOW() WHERE id = $12`
	res, err := r.db.ExecContext(ctx, query,
		doc.Title, doc.SourcePath, doc.ContentHash, doc.DocumentType,
		doc.Category, pq.Array(doc.Tags), doc.SourceDate, doc.EffectiveDate, doc.ExpirationDate,
		doc.IsPublic, nullString(doc.UploaderID), doc.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1`
	if err := scanDoc(r.db.QueryRowContext(ctx, query, id), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) GetByExternalID(ctx context.Context, externalID string) (*Document, error) {
	d := &Document{}
	query := `SELECT ` + docColumns + ` FROM documents WHERE external_id = $1`
	if err := scanDoc(r.db.QueryRowContext(ctx, query, externalID), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents ORDER BY created_at DESC`
	return r.queryDocs(ctx, query)
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status string) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE status = $1 ORDER BY created_at DESC`
	return r.queryDocs(ctx, query, status)
}

func (r *PostgresRepo) queryDocs(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDoc(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkProcessing is the concurrency gate: the conditional update only wins
// when no other run holds the document.
func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	query := `UPDATE documents SET status = $1, processing_error = NULL, updated_at = NOW()
		WHERE id = $2 AND status <> $1`
	res, err := r.db.ExecContext(ctx, query, StatusProcessing, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) Fail(ctx context.Context, id, reason string) error {
	query := `UPDATE documents SET status = $1, processing_error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, StatusFailed, reason, id)
	return err
}

func (r *PostgresRepo) CompleteWithChunks(ctx context.Context, doc *Document, chunks []Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return err
	}

	insert := `INSERT INTO chunks (document_id, chunk_index, content, start_char, end_char, start_page, end_page,
		word_count, sentence_count, embedding_model, section_title, section_type, coherence_score, importance_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
	for i := range chunks {
		c := &chunks[i]
		err := tx.QueryRowContext(ctx, insert,
			doc.ID, c.Index, c.Content, c.StartChar, c.EndChar, c.StartPage, c.EndPage,
			c.WordCount, c.SentenceCount, nullString(c.EmbeddingModel),
			nullString(c.SectionTitle), nullString(c.SectionType), c.Coherence, c.Importance,
		).Scan(&c.ID)
		if err != nil {
			return err
		}
	}

	update := `UPDATE documents SET status = $1, processing_error = NULL, chunk_count = $2, word_count = $3,
		page_count = $4, raw_text = $5, embedding_model = $6, updated_at = NOW() WHERE id = $7`
	if _, err := tx.ExecContext(ctx, update,
		StatusCompleted, doc.ChunkCount, doc.WordCount, doc.PageCount, doc.RawText, doc.EmbeddingModel, doc.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepo) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	query := `SELECT id, document_id, chunk_index, content, start_char, end_char, start_page, end_page,
		word_count, sentence_count, embedding_model, section_title, section_type, coherence_score, importance_score
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embeddingModel, sectionTitle, sectionType sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.StartChar, &c.EndChar, &c.StartPage, &c.EndPage,
			&c.WordCount, &c.SentenceCount, &embeddingModel, &sectionTitle, &sectionType, &c.Coherence, &c.Importance); err != nil {
			return nil, err
		}
		c.EmbeddingModel = embeddingModel.String
		c.SectionTitle = sectionTitle.String
		c.SectionType = sectionType.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) DeleteChunks(ctx context.Context, documentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET chunk_count = 0, updated_at = NOW() WHERE id = $1`, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
