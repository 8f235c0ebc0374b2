// Package firestore implements storage.RunRepository on Cloud Firestore.
//
// Records are stored as serialized payloads next to the handful of fields
// that queries filter or order on:
//
//	index_runs/{runID}
//	index_runs/{runID}/documents/{documentID}
//	wiki_runs/{wikiID}
//	step_history/{unit|step|attempt}
package firestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	indexRunsCollection = "index_runs"
	documentsCollection = "documents"
	wikiRunsCollection  = "wiki_runs"
	historyCollection   = "step_history"
)

// record is the stored form of every aggregate.
type record struct {
	Payload    []byte    `firestore:"payload"`
	Status     string    `firestore:"status"`
	IndexRunID string    `firestore:"index_run_id,omitempty"`
	CreatedAt  time.Time `firestore:"created_at"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

// historyRecord is the stored form of one terminal step result.
type historyRecord struct {
	Unit    string `firestore:"unit"`
	Step    string `firestore:"step"`
	Attempt int    `firestore:"attempt"`
	Payload []byte `firestore:"payload"`
}

// Registry implements storage.RunRepository for Firestore.
type Registry struct {
	client *firestore.Client
}

var _ storage.RunRepository = (*Registry)(nil)

// NewRegistry connects to Firestore in the given project.
func NewRegistry(ctx context.Context, projectID string) (*Registry, error) {
	if projectID == "" {
		return nil, core.ConfigurationError("firestore project ID is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, core.ExternalServiceError("firestore", err)
	}
	return NewRegistryWithClient(client), nil
}

// NewRegistryWithClient wraps an existing client.
func NewRegistryWithClient(client *firestore.Client) *Registry {
	return &Registry{
		client: client,
	}
}

// Close closes the underlying client.
func (r *Registry) Close() error {
	return r.client.Close()
}

func (r *Registry) indexRunRef(id string) *firestore.DocumentRef {
	return r.client.Collection(indexRunsCollection).Doc(id)
}

func (r *Registry) documentRef(runID, documentID string) *firestore.DocumentRef {
	return r.indexRunRef(runID).Collection(documentsCollection).Doc(documentID)
}

func (r *Registry) wikiRunRef(id string) *firestore.DocumentRef {
	return r.client.Collection(wikiRunsCollection).Doc(id)
}

func (r *Registry) historyRef(unitID string, step core.StepName, attempt int) *firestore.DocumentRef {
	return r.client.Collection(historyCollection).Doc(historyDocID(unitID, step, attempt))
}

// historyDocID flattens a unit, step and attempt into a valid document ID.
func historyDocID(unitID string, step core.StepName, attempt int) string {
	return fmt.Sprintf("%s|%s|%010d", strings.ReplaceAll(unitID, "/", "|"), step, attempt)
}

// CreateIndexRun stores a new index run.
func (r *Registry) CreateIndexRun(ctx context.Context, run *core.IndexRun) error {
	storage.NormalizeIndexRun(run)
	rec, err := encode(run, run.Status(), "", run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return err
	}
	if _, err := r.indexRunRef(run.ID).Create(ctx, rec); err != nil {
		return translate(err, "index run "+run.ID)
	}
	return nil
}

// GetIndexRun retrieves an index run by ID.
func (r *Registry) GetIndexRun(ctx context.Context, id string) (*core.IndexRun, error) {
	snap, err := r.indexRunRef(id).Get(ctx)
	if err != nil {
		return nil, translate(err, "index run "+id)
	}
	return decodeIndexRun(snap)
}

// ListIndexRuns returns all index runs, newest first.
func (r *Registry) ListIndexRuns(ctx context.Context) ([]*core.IndexRun, error) {
	iter := r.client.Collection(indexRunsCollection).OrderBy("created_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var runs []*core.IndexRun
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, core.ExternalServiceError("firestore", err)
		}
		run, err := decodeIndexRun(snap)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// UpdateIndexRun applies fn to the stored run inside a transaction.
func (r *Registry) UpdateIndexRun(ctx context.Context, id string, fn func(*core.IndexRun) error) (*core.IndexRun, error) {
	var updated *core.IndexRun
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(r.indexRunRef(id))
		if err != nil {
			return translate(err, "index run "+id)
		}
		run, err := decodeIndexRun(snap)
		if err != nil {
			return err
		}

		before := maps.Clone(run.Steps)
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		if err := r.appendHistory(tx, storage.IndexRunUnit(id), storage.NewTerminalResults(before, run.Steps)); err != nil {
			return err
		}
		if err := r.setIndexRun(tx, run); err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RegisterDocuments adds documents to a run, keeping records that already exist.
func (r *Registry) RegisterDocuments(ctx context.Context, runID string, docs ...*core.DocumentRecord) ([]*core.DocumentRecord, error) {
	var stored []*core.DocumentRecord
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored = make([]*core.DocumentRecord, 0, len(docs))

		// Firestore transactions require every read before the first write
		snap, err := tx.Get(r.indexRunRef(runID))
		if err != nil {
			return translate(err, "index run "+runID)
		}
		run, err := decodeIndexRun(snap)
		if err != nil {
			return err
		}
		refs := make([]*firestore.DocumentRef, len(docs))
		for i, doc := range docs {
			refs[i] = r.documentRef(runID, doc.ID)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return core.ExternalServiceError("firestore", err)
		}

		for i, doc := range docs {
			if snaps[i].Exists() {
				existing, err := decodeDocument(snaps[i])
				if err != nil {
					return err
				}
				stored = append(stored, existing)
				continue
			}

			doc.RunID = runID
			storage.NormalizeDocument(doc)
			rec, err := encode(doc, doc.Status(), runID, doc.CreatedAt, doc.UpdatedAt)
			if err != nil {
				return err
			}
			if err := tx.Set(refs[i], rec); err != nil {
				return err
			}
			if !slices.Contains(run.DocumentIDs, doc.ID) {
				run.DocumentIDs = append(run.DocumentIDs, doc.ID)
			}
			run.DocumentStatus[doc.ID] = doc.Status()
			stored = append(stored, doc)
		}

		run.UpdatedAt = time.Now().UTC()
		return r.setIndexRun(tx, run)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetDocument retrieves a document record.
func (r *Registry) GetDocument(ctx context.Context, runID, documentID string) (*core.DocumentRecord, error) {
	snap, err := r.documentRef(runID, documentID).Get(ctx)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("document %s in run %s", documentID, runID))
	}
	return decodeDocument(snap)
}

// ListDocuments returns the run's documents in registration order.
func (r *Registry) ListDocuments(ctx context.Context, runID string) ([]*core.DocumentRecord, error) {
	run, err := r.GetIndexRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(run.DocumentIDs) == 0 {
		return []*core.DocumentRecord{}, nil
	}

	refs := make([]*firestore.DocumentRef, len(run.DocumentIDs))
	for i, id := range run.DocumentIDs {
		refs[i] = r.documentRef(runID, id)
	}
	snaps, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, core.ExternalServiceError("firestore", err)
	}

	docs := make([]*core.DocumentRecord, 0, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			return nil, fmt.Errorf("%w: document %s in run %s", storage.ErrNotFound, run.DocumentIDs[i], runID)
		}
		doc, err := decodeDocument(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// UpdateDocument applies fn to the stored document. The run's document status
// and the step history are written in the same transaction.
func (r *Registry) UpdateDocument(ctx context.Context, runID, documentID string, fn func(*core.DocumentRecord) error) (*core.DocumentRecord, error) {
	var updated *core.DocumentRecord
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docSnap, err := tx.Get(r.documentRef(runID, documentID))
		if err != nil {
			return translate(err, fmt.Sprintf("document %s in run %s", documentID, runID))
		}
		runSnap, err := tx.Get(r.indexRunRef(runID))
		if err != nil {
			return translate(err, "index run "+runID)
		}
		doc, err := decodeDocument(docSnap)
		if err != nil {
			return err
		}
		run, err := decodeIndexRun(runSnap)
		if err != nil {
			return err
		}

		before := maps.Clone(doc.Steps)
		if err := fn(doc); err != nil {
			return err
		}
		now := time.Now().UTC()
		doc.UpdatedAt = now
		if err := r.appendHistory(tx, storage.DocumentUnit(runID, documentID), storage.NewTerminalResults(before, doc.Steps)); err != nil {
			return err
		}
		rec, err := encode(doc, doc.Status(), runID, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			return err
		}
		if err := tx.Set(r.documentRef(runID, documentID), rec); err != nil {
			return err
		}

		run.DocumentStatus[documentID] = doc.Status()
		run.UpdatedAt = now
		if err := r.setIndexRun(tx, run); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateWikiRun stores a new wiki run.
func (r *Registry) CreateWikiRun(ctx context.Context, run *core.WikiRun) error {
	storage.NormalizeWikiRun(run)
	rec, err := encode(run, run.Status(), run.IndexRunID, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return err
	}
	if _, err := r.wikiRunRef(run.ID).Create(ctx, rec); err != nil {
		return translate(err, "wiki run "+run.ID)
	}
	return nil
}

// GetWikiRun retrieves a wiki run by ID.
func (r *Registry) GetWikiRun(ctx context.Context, id string) (*core.WikiRun, error) {
	snap, err := r.wikiRunRef(id).Get(ctx)
	if err != nil {
		return nil, translate(err, "wiki run "+id)
	}
	return decodeWikiRun(snap)
}

// ListWikiRuns returns the wiki runs over an index run, newest first.
func (r *Registry) ListWikiRuns(ctx context.Context, indexRunID string) ([]*core.WikiRun, error) {
	snaps, err := r.client.Collection(wikiRunsCollection).
		Where("index_run_id", "==", indexRunID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, core.ExternalServiceError("firestore", err)
	}

	runs := make([]*core.WikiRun, 0, len(snaps))
	for _, snap := range snaps {
		run, err := decodeWikiRun(snap)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	// Sorted here to avoid requiring a composite index
	slices.SortFunc(runs, func(a, b *core.WikiRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return runs, nil
}

// UpdateWikiRun applies fn to the stored wiki run inside a transaction.
func (r *Registry) UpdateWikiRun(ctx context.Context, id string, fn func(*core.WikiRun) error) (*core.WikiRun, error) {
	var updated *core.WikiRun
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(r.wikiRunRef(id))
		if err != nil {
			return translate(err, "wiki run "+id)
		}
		run, err := decodeWikiRun(snap)
		if err != nil {
			return err
		}

		before := maps.Clone(run.Steps)
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		if err := r.appendHistory(tx, storage.WikiRunUnit(id), storage.NewTerminalResults(before, run.Steps)); err != nil {
			return err
		}
		rec, err := encode(run, run.Status(), run.IndexRunID, run.CreatedAt, run.UpdatedAt)
		if err != nil {
			return err
		}
		if err := tx.Set(r.wikiRunRef(id), rec); err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// StepHistory returns the terminal results recorded for a step, oldest first.
func (r *Registry) StepHistory(ctx context.Context, unitID string, step core.StepName) ([]core.StepResult, error) {
	snaps, err := r.client.Collection(historyCollection).
		Where("unit", "==", unitID).
		Where("step", "==", string(step)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, core.ExternalServiceError("firestore", err)
	}

	history := make([]core.StepResult, 0, len(snaps))
	for _, snap := range snaps {
		var rec historyRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		result, err := storage.Unmarshal[core.StepResult](rec.Payload)
		if err != nil {
			return nil, err
		}
		history = append(history, *result)
	}
	slices.SortFunc(history, func(a, b core.StepResult) int {
		return a.Attempt - b.Attempt
	})
	return history, nil
}

func (r *Registry) setIndexRun(tx *firestore.Transaction, run *core.IndexRun) error {
	rec, err := encode(run, run.Status(), "", run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Set(r.indexRunRef(run.ID), rec)
}

func (r *Registry) appendHistory(tx *firestore.Transaction, unitID string, results []core.StepResult) error {
	for _, result := range results {
		payload, err := storage.Marshal(result)
		if err != nil {
			return err
		}
		rec := historyRecord{
			Unit:    unitID,
			Step:    string(result.Step),
			Attempt: result.Attempt,
			Payload: payload,
		}
		if err := tx.Set(r.historyRef(unitID, result.Step, result.Attempt), rec); err != nil {
			return err
		}
	}
	return nil
}

func encode(v any, status core.Status, indexRunID string, createdAt, updatedAt time.Time) (*record, error) {
	payload, err := storage.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &record{
		Payload:    payload,
		Status:     string(status),
		IndexRunID: indexRunID,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

func decodePayload[T any](snap *firestore.DocumentSnapshot) (*T, error) {
	var rec record
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return storage.Unmarshal[T](rec.Payload)
}

func decodeIndexRun(snap *firestore.DocumentSnapshot) (*core.IndexRun, error) {
	run, err := decodePayload[core.IndexRun](snap)
	if err != nil {
		return nil, err
	}
	storage.NormalizeIndexRun(run)
	return run, nil
}

func decodeDocument(snap *firestore.DocumentSnapshot) (*core.DocumentRecord, error) {
	doc, err := decodePayload[core.DocumentRecord](snap)
	if err != nil {
		return nil, err
	}
	storage.NormalizeDocument(doc)
	return doc, nil
}

func decodeWikiRun(snap *firestore.DocumentSnapshot) (*core.WikiRun, error) {
	run, err := decodePayload[core.WikiRun](snap)
	if err != nil {
		return nil, err
	}
	storage.NormalizeWikiRun(run)
	return run, nil
}

// translate maps Firestore status codes onto storage errors.
func translate(err error, what string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, what)
	}
	return core.ExternalServiceError("firestore", err)
}
