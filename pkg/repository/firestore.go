package repository

import (
	"context"
	"io"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const historyCollection = "histories"

// Firestore keeps row metadata in Firestore and row payloads in blob
// storage. Payloads carry whole images and do not fit the document size
// limit of Firestore.
type Firestore struct {
	client  *firestore.Client
	storage adapter.Storage
}

var _ interfaces.Opener = (*Firestore)(nil)

// NewFirestore creates a Firestore backend
func NewFirestore(ctx context.Context, projectID, databaseID string, storage adapter.Storage) (*Firestore, error) {
	if storage == nil {
		return nil, goerr.New("storage is required for firestore backend")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client", goerr.T(model.TagUnsupported),
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client, storage: storage}, nil
}

// Close closes the Firestore client
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Open(ctx context.Context, namespace string) (interfaces.Persistence, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	return &firestoreNamespace{
		namespace: namespace,
		records:   f.client.Collection(historyCollection).Doc(namespace).Collection("records"),
		storage:   f.storage,
	}, nil
}

type firestoreNamespace struct {
	namespace string
	records   *firestore.CollectionRef
	storage   adapter.Storage
}

type firestoreRow struct {
	ID        string `firestore:"id"`
	Timestamp int64  `firestore:"timestamp"`
	Size      int    `firestore:"size"`
}

func (n *firestoreNamespace) payloadKey(id string) string {
	return n.namespace + "/" + id + ".json"
}

func (n *firestoreNamespace) Put(ctx context.Context, row *model.Row) error {
	// Payload first, so a listed document always has its payload
	writer, err := n.storage.Put(ctx, n.payloadKey(row.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create payload writer", goerr.T(model.TagStorage), goerr.V("id", row.ID))
	}
	if _, err := writer.Write(row.Payload); err != nil {
		writer.Close()
		return goerr.Wrap(err, "failed to write payload", goerr.T(model.TagStorage), goerr.V("id", row.ID))
	}
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close payload writer", goerr.T(model.TagStorage), goerr.V("id", row.ID))
	}

	doc := firestoreRow{ID: row.ID, Timestamp: row.Timestamp, Size: len(row.Payload)}
	if _, err := n.records.Doc(row.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put firestore document", goerr.T(model.TagStorage), goerr.V("id", row.ID))
	}
	return nil
}

func (n *firestoreNamespace) loadPayload(ctx context.Context, id string) ([]byte, error) {
	reader, err := n.storage.Get(ctx, n.payloadKey(id))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read payload", goerr.T(model.TagStorage), goerr.V("id", id))
	}
	return data, nil
}

func (n *firestoreNamespace) Get(ctx context.Context, id string) (*model.Row, error) {
	snap, err := n.records.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.New("row not found", goerr.T(model.TagNotFound), goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get firestore document", goerr.T(model.TagStorage), goerr.V("id", id))
	}

	var doc firestoreRow
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode firestore document", goerr.T(model.TagStorage), goerr.V("id", id))
	}

	payload, err := n.loadPayload(ctx, id)
	if err != nil {
		return nil, err
	}

	return &model.Row{ID: doc.ID, Timestamp: doc.Timestamp, Payload: payload}, nil
}

func (n *firestoreNamespace) List(ctx context.Context) ([]*model.Row, error) {
	iter := n.records.OrderBy("timestamp", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var rows []*model.Row
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate firestore documents", goerr.T(model.TagStorage))
		}

		var doc firestoreRow
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode firestore document", goerr.T(model.TagStorage), goerr.V("id", snap.Ref.ID))
		}

		payload, err := n.loadPayload(ctx, doc.ID)
		if goerr.HasTag(err, model.TagNotFound) {
			logging.From(ctx).Warn("history payload is missing, skipped", "namespace", n.namespace, "id", doc.ID)
			continue
		}
		if err != nil {
			return nil, err
		}

		rows = append(rows, &model.Row{ID: doc.ID, Timestamp: doc.Timestamp, Payload: payload})
	}

	return rows, nil
}

func (n *firestoreNamespace) Delete(ctx context.Context, id string) error {
	if _, err := n.records.Doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return goerr.Wrap(err, "failed to delete firestore document", goerr.T(model.TagStorage), goerr.V("id", id))
	}
	if err := n.storage.Delete(ctx, n.payloadKey(id)); err != nil {
		return goerr.Wrap(err, "failed to delete payload", goerr.T(model.TagStorage), goerr.V("id", id))
	}
	return nil
}

func (n *firestoreNamespace) ids(ctx context.Context) ([]string, error) {
	iter := n.records.Select().Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate firestore documents", goerr.T(model.TagStorage))
		}
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func (n *firestoreNamespace) Clear(ctx context.Context) error {
	ids, err := n.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := n.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (n *firestoreNamespace) Count(ctx context.Context) (int, error) {
	ids, err := n.ids(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
