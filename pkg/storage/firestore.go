package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage implements Storage on a single Firestore collection.
// Document ids are the escaped blob path; the parent directory is kept in a
// field so List is a single equality query.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
}

type firestoreBlob struct {
	Dir       string    `firestore:"dir"`
	Data      []byte    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage connects with base64 encoded service account JSON. An
// empty credential falls back to application default credentials.
func NewFirestoreStorage(ctx context.Context, projectID, encodedCreds, collection string) (*FirestoreStorage, error) {
	var opts []option.ClientOption
	if encodedCreds != "" {
		creds, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode firestore credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	if collection == "" {
		collection = "blobs"
	}
	return &FirestoreStorage{client: client, collection: collection}, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func docID(p string) string {
	return strings.ReplaceAll(cleanKey(p), "/", "__")
}

func (s *FirestoreStorage) doc(p string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID(p))
}

func (s *FirestoreStorage) Read(ctx context.Context, p string) ([]byte, error) {
	snap, err := s.doc(p).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	var blob firestoreBlob
	if err := snap.DataTo(&blob); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return blob.Data, nil
}

func (s *FirestoreStorage) Write(ctx context.Context, p string, data []byte) error {
	key := cleanKey(p)
	_, err := s.doc(p).Set(ctx, firestoreBlob{
		Dir:       path.Dir(key),
		Data:      data,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (s *FirestoreStorage) Delete(ctx context.Context, p string) error {
	ref := s.doc(p)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

func (s *FirestoreStorage) List(ctx context.Context, prefix string) ([]string, error) {
	dir := cleanKey(prefix)
	if dir == "" {
		dir = "."
	}
	iter := s.client.Collection(s.collection).Where("dir", "==", dir).Documents(ctx)
	defer iter.Stop()

	var paths []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		paths = append(paths, strings.ReplaceAll(snap.Ref.ID, "__", "/"))
	}
	return paths, nil
}

func (s *FirestoreStorage) Exists(ctx context.Context, p string) (bool, error) {
	if _, err := s.doc(p).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return true, nil
}
