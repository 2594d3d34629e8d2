// Package records binds the locally stored things and videos to the upload
// machinery. Every uploadable kind implements Record; the transfer
// bookkeeping only ever sees that interface.
package records

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

var (
	ErrAlreadyUploaded = errors.New("record already uploaded")
	ErrNotStored       = errors.New("record not stored")
	ErrMissingParent   = errors.New("parent record has no remote id")
	ErrDecode          = errors.New("unexpected upload response")
	ErrUnknownKind     = errors.New("unknown record kind")
)

// Record is a locally stored entity that must eventually exist remotely.
type Record interface {
	Kind() models.Kind
	// LocalID is 0 when the record has not been stored.
	LocalID() int64
	// RemoteID is nil until an upload response has been applied.
	RemoteID() *int64

	// Upload builds the record's request and submits it on sess.
	Upload(ctx context.Context, credential string, sess transport.Session) (transport.TaskID, error)
	// OnUploadResponseReceived applies the server's answer and persists the
	// record. A payload of the wrong shape yields ErrDecode.
	OnUploadResponseReceived(ctx context.Context, body []byte) error
	// RequestRemoteDeletion queues the remote copy for deletion. No-op
	// without a remote ID.
	RequestRemoteDeletion(ctx context.Context)
}

// HeaderRecoverer is implemented by records whose server repeats the
// assigned ID in a response header. RecoverFromHeader returns a minimal
// payload OnUploadResponseReceived accepts.
type HeaderRecoverer interface {
	RecoverFromHeader(h http.Header) ([]byte, bool)
}

// DeletionRequester accepts remote locators for deletion.
type DeletionRequester interface {
	RequestDeletion(ctx context.Context, locator string)
}

// Store is the part of the object store the records use.
type Store interface {
	GetThing(ctx context.Context, id int64) (*models.Thing, error)
	SaveThing(ctx context.Context, t *models.Thing) error
	PendingThings(ctx context.Context) ([]*models.Thing, error)
	GetVideo(ctx context.Context, id int64) (*models.Video, error)
	SaveVideo(ctx context.Context, v *models.Video) error
	PendingVideos(ctx context.Context) ([]*models.Video, error)
}

// Kit holds what records need to build requests and persist responses.
type Kit struct {
	Store Store
	// ThingURL and VideoURL are the collection endpoints, with trailing
	// slash.
	ThingURL string
	VideoURL string
	// TempDir receives multipart bodies while they are uploaded.
	TempDir   string
	Deletions DeletionRequester
	Log       logging.Logger
}

func (k *Kit) logger() logging.Logger {
	if k.Log == nil {
		return logging.Nop()
	}
	return k.Log
}

// Locator returns the remote resource URL of an uploaded record.
func Locator(endpoint string, remoteID int64) string {
	return endpoint + strconv.FormatInt(remoteID, 10) + "/"
}

// Thing wraps t.
func (k *Kit) Thing(t *models.Thing) Record { return &thingRecord{kit: k, thing: t} }

// Video wraps v.
func (k *Kit) Video(v *models.Video) Record { return &videoRecord{kit: k, video: v} }

// Load fetches the stored record of kind with localID.
func (k *Kit) Load(ctx context.Context, kind models.Kind, localID int64) (Record, error) {
	switch kind {
	case models.KindThing:
		t, err := k.Store.GetThing(ctx, localID)
		if err != nil {
			return nil, err
		}
		return k.Thing(t), nil
	case models.KindVideo:
		v, err := k.Store.GetVideo(ctx, localID)
		if err != nil {
			return nil, err
		}
		return k.Video(v), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Pending lists the stored records of kind that have no remote ID.
func (k *Kit) Pending(ctx context.Context, kind models.Kind) ([]Record, error) {
	switch kind {
	case models.KindThing:
		things, err := k.Store.PendingThings(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Record, 0, len(things))
		for _, t := range things {
			out = append(out, k.Thing(t))
		}
		return out, nil
	case models.KindVideo:
		videos, err := k.Store.PendingVideos(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Record, 0, len(videos))
		for _, v := range videos {
			out = append(out, k.Video(v))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// orphaned queues a freshly created remote resource whose local record is
// gone.
func (k *Kit) orphaned(ctx context.Context, kind models.Kind, localID int64, locator string) {
	k.logger().Warn(ctx, "upload response for deleted record, removing remote copy",
		"kind", kind, "local_id", localID, "locator", locator)
	if k.Deletions != nil {
		k.Deletions.RequestDeletion(ctx, locator)
	}
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
