// Package services implements the participant-facing operations on the
// local collection. Every mutation goes through the object store, whose
// change signals drive the uploads.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/api"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/filex"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

var (
	ErrEmptyLabel       = errors.New("label must not be empty")
	ErrInvalidTechnique = errors.New("invalid technique")
)

// Store is the part of the object store the collection needs.
type Store interface {
	SaveThing(ctx context.Context, t *models.Thing) error
	GetThing(ctx context.Context, id int64) (*models.Thing, error)
	ListThings(ctx context.Context) ([]*models.Thing, error)
	DeleteThing(ctx context.Context, id int64) ([]*models.Video, error)

	SaveVideo(ctx context.Context, v *models.Video) error
	GetVideo(ctx context.Context, id int64) (*models.Video, error)
	ListVideos(ctx context.Context) ([]*models.Video, error)
	DeleteVideo(ctx context.Context, id int64) error
}

// Transfers is the part of the coordinator the collection drives directly.
// Do runs fn where upload responses are applied, so the records fn reads
// cannot change under it; Cancel and Forget called from fn take effect
// before the next response is handled.
type Transfers interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Cancel(kind models.Kind, localID int64)
	Forget(kind models.Kind, localID int64)
}

// ThingLister reads the remote thing collection.
type ThingLister interface {
	ListThings(ctx context.Context, credential string) ([]api.RemoteThing, error)
}

// ThingView is a thing together with its videos.
type ThingView struct {
	Thing  *models.Thing
	Videos []*models.Video
}

type CollectionService interface {
	AddThing(ctx context.Context, label string) (*models.Thing, error)
	AddVideo(ctx context.Context, thingID int64, technique models.Technique, source string) (*models.Video, error)
	DeleteThing(ctx context.Context, id int64) error
	DeleteVideo(ctx context.Context, id int64) error
	Rerecord(ctx context.Context, videoID int64, source string) (*models.Video, error)
	List(ctx context.Context) ([]ThingView, error)
	// RefreshStatus copies the server's validated labels onto the local
	// things and returns how many changed.
	RefreshStatus(ctx context.Context, credential string) (int, error)
}

type collectionService struct {
	store     Store
	kit       *records.Kit
	transfers Transfers
	lister    ThingLister
	mediaDir  string
	log       logging.Logger
}

// NewCollectionService creates the service. mediaDir must exist; kit must
// have its Deletions set.
func NewCollectionService(st Store, kit *records.Kit, transfers Transfers, lister ThingLister, mediaDir string, log logging.Logger) CollectionService {
	if log == nil {
		log = logging.Nop()
	}
	return &collectionService{
		store:     st,
		kit:       kit,
		transfers: transfers,
		lister:    lister,
		mediaDir:  mediaDir,
		log:       log.With("component", "collection"),
	}
}

func (s *collectionService) AddThing(ctx context.Context, label string) (*models.Thing, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, ErrEmptyLabel
	}

	t := &models.Thing{LabelParticipant: label}
	if err := s.store.SaveThing(ctx, t); err != nil {
		return nil, fmt.Errorf("saving thing: %w", err)
	}
	s.log.Info(ctx, "thing added", "local_id", t.ID, "label", label)
	return t, nil
}

func (s *collectionService) AddVideo(ctx context.Context, thingID int64, technique models.Technique, source string) (*models.Video, error) {
	if !technique.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTechnique, technique)
	}
	if _, err := s.store.GetThing(ctx, thingID); err != nil {
		return nil, fmt.Errorf("thing %d: %w", thingID, err)
	}

	path, err := filex.CopyInto(s.mediaDir, source)
	if err != nil {
		return nil, fmt.Errorf("importing media: %w", err)
	}

	v := &models.Video{ThingID: thingID, Technique: technique, FilePath: path}
	if err := s.store.SaveVideo(ctx, v); err != nil {
		_ = filex.RemoveIfExists(path)
		return nil, fmt.Errorf("saving video: %w", err)
	}
	s.log.Info(ctx, "video added", "local_id", v.ID, "thing", thingID, "technique", technique)
	return v, nil
}

func (s *collectionService) DeleteThing(ctx context.Context, id int64) error {
	var removed []*models.Video
	err := s.transfers.Do(ctx, func(ctx context.Context) error {
		t, err := s.store.GetThing(ctx, id)
		if err != nil {
			return fmt.Errorf("thing %d: %w", id, err)
		}
		removed, err = s.store.DeleteThing(ctx, id)
		if err != nil {
			return fmt.Errorf("deleting thing %d: %w", id, err)
		}

		for _, v := range removed {
			s.retire(ctx, s.kit.Video(v))
		}
		s.retire(ctx, s.kit.Thing(t))
		return nil
	})
	if err != nil {
		return err
	}

	for _, v := range removed {
		s.removeMedia(ctx, v.FilePath)
	}
	s.log.Info(ctx, "thing deleted", "local_id", id, "videos", len(removed))
	return nil
}

func (s *collectionService) DeleteVideo(ctx context.Context, id int64) error {
	var path string
	err := s.transfers.Do(ctx, func(ctx context.Context) error {
		v, err := s.store.GetVideo(ctx, id)
		if err != nil {
			return fmt.Errorf("video %d: %w", id, err)
		}
		if err := s.store.DeleteVideo(ctx, id); err != nil {
			return fmt.Errorf("deleting video %d: %w", id, err)
		}
		s.retire(ctx, s.kit.Video(v))
		path = v.FilePath
		return nil
	})
	if err != nil {
		return err
	}

	s.removeMedia(ctx, path)
	s.log.Info(ctx, "video deleted", "local_id", id)
	return nil
}

// Rerecord replaces the media of a video. The previous upload, if any, is
// deleted remotely and the video becomes pending again.
func (s *collectionService) Rerecord(ctx context.Context, videoID int64, source string) (*models.Video, error) {
	if _, err := s.store.GetVideo(ctx, videoID); err != nil {
		return nil, fmt.Errorf("video %d: %w", videoID, err)
	}

	path, err := filex.CopyInto(s.mediaDir, source)
	if err != nil {
		return nil, fmt.Errorf("importing media: %w", err)
	}

	var v *models.Video
	var old string
	err = s.transfers.Do(ctx, func(ctx context.Context) error {
		// Reloaded here: a response applied since the check above set the
		// remote ID that must be deleted.
		current, err := s.store.GetVideo(ctx, videoID)
		if err != nil {
			return fmt.Errorf("video %d: %w", videoID, err)
		}

		// Clear transfer state before the save makes the video pending again.
		s.retire(ctx, s.kit.Video(current))

		old = current.FilePath
		current.FilePath = path
		current.RemoteID = nil
		if err := s.store.SaveVideo(ctx, current); err != nil {
			return fmt.Errorf("saving video: %w", err)
		}
		v = current
		return nil
	})
	if err != nil {
		_ = filex.RemoveIfExists(path)
		return nil, err
	}
	s.removeMedia(ctx, old)

	s.log.Info(ctx, "video rerecorded", "local_id", v.ID)
	return v, nil
}

// retire stops every transfer of rec and queues its remote copy for
// deletion.
func (s *collectionService) retire(ctx context.Context, rec records.Record) {
	s.transfers.Cancel(rec.Kind(), rec.LocalID())
	s.transfers.Forget(rec.Kind(), rec.LocalID())
	rec.RequestRemoteDeletion(ctx)
}

func (s *collectionService) removeMedia(ctx context.Context, path string) {
	if err := filex.RemoveIfExists(path); err != nil {
		s.log.Warn(ctx, "failed to remove media file", "path", path, "error", err)
	}
}

func (s *collectionService) List(ctx context.Context) ([]ThingView, error) {
	things, err := s.store.ListThings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing things: %w", err)
	}
	videos, err := s.store.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}

	byThing := make(map[int64][]*models.Video)
	for _, v := range videos {
		byThing[v.ThingID] = append(byThing[v.ThingID], v)
	}

	result := make([]ThingView, 0, len(things))
	for _, t := range things {
		result = append(result, ThingView{Thing: t, Videos: byThing[t.ID]})
	}
	return result, nil
}

func (s *collectionService) RefreshStatus(ctx context.Context, credential string) (int, error) {
	remote, err := s.lister.ListThings(ctx, credential)
	if err != nil {
		return 0, fmt.Errorf("listing remote things: %w", err)
	}
	validated := make(map[int64]string, len(remote))
	for _, r := range remote {
		validated[r.ID] = r.LabelValidated
	}

	things, err := s.store.ListThings(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing things: %w", err)
	}

	changed := 0
	for _, t := range things {
		if t.RemoteID == nil {
			continue
		}
		label, ok := validated[*t.RemoteID]
		if !ok || label == t.LabelValidated {
			continue
		}
		t.LabelValidated = label
		if err := s.store.SaveThing(ctx, t); err != nil {
			return changed, fmt.Errorf("saving thing %d: %w", t.ID, err)
		}
		changed++
	}
	return changed, nil
}
