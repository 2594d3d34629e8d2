package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/common"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/netx"
)

const videoMimeType = "video/mp4"

type videoRecord struct {
	kit   *Kit
	video *models.Video
}

type videoResponse struct {
	ID *int64 `json:"id"`
}

func (r *videoRecord) Kind() models.Kind { return models.KindVideo }
func (r *videoRecord) LocalID() int64    { return r.video.ID }
func (r *videoRecord) RemoteID() *int64  { return r.video.RemoteID }

// Upload streams the media file as multipart/form-data. The parent thing
// must already be known remotely.
func (r *videoRecord) Upload(ctx context.Context, credential string, sess transport.Session) (transport.TaskID, error) {
	if r.video.ID == 0 {
		return 0, ErrNotStored
	}
	if r.video.RemoteID != nil {
		return 0, ErrAlreadyUploaded
	}

	parent, err := r.kit.Store.GetThing(ctx, r.video.ThingID)
	if isNotFound(err) {
		return 0, fmt.Errorf("%w: thing %d is gone", ErrMissingParent, r.video.ThingID)
	}
	if err != nil {
		return 0, fmt.Errorf("load thing %d: %w", r.video.ThingID, err)
	}
	if parent.RemoteID == nil {
		return 0, fmt.Errorf("%w: thing %d", ErrMissingParent, parent.ID)
	}

	body, err := netx.BuildMultipart(r.kit.TempDir,
		[]netx.Field{
			{Name: "thing", Value: strconv.FormatInt(*parent.RemoteID, 10)},
			{Name: "technique", Value: string(r.video.Technique)},
		},
		[]netx.FileField{
			{Name: "file", Path: r.video.FilePath, MimeType: videoMimeType},
		})
	if err != nil {
		return 0, fmt.Errorf("build video body: %w", err)
	}

	header := http.Header{}
	header.Set(common.AuthorizationHeaderName, credential)
	header.Set(common.ContentTypeHeaderName, body.ContentType)

	id, err := sess.Submit(&transport.Request{
		Method:         http.MethodPost,
		URL:            r.kit.VideoURL,
		Header:         header,
		BodyFile:       body.Path,
		RemoveBodyFile: true,
	})
	if err != nil {
		_ = os.Remove(body.Path)
		return 0, err
	}
	return id, nil
}

func (r *videoRecord) OnUploadResponseReceived(ctx context.Context, body []byte) error {
	var resp videoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if resp.ID == nil {
		return fmt.Errorf("%w: no id", ErrDecode)
	}
	locator := Locator(r.kit.VideoURL, *resp.ID)

	current, err := r.kit.Store.GetVideo(ctx, r.video.ID)
	if isNotFound(err) {
		r.kit.orphaned(ctx, models.KindVideo, r.video.ID, locator)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload video %d: %w", r.video.ID, err)
	}
	if _, err := r.kit.Store.GetThing(ctx, current.ThingID); isNotFound(err) {
		r.kit.orphaned(ctx, models.KindVideo, current.ID, locator)
		return nil
	}

	current.RemoteID = models.Int64(*resp.ID)
	if err := r.kit.Store.SaveVideo(ctx, current); err != nil {
		return fmt.Errorf("save video %d: %w", current.ID, err)
	}
	r.video = current
	return nil
}

func (r *videoRecord) RequestRemoteDeletion(ctx context.Context) {
	if r.video.RemoteID == nil || r.kit.Deletions == nil {
		return
	}
	r.kit.Deletions.RequestDeletion(ctx, Locator(r.kit.VideoURL, *r.video.RemoteID))
}

// RecoverFromHeader builds {"id": N} from the orbit-id header.
func (r *videoRecord) RecoverFromHeader(h http.Header) ([]byte, bool) {
	raw := h.Get(common.OrbitIDHeaderName)
	if raw == "" {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	payload, err := json.Marshal(videoResponse{ID: &id})
	if err != nil {
		return nil, false
	}
	return payload, true
}
