package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/common"
)

type thingRecord struct {
	kit   *Kit
	thing *models.Thing
}

type thingRequest struct {
	LabelParticipant string `json:"label_participant"`
}

type thingResponse struct {
	ID               *int64 `json:"id"`
	LabelParticipant string `json:"label_participant"`
	LabelValidated   string `json:"label_validated"`
}

func (r *thingRecord) Kind() models.Kind { return models.KindThing }
func (r *thingRecord) LocalID() int64    { return r.thing.ID }
func (r *thingRecord) RemoteID() *int64  { return r.thing.RemoteID }

func (r *thingRecord) Upload(ctx context.Context, credential string, sess transport.Session) (transport.TaskID, error) {
	if r.thing.ID == 0 {
		return 0, ErrNotStored
	}
	if r.thing.RemoteID != nil {
		return 0, ErrAlreadyUploaded
	}

	body, err := json.Marshal(thingRequest{LabelParticipant: r.thing.LabelParticipant})
	if err != nil {
		return 0, fmt.Errorf("encode thing: %w", err)
	}

	header := http.Header{}
	header.Set(common.AuthorizationHeaderName, credential)
	header.Set(common.ContentTypeHeaderName, common.JSONContentType)

	return sess.Submit(&transport.Request{
		Method: http.MethodPost,
		URL:    r.kit.ThingURL,
		Header: header,
		Body:   body,
	})
}

func (r *thingRecord) OnUploadResponseReceived(ctx context.Context, body []byte) error {
	var resp thingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if resp.ID == nil {
		return fmt.Errorf("%w: no id", ErrDecode)
	}

	current, err := r.kit.Store.GetThing(ctx, r.thing.ID)
	if isNotFound(err) {
		r.kit.orphaned(ctx, models.KindThing, r.thing.ID, Locator(r.kit.ThingURL, *resp.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload thing %d: %w", r.thing.ID, err)
	}

	current.RemoteID = models.Int64(*resp.ID)
	current.LabelValidated = resp.LabelValidated
	if err := r.kit.Store.SaveThing(ctx, current); err != nil {
		return fmt.Errorf("save thing %d: %w", current.ID, err)
	}
	r.thing = current
	return nil
}

func (r *thingRecord) RequestRemoteDeletion(ctx context.Context) {
	if r.thing.RemoteID == nil || r.kit.Deletions == nil {
		return
	}
	r.kit.Deletions.RequestDeletion(ctx, Locator(r.kit.ThingURL, *r.thing.RemoteID))
}
