package api

import (
	"time"

	"github.com/brandon/crm-timeline/internal/timeline"
)

type itemResponse struct {
	timeline.Item
	Key            string `json:"key"`
	DisplayPreview string `json:"display_preview"`
	Expanded       bool   `json:"expanded"`
	Content        string `json:"content"`
	Deletable      bool   `json:"deletable"`
}

type timelineResponse struct {
	CustomerID string               `json:"customer_id"`
	Items      []itemResponse       `json:"items"`
	Empty      bool                 `json:"empty"`
	Loading    bool                 `json:"loading"`
	Error      string               `json:"error,omitempty"`
	Generation uint64               `json:"generation"`
	FetchedAt  *time.Time           `json:"fetched_at,omitempty"`
	Collisions []timeline.Collision `json:"collisions,omitempty"`
}

func newTimelineResponse(view *timeline.View) timelineResponse {
	snap := view.Snapshot()
	expansion := view.Expansion()

	resp := timelineResponse{
		CustomerID: snap.CustomerID,
		Items:      make([]itemResponse, 0, len(snap.Items)),
		Empty:      snap.Empty,
		Loading:    snap.Loading,
		Generation: snap.Generation,
		Collisions: snap.Collisions,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if !snap.FetchedAt.IsZero() {
		fetched := snap.FetchedAt
		resp.FetchedAt = &fetched
	}
	for _, it := range snap.Items {
		resp.Items = append(resp.Items, itemResponse{
			Item:           it,
			Key:            it.Key(),
			DisplayPreview: it.DisplayPreview(),
			Expanded:       expansion.IsExpanded(it.Key()),
			Content:        expansion.Content(it),
			Deletable:      it.Deletable(),
		})
	}
	return resp
}
