package api

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// PinsAPI provides the pins.* methods
type PinsAPI struct {
	service *manager.Service
	history MaintenanceLog
}

// NewPinsAPI creates a new pins API. history may be nil when no maintenance
// log is kept.
func NewPinsAPI(service *manager.Service, history MaintenanceLog) *PinsAPI {
	return &PinsAPI{service: service, history: history}
}

// PinResult is a pin with the classification of the last sweep
type PinResult struct {
	lifecycle.Record
	Classification *lifecycle.Classification `json:"classification,omitempty"`
}

type filterParams struct {
	View          *lifecycle.View `json:"view"`
	IncludeHidden bool            `json:"include_hidden"`
}

type idParams struct {
	ID string `json:"id"`
}

type tabParams struct {
	Tab *lifecycle.View `json:"tab"`
}

type historyParams struct {
	Limit *int `json:"limit"`
}

type refreshParams struct {
	Pins []lifecycle.Record `json:"pins"`
}

type createParams struct {
	ID              string                `json:"id"`
	Coordinates     lifecycle.Coordinates `json:"coordinates"`
	Category        string                `json:"category"`
	ExternalPlaceID string                `json:"external_place_id"`
}

// decodeParams unmarshals params into v. Absent params leave v untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("invalid parameters format: %v", err)
	}
	return nil
}

func requireID(params json.RawMessage) (string, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return "", invalidParams("missing required parameter: id")
	}
	return id, nil
}

func pinResults(m *manager.Manager, pins []lifecycle.Pin) []PinResult {
	out := make([]PinResult, len(pins))
	for i, p := range pins {
		out[i] = PinResult{Record: p.Record()}
		if c, ok := m.Classification(p.ID); ok {
			out[i].Classification = &c
		}
	}
	return out
}

// GetFiltered handles pins.get_filtered. Without a view it lists the active tab.
func (a *PinsAPI) GetFiltered(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p filterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	var result []PinResult
	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		view := m.ActiveTab()
		if p.View != nil {
			view = *p.View
		}
		result = pinResults(m, m.PinsFor(view, p.IncludeHidden))
		return nil
	})
	return result, err
}

// GetCounts handles pins.get_counts
func (a *PinsAPI) GetCounts(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var counts manager.Counts
	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		counts = m.PinCounts()
		return nil
	})
	return counts, err
}

// GetActiveTab handles pins.get_active_tab
func (a *PinsAPI) GetActiveTab(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var view lifecycle.View
	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		view = m.ActiveTab()
		return nil
	})
	return map[string]interface{}{"tab": view}, err
}

// SetActiveTab handles pins.set_active_tab
func (a *PinsAPI) SetActiveTab(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p tabParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Tab == nil {
		return nil, invalidParams("missing required parameter: tab")
	}

	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		return m.SetActiveTab(*p.Tab)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tab": *p.Tab}, nil
}

// GetLifecycleStats handles pins.get_lifecycle_stats
func (a *PinsAPI) GetLifecycleStats(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var stats manager.LifecycleStats
	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		stats = m.LifecycleStats()
		return nil
	})
	return stats, err
}

// GetMaintenanceStats handles pins.get_maintenance_stats
func (a *PinsAPI) GetMaintenanceStats(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var stats manager.MaintenanceStats
	err := a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		stats = m.MaintenanceStats(a.service.Now())
		return nil
	})
	return stats, err
}

// GetInsights handles pins.get_insights
func (a *PinsAPI) GetInsights(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	id, err := requireID(params)
	if err != nil {
		return nil, err
	}

	var insights lifecycle.ScoreInsights
	err = a.service.Do(ctx.Request.Context(), func(m *manager.Manager) error {
		var err error
		insights, err = m.Insights(id, a.service.Now())
		return err
	})
	return insights, err
}

// GetMaintenanceHistory handles pins.get_maintenance_history
func (a *PinsAPI) GetMaintenanceHistory(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p historyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	limit := defaultHistoryLimit
	if p.Limit != nil {
		if *p.Limit < 1 || *p.Limit > maxHistoryLimit {
			return nil, invalidParams("limit must be between 1 and %d", maxHistoryLimit)
		}
		limit = *p.Limit
	}
	if a.history == nil {
		return nil, NewError(ErrNoHistory, "Maintenance history unavailable")
	}

	runs, err := a.history.History(ctx.Request.Context(), limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.MaintenanceRun{}
	}
	return runs, nil
}

// Refresh handles pins.refresh, replacing the snapshot wholesale
func (a *PinsAPI) Refresh(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p refreshParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Pins == nil {
		return nil, invalidParams("missing required parameter: pins")
	}

	if err := a.service.Refresh(ctx.Request.Context(), lifecycle.RestoreAll(p.Pins)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"pins": len(p.Pins)}, nil
}

// TriggerMaintenance handles pins.trigger_maintenance
func (a *PinsAPI) TriggerMaintenance(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	report, err := a.service.TriggerMaintenance(ctx.Request.Context())
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Create handles pins.create. An id is generated when none is given.
func (a *PinsAPI) Create(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p createParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	pin := lifecycle.NewPin(p.ID, p.Coordinates, p.Category, p.ExternalPlaceID, a.service.Now())
	var created lifecycle.Pin
	err := a.service.Mutate(ctx.Request.Context(), func(m *manager.Manager) error {
		var err error
		created, err = m.Create(pin)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created.Record(), nil
}

// Endorse handles pins.endorse
func (a *PinsAPI) Endorse(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	id, err := requireID(params)
	if err != nil {
		return nil, err
	}

	var pin lifecycle.Pin
	err = a.service.Mutate(ctx.Request.Context(), func(m *manager.Manager) error {
		var err error
		pin, err = m.Endorse(id, a.service.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return pin.Record(), nil
}

// Downvote handles pins.downvote
func (a *PinsAPI) Downvote(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	id, err := requireID(params)
	if err != nil {
		return nil, err
	}

	var pin lifecycle.Pin
	err = a.service.Mutate(ctx.Request.Context(), func(m *manager.Manager) error {
		var err error
		pin, err = m.Downvote(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pin.Record(), nil
}
