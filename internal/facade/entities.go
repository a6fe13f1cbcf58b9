package facade

import (
	"context"
	"encoding/json"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/store"
)

// Replay priorities per entity type. Time-sensitive field data goes in
// the high band, bulk photo uploads in the low band so they never starve
// a ticket submission enqueued after them.
const (
	ticketPriority   = models.PriorityHigh
	checkInPriority  = models.PriorityHigh
	reportPriority   = models.PriorityMedium
	materialPriority = models.PriorityMedium
	photoPriority    = models.PriorityLow
)

func marshal(v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "marshal entity", err)
	}
	return payload, nil
}

func decodeOne[T any](rec *models.CachedRecord, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	var v T
	if err := rec.Decode(&v); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "decode cached record", err)
	}
	return &v, nil
}

func decodeAll[T any](recs []*models.CachedRecord, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := rec.Decode(&v); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruption, "decode cached record", err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// CreateTicket files a field work order. The returned record carries the
// definitive sync_status for the write.
func (f *Facade) CreateTicket(ctx context.Context, t *models.Ticket) (*models.CachedRecord, error) {
	if err := f.stamp(ctx, &t.ID, &t.Audit); err != nil {
		return nil, err
	}
	if err := f.check(t); err != nil {
		return nil, err
	}
	payload, err := marshal(t)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionTickets, models.OperationCreate, t.ID, payload, models.CategoryFieldData, ticketPriority)
}

// UpdateTicket applies a full-record update to an existing ticket.
func (f *Facade) UpdateTicket(ctx context.Context, t *models.Ticket) (*models.CachedRecord, error) {
	if t.ID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "ticket id required for update")
	}
	if err := f.stamp(ctx, &t.ID, &t.Audit); err != nil {
		return nil, err
	}
	if err := f.check(t); err != nil {
		return nil, err
	}
	payload, err := marshal(t)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionTickets, models.OperationUpdate, t.ID, payload, models.CategoryFieldData, ticketPriority)
}

// DeleteTicket removes a ticket locally at once and remotely when possible.
func (f *Facade) DeleteTicket(ctx context.Context, id string) error {
	return f.remove(ctx, store.CollectionTickets, id, models.CategoryFieldData, ticketPriority)
}

// GetTicket reads one ticket, remote-first.
func (f *Facade) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return decodeOne[models.Ticket](f.get(ctx, store.CollectionTickets, id))
}

// GetTicketsByProject lists a project's tickets, remote-first with cache
// fallback.
func (f *Facade) GetTicketsByProject(ctx context.Context, projectID string) ([]*models.Ticket, error) {
	return decodeAll[models.Ticket](f.list(ctx, store.CollectionTickets, store.IndexByProject, projectID))
}

// CheckInCrew records a worker arriving at or leaving a site.
func (f *Facade) CheckInCrew(ctx context.Context, c *models.CrewCheckIn) (*models.CachedRecord, error) {
	if err := f.stamp(ctx, &c.ID, &c.Audit); err != nil {
		return nil, err
	}
	if err := f.check(c); err != nil {
		return nil, err
	}
	payload, err := marshal(c)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionCrewCheckIns, models.OperationCreate, c.ID, payload, models.CategoryFieldData, checkInPriority)
}

// GetCheckInsByProject lists a project's crew check-ins.
func (f *Facade) GetCheckInsByProject(ctx context.Context, projectID string) ([]*models.CrewCheckIn, error) {
	return decodeAll[models.CrewCheckIn](f.list(ctx, store.CollectionCrewCheckIns, store.IndexByProject, projectID))
}

// CreateDailyReport files the end-of-day report for a project.
func (f *Facade) CreateDailyReport(ctx context.Context, r *models.DailyReport) (*models.CachedRecord, error) {
	if err := f.stamp(ctx, &r.ID, &r.Audit); err != nil {
		return nil, err
	}
	if err := f.check(r); err != nil {
		return nil, err
	}
	payload, err := marshal(r)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionDailyReports, models.OperationCreate, r.ID, payload, models.CategoryFieldData, reportPriority)
}

// GetReportsByProject lists a project's daily reports.
func (f *Facade) GetReportsByProject(ctx context.Context, projectID string) ([]*models.DailyReport, error) {
	return decodeAll[models.DailyReport](f.list(ctx, store.CollectionDailyReports, store.IndexByProject, projectID))
}

// CreateMaterialRequest asks the office for material.
func (f *Facade) CreateMaterialRequest(ctx context.Context, m *models.MaterialRequest) (*models.CachedRecord, error) {
	if err := f.stamp(ctx, &m.ID, &m.Audit); err != nil {
		return nil, err
	}
	if err := f.check(m); err != nil {
		return nil, err
	}
	payload, err := marshal(m)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionMaterialRequests, models.OperationCreate, m.ID, payload, models.CategoryFieldData, materialPriority)
}

// UpdateMaterialRequest applies a full-record update.
func (f *Facade) UpdateMaterialRequest(ctx context.Context, m *models.MaterialRequest) (*models.CachedRecord, error) {
	if m.ID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "material request id required for update")
	}
	if err := f.stamp(ctx, &m.ID, &m.Audit); err != nil {
		return nil, err
	}
	if err := f.check(m); err != nil {
		return nil, err
	}
	payload, err := marshal(m)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionMaterialRequests, models.OperationUpdate, m.ID, payload, models.CategoryFieldData, materialPriority)
}

// GetMaterialRequestsByProject lists a project's material requests.
func (f *Facade) GetMaterialRequestsByProject(ctx context.Context, projectID string) ([]*models.MaterialRequest, error) {
	return decodeAll[models.MaterialRequest](f.list(ctx, store.CollectionMaterialRequests, store.IndexByProject, projectID))
}

// UploadPhoto stores a site photo locally and ships it in the low
// priority band. The encoded image rides in the queue payload until the
// upload is confirmed.
func (f *Facade) UploadPhoto(ctx context.Context, p *models.Photo) (*models.CachedRecord, error) {
	if err := f.stamp(ctx, &p.ID, &p.Audit); err != nil {
		return nil, err
	}
	if err := f.check(p); err != nil {
		return nil, err
	}
	payload, err := marshal(p)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, store.CollectionPhotos, models.OperationUploadPhoto, p.ID, payload, models.CategoryPhotos, photoPriority)
}

// DeletePhoto removes a photo.
func (f *Facade) DeletePhoto(ctx context.Context, id string) error {
	return f.remove(ctx, store.CollectionPhotos, id, models.CategoryPhotos, photoPriority)
}

// GetPhotosByTicket lists photos attached to a ticket.
func (f *Facade) GetPhotosByTicket(ctx context.Context, ticketID string) ([]*models.Photo, error) {
	return decodeAll[models.Photo](f.list(ctx, store.CollectionPhotos, store.IndexByTicket, ticketID))
}

// GetProjects lists projects, remote-first. Projects are reference data
// maintained in the office; the field side only reads and caches them.
func (f *Facade) GetProjects(ctx context.Context) ([]*models.Project, error) {
	return decodeAll[models.Project](f.list(ctx, store.CollectionProjects, "", ""))
}

// GetProject reads one project.
func (f *Facade) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return decodeOne[models.Project](f.get(ctx, store.CollectionProjects, id))
}

// GetAreasByProject lists a project's areas.
func (f *Facade) GetAreasByProject(ctx context.Context, projectID string) ([]*models.Area, error) {
	return decodeAll[models.Area](f.list(ctx, store.CollectionAreas, store.IndexByProject, projectID))
}

// GetWorkersByProject lists a project's crew roster.
func (f *Facade) GetWorkersByProject(ctx context.Context, projectID string) ([]*models.Worker, error) {
	return decodeAll[models.Worker](f.list(ctx, store.CollectionWorkers, store.IndexByProject, projectID))
}

// GetEquipmentByProject lists equipment tracked against a project.
func (f *Facade) GetEquipmentByProject(ctx context.Context, projectID string) ([]*models.EquipmentRef, error) {
	return decodeAll[models.EquipmentRef](f.list(ctx, store.CollectionEquipmentRefs, store.IndexByProject, projectID))
}
