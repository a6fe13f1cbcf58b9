package store

// IndexDef declares a secondary index over a top-level JSON field of the
// record payload.
type IndexDef struct {
	Name    string
	Field   string
	AddedIn int
}

// CollectionDef declares a named collection and the schema version that
// introduced it.
type CollectionDef struct {
	Name    string
	AddedIn int
	Indexes []IndexDef
}

// Schema is the full on-device layout. The version number must only grow,
// and migrations are additive: a newer schema creates missing collections
// and indexes but never drops existing data.
type Schema struct {
	Version     int
	Collections []CollectionDef
}

// Collection names used by the engine.
const (
	CollectionProjects         = "projects"
	CollectionAreas            = "areas"
	CollectionTickets          = "tickets"
	CollectionWorkers          = "workers"
	CollectionCrewCheckIns     = "crew_checkins"
	CollectionDailyReports     = "daily_reports"
	CollectionMaterialRequests = "material_requests"
	CollectionPhotos           = "photos"
	CollectionEquipmentRefs    = "equipment_refs"
	CollectionSyncQueue        = "sync_queue"
)

// Index names shared by callers.
const (
	IndexByProject  = "by_project"
	IndexByTicket   = "by_ticket"
	IndexByWorker   = "by_worker"
	IndexByStatus   = "by_status"
	IndexByCategory = "by_category"
)

// DefaultSchema is the current on-device layout. Version 1 shipped the
// core entity collections and the mutation queue; version 2 added
// equipment references and the ticket area index.
func DefaultSchema() Schema {
	return Schema{
		Version: 2,
		Collections: []CollectionDef{
			{Name: CollectionProjects, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByStatus, Field: "status", AddedIn: 1},
			}},
			{Name: CollectionAreas, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
			}},
			{Name: CollectionTickets, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
				{Name: IndexByStatus, Field: "status", AddedIn: 1},
				{Name: "by_area", Field: "area_id", AddedIn: 2},
			}},
			{Name: CollectionWorkers, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
			}},
			{Name: CollectionCrewCheckIns, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
				{Name: IndexByWorker, Field: "worker_id", AddedIn: 1},
			}},
			{Name: CollectionDailyReports, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
			}},
			{Name: CollectionMaterialRequests, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
				{Name: IndexByStatus, Field: "status", AddedIn: 1},
			}},
			{Name: CollectionPhotos, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 1},
				{Name: IndexByTicket, Field: "ticket_id", AddedIn: 1},
			}},
			{Name: CollectionEquipmentRefs, AddedIn: 2, Indexes: []IndexDef{
				{Name: IndexByProject, Field: "project_id", AddedIn: 2},
			}},
			{Name: CollectionSyncQueue, AddedIn: 1, Indexes: []IndexDef{
				{Name: IndexByStatus, Field: "status", AddedIn: 1},
				{Name: IndexByCategory, Field: "category", AddedIn: 1},
			}},
		},
	}
}
