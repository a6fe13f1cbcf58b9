package models

// Audit carries the who/when stamps applied to every local write. The
// fields are filled from the ActorContext, never from the server.
type Audit struct {
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedByName string `json:"created_by_name,omitempty"`
	CreatedAt     int64  `json:"created_at,omitempty"`
	UpdatedBy     string `json:"updated_by,omitempty"`
	UpdatedByName string `json:"updated_by_name,omitempty"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
}

// StampCreate fills the creator and updater fields for a fresh record.
func (a *Audit) StampCreate(actor *ActorContext, now int64) {
	a.CreatedBy = actor.UserID
	a.CreatedByName = actor.Name
	a.CreatedAt = now
	a.StampUpdate(actor, now)
}

// StampUpdate refreshes the updater fields on an existing record.
func (a *Audit) StampUpdate(actor *ActorContext, now int64) {
	a.UpdatedBy = actor.UserID
	a.UpdatedByName = actor.Name
	a.UpdatedAt = now
}

// Project is a job site with crews assigned to it.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	Number   string `json:"number,omitempty"`
	Status   string `json:"status,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Audit
}

// Area is a subdivision of a project (building, floor, zone).
type Area struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	Name      string `json:"name" validate:"required"`
	Audit
}

// Ticket is a field work order: extra work, punch item, or change request.
type Ticket struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id" validate:"required,uuid4"`
	AreaID      string `json:"area_id,omitempty"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Audit
}

// Worker is a crew member reference.
type Worker struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name" validate:"required"`
	Trade     string `json:"trade,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Audit
}

// CrewCheckIn records a worker arriving at or leaving a project site.
type CrewCheckIn struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id" validate:"required,uuid4"`
	WorkerID  string  `json:"worker_id" validate:"required,uuid4"`
	Direction string  `json:"direction" validate:"required,oneof=in out"`
	At        int64   `json:"at" validate:"required"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Audit
}

// DailyReport is the end-of-day field report for a project.
type DailyReport struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id" validate:"required,uuid4"`
	ReportDate string `json:"report_date" validate:"required"`
	Weather    string `json:"weather,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Headcount  int    `json:"headcount,omitempty"`
	Audit
}

// MaterialRequest asks the office to order or deliver material to a site.
type MaterialRequest struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id" validate:"required,uuid4"`
	TicketID    string `json:"ticket_id,omitempty"`
	Description string `json:"description" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Unit        string `json:"unit,omitempty"`
	NeededBy    string `json:"needed_by,omitempty"`
	Status      string `json:"status,omitempty"`
	Audit
}

// EquipmentRef is a piece of equipment tracked against a project.
type EquipmentRef struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Tag       string `json:"tag" validate:"required"`
	Kind      string `json:"kind,omitempty"`
	Audit
}

// Photo is a site photo pending upload. Data holds the encoded image
// until the upload is confirmed; it makes photo operations the heaviest
// queue entries, which is why they default to the low priority band.
type Photo struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	TicketID  string `json:"ticket_id,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Audit
}
