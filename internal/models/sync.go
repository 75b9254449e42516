package models

import (
	"errors"
	"fmt"
	"time"
)

// SyncState tracks a record through the push lifecycle.
type SyncState string

const (
	SyncStateUnsynced     SyncState = "UNSYNCED"
	SyncStatePushed       SyncState = "PUSHED"
	SyncStateAcknowledged SyncState = "ACKNOWLEDGED"
)

// RecordType names a record family in the shared store.
type RecordType string

const (
	RecordTypeStudent      RecordType = "student"
	RecordTypeAssignment   RecordType = "assignment"
	RecordTypeItemProgress RecordType = "item_progress"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeStudent, RecordTypeAssignment, RecordTypeItemProgress:
		return true
	}
	return false
}

// RecordKey addresses one record inside a share.
type RecordKey struct {
	ShareID string     `json:"shareId"`
	Type    RecordType `json:"type"`
	ID      string     `json:"id"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ShareID, k.Type, k.ID)
}

// Timestamp normalizes t to the precision every store round-trips.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// StudentRecord is the wire form of a student.
type StudentRecord struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Telephone   string `json:"telephone"`
	HomeAddress string `json:"homeAddress"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`

	GoalPPL        bool `json:"goalPPL"`
	GoalIFR        bool `json:"goalIFR"`
	GoalCommercial bool `json:"goalCommercial"`
	GoalReview     bool `json:"goalReview"`

	PPLGroundSchoolCompleted        bool `json:"pplGroundSchoolCompleted"`
	PPLWrittenTestCompleted         bool `json:"pplWrittenTestCompleted"`
	IFRGroundSchoolCompleted        bool `json:"ifrGroundSchoolCompleted"`
	IFRWrittenTestCompleted         bool `json:"ifrWrittenTestCompleted"`
	CommercialGroundSchoolCompleted bool `json:"commercialGroundSchoolCompleted"`
	CommercialWrittenTestCompleted  bool `json:"commercialWrittenTestCompleted"`

	HasStudentPilotCertificate bool `json:"hasStudentPilotCertificate"`
	HasPilotCertificate        bool `json:"hasPilotCertificate"`
	HasMedicalCertificate      bool `json:"hasMedicalCertificate"`
	HasGovernmentID            bool `json:"hasGovernmentId"`
	HasLogbook                 bool `json:"hasLogbook"`

	ShareTerminated  bool       `json:"shareTerminated"`
	PairingCodeHash  string     `json:"pairingCodeHash,omitempty"`
	PairingExpiresAt *time.Time `json:"pairingExpiresAt,omitempty"`
	LastModified     time.Time  `json:"lastModified"`
}

// AssignmentRecord is the wire form of an assignment. It carries the template
// reference and mutable fields only.
type AssignmentRecord struct {
	ID                 string    `json:"id"`
	StudentID          string    `json:"studentId"`
	TemplateID         string    `json:"templateId"`
	TemplateIdentifier *string   `json:"templateIdentifier,omitempty"`
	IsUserCustom       bool      `json:"isUserCustom"`
	InstructorComments string    `json:"instructorComments"`
	DualGivenHours     float64   `json:"dualGivenHours"`
	CreatedAt          time.Time `json:"createdAt"`
	LastModified       time.Time `json:"lastModified"`
}

// ItemProgressRecord is the wire form of an item progress record.
type ItemProgressRecord struct {
	ID             string     `json:"id"`
	AssignmentID   string     `json:"assignmentId"`
	TemplateItemID string     `json:"templateItemId"`
	IsComplete     bool       `json:"isComplete"`
	Notes          *string    `json:"notes,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	LastModified   time.Time  `json:"lastModified"`
}

// SyncRecord is the envelope stored in and read from the shared store.
// Exactly one payload is set unless Deleted is true.
type SyncRecord struct {
	Type         RecordType          `json:"type"`
	ID           string              `json:"id"`
	ShareID      string              `json:"shareId"`
	Origin       string              `json:"origin"`
	Deleted      bool                `json:"deleted"`
	LastModified time.Time           `json:"lastModified"`
	Student      *StudentRecord      `json:"student,omitempty"`
	Assignment   *AssignmentRecord   `json:"assignment,omitempty"`
	Item         *ItemProgressRecord `json:"item,omitempty"`
}

// Key returns the store address of the record.
func (r SyncRecord) Key() RecordKey {
	return RecordKey{ShareID: r.ShareID, Type: r.Type, ID: r.ID}
}

// Validate checks the envelope is well formed.
func (r SyncRecord) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unknown record type %q", r.Type)
	}
	if r.ID == "" || r.ShareID == "" {
		return errors.New("record id and share id are required")
	}
	if r.Deleted {
		return nil
	}
	var ok bool
	switch r.Type {
	case RecordTypeStudent:
		ok = r.Student != nil && r.Student.ID == r.ID
	case RecordTypeAssignment:
		ok = r.Assignment != nil && r.Assignment.ID == r.ID
	case RecordTypeItemProgress:
		ok = r.Item != nil && r.Item.ID == r.ID
	}
	if !ok {
		return fmt.Errorf("record %s/%s payload missing or mismatched", r.Type, r.ID)
	}
	return nil
}

// NewStudentRecord serializes a student for the share it owns.
func NewStudentRecord(s Student, origin string) SyncRecord {
	rec := &StudentRecord{
		ID:                              s.ID,
		FirstName:                       s.FirstName,
		LastName:                        s.LastName,
		Email:                           s.Email,
		Telephone:                       s.Telephone,
		HomeAddress:                     s.HomeAddress,
		City:                            s.City,
		State:                           s.State,
		ZipCode:                         s.ZipCode,
		GoalPPL:                         s.GoalPPL,
		GoalIFR:                         s.GoalIFR,
		GoalCommercial:                  s.GoalCommercial,
		GoalReview:                      s.GoalReview,
		PPLGroundSchoolCompleted:        s.PPLGroundSchoolCompleted,
		PPLWrittenTestCompleted:         s.PPLWrittenTestCompleted,
		IFRGroundSchoolCompleted:        s.IFRGroundSchoolCompleted,
		IFRWrittenTestCompleted:         s.IFRWrittenTestCompleted,
		CommercialGroundSchoolCompleted: s.CommercialGroundSchoolCompleted,
		CommercialWrittenTestCompleted:  s.CommercialWrittenTestCompleted,
		HasStudentPilotCertificate:      s.HasStudentPilotCertificate,
		HasPilotCertificate:             s.HasPilotCertificate,
		HasMedicalCertificate:           s.HasMedicalCertificate,
		HasGovernmentID:                 s.HasGovernmentID,
		HasLogbook:                      s.HasLogbook,
		ShareTerminated:                 s.ShareTerminated,
		PairingExpiresAt:                s.PairingExpiresAt,
		LastModified:                    s.LastModified,
	}
	if s.PairingCodeHash != nil {
		rec.PairingCodeHash = *s.PairingCodeHash
	}
	return SyncRecord{
		Type:         RecordTypeStudent,
		ID:           s.ID,
		ShareID:      s.ID,
		Origin:       origin,
		LastModified: s.LastModified,
		Student:      rec,
	}
}

// NewAssignmentRecord serializes an assignment without its items.
func NewAssignmentRecord(a Assignment, origin string) SyncRecord {
	return SyncRecord{
		Type:         RecordTypeAssignment,
		ID:           a.ID,
		ShareID:      a.StudentID,
		Origin:       origin,
		LastModified: a.LastModified,
		Assignment: &AssignmentRecord{
			ID:                 a.ID,
			StudentID:          a.StudentID,
			TemplateID:         a.TemplateID,
			TemplateIdentifier: a.TemplateIdentifier,
			IsUserCustom:       a.IsUserCustom,
			InstructorComments: a.InstructorComments,
			DualGivenHours:     a.DualGivenHours,
			CreatedAt:          a.CreatedAt,
			LastModified:       a.LastModified,
		},
	}
}

// NewItemProgressRecord serializes one item for the share of studentID.
func NewItemProgressRecord(p ItemProgress, studentID, origin string) SyncRecord {
	return SyncRecord{
		Type:         RecordTypeItemProgress,
		ID:           p.ID,
		ShareID:      studentID,
		Origin:       origin,
		LastModified: p.LastModified,
		Item: &ItemProgressRecord{
			ID:             p.ID,
			AssignmentID:   p.AssignmentID,
			TemplateItemID: p.TemplateItemID,
			IsComplete:     p.IsComplete,
			Notes:          p.Notes,
			CompletedAt:    p.CompletedAt,
			LastModified:   p.LastModified,
		},
	}
}

// NewDeletedRecord builds the tombstone envelope written by a remote delete.
func NewDeletedRecord(key RecordKey, deletedAt time.Time, origin string) SyncRecord {
	return SyncRecord{
		Type:         key.Type,
		ID:           key.ID,
		ShareID:      key.ShareID,
		Origin:       origin,
		Deleted:      true,
		LastModified: deletedAt,
	}
}

// ToStudent applies the record onto local, keeping local-only share state.
func (r StudentRecord) ToStudent(local Student) Student {
	out := local
	out.ID = r.ID
	out.FirstName = r.FirstName
	out.LastName = r.LastName
	out.Email = r.Email
	out.Telephone = r.Telephone
	out.HomeAddress = r.HomeAddress
	out.City = r.City
	out.State = r.State
	out.ZipCode = r.ZipCode
	out.GoalPPL = r.GoalPPL
	out.GoalIFR = r.GoalIFR
	out.GoalCommercial = r.GoalCommercial
	out.GoalReview = r.GoalReview
	out.PPLGroundSchoolCompleted = r.PPLGroundSchoolCompleted
	out.PPLWrittenTestCompleted = r.PPLWrittenTestCompleted
	out.IFRGroundSchoolCompleted = r.IFRGroundSchoolCompleted
	out.IFRWrittenTestCompleted = r.IFRWrittenTestCompleted
	out.CommercialGroundSchoolCompleted = r.CommercialGroundSchoolCompleted
	out.CommercialWrittenTestCompleted = r.CommercialWrittenTestCompleted
	out.HasStudentPilotCertificate = r.HasStudentPilotCertificate
	out.HasPilotCertificate = r.HasPilotCertificate
	out.HasMedicalCertificate = r.HasMedicalCertificate
	out.HasGovernmentID = r.HasGovernmentID
	out.HasLogbook = r.HasLogbook
	out.ShareTerminated = r.ShareTerminated
	if r.PairingCodeHash != "" {
		hash := r.PairingCodeHash
		out.PairingCodeHash = &hash
	}
	out.PairingExpiresAt = r.PairingExpiresAt
	out.LastModified = r.LastModified
	out.SyncState = SyncStateAcknowledged
	return out
}

// ToAssignment converts the record into a local assignment without items.
func (r AssignmentRecord) ToAssignment() Assignment {
	return Assignment{
		ID:                 r.ID,
		StudentID:          r.StudentID,
		TemplateID:         r.TemplateID,
		TemplateIdentifier: r.TemplateIdentifier,
		IsUserCustom:       r.IsUserCustom,
		InstructorComments: r.InstructorComments,
		DualGivenHours:     r.DualGivenHours,
		CreatedAt:          r.CreatedAt,
		LastModified:       r.LastModified,
		SyncState:          SyncStateAcknowledged,
	}
}

// ToItemProgress converts the record into a local item.
func (r ItemProgressRecord) ToItemProgress() ItemProgress {
	return ItemProgress{
		ID:             r.ID,
		AssignmentID:   r.AssignmentID,
		TemplateItemID: r.TemplateItemID,
		IsComplete:     r.IsComplete,
		Notes:          r.Notes,
		CompletedAt:    r.CompletedAt,
		LastModified:   r.LastModified,
		SyncState:      SyncStateAcknowledged,
	}
}

// Tombstone remembers a locally deleted record until its remote delete lands,
// and afterwards so the record is never resurrected.
type Tombstone struct {
	RecordType RecordType `db:"record_type" json:"recordType"`
	RecordID   string     `db:"record_id" json:"recordId"`
	ShareID    string     `db:"share_id" json:"shareId"`
	DeletedAt  time.Time  `db:"deleted_at" json:"deletedAt"`
	Delivered  bool       `db:"delivered" json:"delivered"`
}

// Key returns the store address of the deleted record.
func (t Tombstone) Key() RecordKey {
	return RecordKey{ShareID: t.ShareID, Type: t.RecordType, ID: t.RecordID}
}

// SyncCursor stores the last pull token per share.
type SyncCursor struct {
	ShareID   string    `db:"share_id" json:"shareId"`
	Token     string    `db:"token" json:"token"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ParkedRecord is an inbound record held until its parent assignment arrives.
// Payload is the JSON encoded SyncRecord.
type ParkedRecord struct {
	ShareID      string     `db:"share_id"`
	RecordType   RecordType `db:"record_type"`
	RecordID     string     `db:"record_id"`
	LastModified time.Time  `db:"last_modified"`
	Payload      string     `db:"payload"`
	ParkedAt     time.Time  `db:"parked_at"`
}

// ReconcileReport summarizes one inbound reconciliation pass.
type ReconcileReport struct {
	ShareID   string `json:"shareId"`
	Pulled    int    `json:"pulled"`
	Applied   int    `json:"applied"`
	Discarded int    `json:"discarded"`
	Parked    int    `json:"parked"`
	Deleted   int    `json:"deleted"`
	Token     string `json:"token"`
}

// AssignmentSyncStatus reports the push state of an assignment and its items.
type AssignmentSyncStatus struct {
	AssignmentID  string    `json:"assignmentId"`
	State         SyncState `json:"state"`
	UnsyncedItems int       `json:"unsyncedItems"`
	PushedItems   int       `json:"pushedItems"`
	LastModified  time.Time `json:"lastModified"`
}
