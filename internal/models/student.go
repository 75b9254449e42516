package models

import (
	"strings"
	"time"
)

// Student owns assignments and carries the inputs of the weighted progress score.
type Student struct {
	ID          string `db:"id" json:"id"`
	FirstName   string `db:"first_name" json:"firstName"`
	LastName    string `db:"last_name" json:"lastName"`
	Email       string `db:"email" json:"email"`
	Telephone   string `db:"telephone" json:"telephone"`
	HomeAddress string `db:"home_address" json:"homeAddress"`
	City        string `db:"city" json:"city"`
	State       string `db:"state" json:"state"`
	ZipCode     string `db:"zip_code" json:"zipCode"`

	GoalPPL        bool `db:"goal_ppl" json:"goalPPL"`
	GoalIFR        bool `db:"goal_ifr" json:"goalIFR"`
	GoalCommercial bool `db:"goal_commercial" json:"goalCommercial"`
	GoalReview     bool `db:"goal_review" json:"goalReview"`

	PPLGroundSchoolCompleted        bool `db:"ppl_ground_school_completed" json:"pplGroundSchoolCompleted"`
	PPLWrittenTestCompleted         bool `db:"ppl_written_test_completed" json:"pplWrittenTestCompleted"`
	IFRGroundSchoolCompleted        bool `db:"ifr_ground_school_completed" json:"ifrGroundSchoolCompleted"`
	IFRWrittenTestCompleted         bool `db:"ifr_written_test_completed" json:"ifrWrittenTestCompleted"`
	CommercialGroundSchoolCompleted bool `db:"commercial_ground_school_completed" json:"commercialGroundSchoolCompleted"`
	CommercialWrittenTestCompleted  bool `db:"commercial_written_test_completed" json:"commercialWrittenTestCompleted"`

	HasStudentPilotCertificate bool `db:"has_student_pilot_certificate" json:"hasStudentPilotCertificate"`
	HasPilotCertificate        bool `db:"has_pilot_certificate" json:"hasPilotCertificate"`
	HasMedicalCertificate      bool `db:"has_medical_certificate" json:"hasMedicalCertificate"`
	HasGovernmentID            bool `db:"has_government_id" json:"hasGovernmentId"`
	HasLogbook                 bool `db:"has_logbook" json:"hasLogbook"`

	ShareActive      bool       `db:"share_active" json:"shareActive"`
	ShareTerminated  bool       `db:"share_terminated" json:"shareTerminated"`
	PairingCodeHash  *string    `db:"pairing_code_hash" json:"-"`
	PairingExpiresAt *time.Time `db:"pairing_expires_at" json:"-"`

	LastModified time.Time `db:"last_modified" json:"lastModified"`
	SyncState    SyncState `db:"sync_state" json:"syncState"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// PersonalInfoFields returns the fields scored by personal-info completeness.
func (s Student) PersonalInfoFields() []string {
	return []string{s.FirstName, s.LastName, s.Email, s.Telephone, s.HomeAddress, s.City, s.State, s.ZipCode}
}

// HasGoal reports whether the student is working toward category.
func (s Student) HasGoal(category Category) bool {
	switch NormalizeCategory(string(category)) {
	case CategoryPPL:
		return s.GoalPPL
	case CategoryIFR:
		return s.GoalIFR
	case CategoryCommercial:
		return s.GoalCommercial
	case CategoryReview:
		return s.GoalReview
	}
	return false
}

// GroundSchoolCompleted reports the ground-school milestone for category.
func (s Student) GroundSchoolCompleted(category Category) bool {
	switch NormalizeCategory(string(category)) {
	case CategoryPPL:
		return s.PPLGroundSchoolCompleted
	case CategoryIFR:
		return s.IFRGroundSchoolCompleted
	case CategoryCommercial:
		return s.CommercialGroundSchoolCompleted
	}
	return false
}

// WrittenTestCompleted reports the written-test milestone for category.
func (s Student) WrittenTestCompleted(category Category) bool {
	switch NormalizeCategory(string(category)) {
	case CategoryPPL:
		return s.PPLWrittenTestCompleted
	case CategoryIFR:
		return s.IFRWrittenTestCompleted
	case CategoryCommercial:
		return s.CommercialWrittenTestCompleted
	}
	return false
}
