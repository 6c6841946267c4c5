package domain

// ClinicalRecord is the structured form of a veterinary record.
// Lists are never nil after Normalize; Notes is always present.
type ClinicalRecord struct {
	PetName           *string      `json:"pet_name"`
	Species           *string      `json:"species"`
	Breed             *string      `json:"breed"`
	Weight            *string      `json:"weight"`
	Diagnoses         []Diagnosis  `json:"diagnoses"`
	PastMedicalIssues []string     `json:"past_medical_issues"`
	ChronicConditions []string     `json:"chronic_conditions"`
	Procedures        []Procedure  `json:"procedures"`
	Medications       []Medication `json:"medications"`
	SymptomOnsetDate  *string      `json:"symptom_onset_date"`
	Notes             string       `json:"notes"`
	ClinicInfo        ClinicInfo   `json:"clinic_info"`
}

type Diagnosis struct {
	Name      string  `json:"name"`
	Date      *string `json:"date"`
	Code      *string `json:"icd_code"`
	IsChronic bool    `json:"is_chronic"`
}

type Procedure struct {
	Name   string   `json:"name"`
	Date   *string  `json:"date"`
	Code   *string  `json:"cpt_code"`
	Reason *string  `json:"reason"`
	Cost   *float64 `json:"cost"`
}

type Medication struct {
	Name      string  `json:"name"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Dosage    *string `json:"dosage"`
	Frequency *string `json:"frequency"`
}

type ClinicInfo struct {
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	Phone        *string `json:"phone"`
	Veterinarian *string `json:"veterinarian"`
}

// Normalize replaces nil lists with empty ones so the record always
// serialises with [] rather than null.
func (r *ClinicalRecord) Normalize() {
	if r.Diagnoses == nil {
		r.Diagnoses = []Diagnosis{}
	}
	if r.PastMedicalIssues == nil {
		r.PastMedicalIssues = []string{}
	}
	if r.ChronicConditions == nil {
		r.ChronicConditions = []string{}
	}
	if r.Procedures == nil {
		r.Procedures = []Procedure{}
	}
	if r.Medications == nil {
		r.Medications = []Medication{}
	}
}

// DegradedRecord returns the fallback record: everything empty except notes.
func DegradedRecord(notes string) ClinicalRecord {
	rec := ClinicalRecord{Notes: notes}
	rec.Normalize()
	return rec
}
