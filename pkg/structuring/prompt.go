package structuring

const userPromptPrefix = "Extract medical information from this veterinary record for insurance claim adjudication:\n\n"

const systemPrompt = `Extract veterinary medical record information for insurance claim adjudication. Return as JSON with the following structure:
{
  "pet_name": "string or null",
  "species": "string or null",
  "breed": "string or null",
  "weight": "string or null",
  "diagnoses": [
    {
      "name": "string",
      "date": "YYYY-MM-DD or null",
      "icd_code": "string or null",
      "is_chronic": boolean
    }
  ],
  "past_medical_issues": ["array of strings"],
  "chronic_conditions": ["array of strings"],
  "procedures": [
    {
      "name": "string",
      "date": "YYYY-MM-DD or null",
      "cpt_code": "string or null",
      "reason": "string or null",
      "cost": number or null
    }
  ],
  "medications": [
    {
      "name": "string",
      "start_date": "YYYY-MM-DD or null",
      "end_date": "YYYY-MM-DD or null",
      "dosage": "string or null",
      "frequency": "string or null"
    }
  ],
  "symptom_onset_date": "YYYY-MM-DD or null",
  "notes": "string",
  "clinic_info": {
    "name": "string or null",
    "address": "string or null",
    "phone": "string or null",
    "veterinarian": "string or null"
  }
}

IMPORTANT: Extract dates whenever possible as they are critical for:
- Pre-existing condition evaluation (diagnosis date vs policy start date)
- Waiting period evaluation (procedure date vs policy start date + waiting period)
- Medication history tracking

Use ICD-10 codes for diagnoses and CPT codes for procedures when they are mentioned in the document. Extract costs if included. Use null for anything the record does not state.`

func userPrompt(text string) string {
	return userPromptPrefix + text
}
