package history

import (
	"encoding/json"
)

// Patient is one search result row. ID and Name are derived when results
// are received; the reporting module only returns the other fields.
type Patient struct {
	PatientID int64  `json:"patientId"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Gender    string `json:"gender"`
	Age       int    `json:"age"`
	ID        string `json:"id"`
	Name      string `json:"name"`
}

// Item is the persisted shape of one search.
type Item struct {
	Description string          `json:"description"`
	Patients    []Patient       `json:"patients"`
	Parameters  json.RawMessage `json:"parameters"`
	Timestamp   string          `json:"timestamp"`
}

// Entry is an Item as read back, with its 1-based slot id and result count.
type Entry struct {
	Item
	ID      string `json:"id"`
	Results int    `json:"results"`

	raw json.RawMessage
}
