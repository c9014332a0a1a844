package models

import "time"

// Label is a row returned by the get_all_label_sel routine.
// Accuracy, Precision and Recall are the training metrics overwritten on reconciliation.
type Label struct {
	ID                    int64      `db:"id" json:"id"`
	HashIdentifierLabel   string     `db:"hash_identifier_label" json:"hashIdentifierLabel"`
	HashIdentifierModel   string     `db:"hash_identifier_model" json:"hashIdentifierModel"`
	HashIdentifierProject string     `db:"hash_identifier_project" json:"hashIdentifierProject"`
	TagTitle              string     `db:"tag_title" json:"tagTitle"`
	FieldType             string     `db:"field_type" json:"fieldType"`
	MinPercentage         float64    `db:"min_percentage" json:"minPercentage"`
	Accuracy              *float64   `db:"accuracy" json:"accuracy"`
	Negative              bool       `db:"negative" json:"negative"`
	ColorTag              string     `db:"color_tag" json:"colorTag"`
	Precision             *float64   `db:"precision" json:"precision"`
	Recall                *float64   `db:"recall" json:"recall"`
	ImageCount            int        `db:"image_count" json:"imageCount"`
	Activate              bool       `db:"activate" json:"activate"`
	UserCreated           int64      `db:"user_created" json:"userCreated"`
	UserModified          *int64     `db:"user_modified" json:"userModified,omitempty"`
	DateCreated           time.Time  `db:"date_created" json:"dateCreated"`
	DateModified          *time.Time `db:"date_modified" json:"dateModified,omitempty"`
	Deleted               bool       `db:"deleted" json:"deleted"`
	IDCvTag               *string    `db:"id_cv_tag" json:"idCvTag,omitempty"`
}

// WithMetrics returns a copy of the label carrying the metrics of the given tag.
// Accuracy takes the tag's average precision.
func (l Label) WithMetrics(m TagMetric) Label {
	accuracy, precision, recall := m.AP, m.Precision, m.Recall
	l.Accuracy = &accuracy
	l.Precision = &precision
	l.Recall = &recall
	return l
}
