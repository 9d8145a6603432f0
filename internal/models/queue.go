package models

import "time"

// Queue is a queue definition ("queue generation" document).
type Queue struct {
	ID        string     `json:"id"`
	QueueName string     `json:"queuename"`
	EndDate   *time.Time `json:"queueenddate,omitempty"`
}

// QueueFromDocument decodes a queue; queuename falls back to name.
func QueueFromDocument(d Document) Queue {
	q := Queue{
		ID:        d.ID,
		QueueName: d.FirstString("queuename", "name"),
	}
	if t, ok := d.Time("queueenddate"); ok {
		q.EndDate = &t
	}
	return q
}
