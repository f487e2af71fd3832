package triage

import (
	"context"

	"github.com/comigor/triage-go/internal/conversation"
)

// StatusCounts tallies conversations per status.
type StatusCounts struct {
	Open        int `json:"open"`
	Transferred int `json:"transferred"`
	Closed      int `json:"closed"`
	Total       int `json:"total"`
}

func (s *StatusCounts) add(status conversation.Status, n int) {
	switch status {
	case conversation.StatusOpen:
		s.Open += n
	case conversation.StatusTransferred:
		s.Transferred += n
	case conversation.StatusClosed:
		s.Closed += n
	}
	s.Total += n
}

// DepartmentQueue is the load of one department.
type DepartmentQueue struct {
	Department conversation.Department `json:"department"`
	Label      string                  `json:"label"`
	StatusCounts
}

// QueueOverview is the dashboard view over every conversation.
type QueueOverview struct {
	Queues     []DepartmentQueue `json:"queues"`
	Unassigned StatusCounts      `json:"unassigned"`
	Total      int               `json:"total"`
}

// QueueOverview returns one row per department, in a fixed order, plus the
// conversations that never reached a department.
func (e *Engine) QueueOverview(ctx context.Context) (*QueueOverview, error) {
	counts, err := e.store.QueueSummary(ctx)
	if err != nil {
		return nil, err
	}

	byDept := make(map[conversation.Department]*DepartmentQueue, len(conversation.Departments))
	out := &QueueOverview{Queues: make([]DepartmentQueue, len(conversation.Departments))}
	for i, d := range conversation.Departments {
		out.Queues[i] = DepartmentQueue{Department: d, Label: d.Label()}
		byDept[d] = &out.Queues[i]
	}

	for _, qc := range counts {
		if qc.Department == nil {
			out.Unassigned.add(qc.Status, qc.Count)
		} else if q, ok := byDept[*qc.Department]; ok {
			q.add(qc.Status, qc.Count)
		}
		out.Total += qc.Count
	}
	return out, nil
}
