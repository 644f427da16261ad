package model

import (
	"encoding/json"
	"time"
)

// DocumentType identifies a family of documents sharing one transition graph.
type DocumentType string

const (
	DocQuote             DocumentType = "quote"
	DocOrder             DocumentType = "order"
	DocDeliveryNote      DocumentType = "delivery_note"
	DocProductionBatch   DocumentType = "production_batch"
	DocMaterialReception DocumentType = "material_reception"
)

// State is a node in a document type's transition graph.
type State string

// Payload holds the type-specific business fields of a document
// (amounts, quantities, formula reference). Values must be JSON encodable.
type Payload map[string]any

// Clone returns a deep copy of the payload.
// Nested maps and slices are copied through a JSON round-trip so that the
// copy shares no memory with the original.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		// Unencodable payloads are rejected on write; fall back to a shallow copy.
		out := make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	out, err := DecodePayload(data)
	if err != nil {
		return Payload{}
	}
	return out
}

// Merge returns a copy of p with every key of patch applied.
// A nil value in patch removes the key.
func (p Payload) Merge(patch Payload) Payload {
	out := p.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// DecodePayload parses JSON into a Payload, keeping numbers as json.Number
// so that amounts survive storage without float rounding.
func DecodePayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := unmarshalUseNumber(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Document is any entity subject to workflow.
type Document struct {
	ID        string       `json:"id"`
	Type      DocumentType `json:"document_type"`
	State     State        `json:"current_state"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
	LockedAt  *time.Time   `json:"locked_at,omitempty"`
	Payload   Payload      `json:"payload"`

	// Version is the optimistic concurrency token. Every committed
	// mutation increments it by one.
	Version int64 `json:"version"`
}

// Locked reports whether the document sits in a locked state.
func (d Document) Locked() bool {
	return d.LockedAt != nil
}

// Clone returns a copy of the document that shares no mutable state.
func (d Document) Clone() Document {
	out := d
	out.Payload = d.Payload.Clone()
	if d.LockedAt != nil {
		t := *d.LockedAt
		out.LockedAt = &t
	}
	return out
}

// Actor is a resolved identity from the identity collaborator.
type Actor struct {
	ID            string   `json:"id"`
	AssignedRoles []string `json:"assigned_roles"`
}
