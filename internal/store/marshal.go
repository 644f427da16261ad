package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/gatehouse/internal/model"
)

// marshalPayload converts a payload to JSON TEXT for storage.
func marshalPayload(p model.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// marshalSnapshot converts an audit snapshot to JSON TEXT.
func marshalSnapshot(s model.Snapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalSnapshot(data string) (model.Snapshot, error) {
	return model.DecodeSnapshot([]byte(data))
}

func marshalChain(chain []model.EscalationLevel) (string, error) {
	if chain == nil {
		return "[]", nil
	}
	data, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("marshal chain: %w", err)
	}
	return string(data), nil
}

func unmarshalChain(data string) ([]model.EscalationLevel, error) {
	var chain []model.EscalationLevel
	if data == "" || data == "[]" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &chain); err != nil {
		return nil, fmt.Errorf("unmarshal chain: %w", err)
	}
	return chain, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: model.FormatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := model.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
