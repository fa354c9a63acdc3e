package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AkintolaX/sureinv-financing/internal/event"
)

// ParseRawInstruction converts a RawInstruction into a typed instruction.
// The wire format is the instruction's own JSON (snake_case); unknown fields
// are rejected so producer typos surface instead of silently zeroing fields.
// The payload never carries a timestamp; the Dispatcher stamps it and
// resolves the caller from the message headers.
func ParseRawInstruction(raw RawInstruction) (event.Instruction, error) {
	instr, err := event.NewInstruction(raw.InstructionType)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(instr); err != nil {
		return nil, fmt.Errorf("parse %s: %w", raw.InstructionType, err)
	}

	if instr.IdempotencyKey() == "" {
		return nil, fmt.Errorf("parse %s: idempotency_key required", raw.InstructionType)
	}
	return instr, nil
}
