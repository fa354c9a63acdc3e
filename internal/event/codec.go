package event

import (
	"encoding/json"
	"fmt"
)

// NewInstruction returns an empty instruction of the given type, ready to be decoded into
func NewInstruction(t InstructionType) (Instruction, error) {
	switch t {
	case InstructionTypeInitialize:
		return &Initialize{}, nil
	case InstructionTypeCreateInvoice:
		return &CreateInvoice{}, nil
	case InstructionTypeFundInvoice:
		return &FundInvoice{}, nil
	case InstructionTypeRepayInvoice:
		return &RepayInvoice{}, nil
	case InstructionTypeMarkDefaulted:
		return &MarkDefaulted{}, nil
	case InstructionTypeClaimInsurance:
		return &ClaimInsurance{}, nil
	case InstructionTypeTopUpPool:
		return &TopUpPool{}, nil
	case InstructionTypeDepositTokens:
		return &DepositTokens{}, nil
	default:
		return nil, fmt.Errorf("unknown instruction type %d", t)
	}
}

// DecodeInstruction decodes the JSON payload stored in the event log.
func DecodeInstruction(t InstructionType, payload []byte) (Instruction, error) {
	instr, err := NewInstruction(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, instr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return instr, nil
}
