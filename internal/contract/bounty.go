// Package contract decodes logs and call data of the bounty marketplace contract.
package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// Method names the proof is recovered from
const (
	MethodRequestBounty = "requestBounty"
	ArgProof            = "proof"
)

// BountyContract binds the parsed ABI to a deployed address
type BountyContract struct {
	address common.Address
	abi     abi.ABI
}

// RequestBountyCall holds the decoded arguments of a requestBounty transaction
type RequestBountyCall struct {
	Theorem string
	Proof   string
}

// NewBountyContract parses the embedded ABI for the contract at address
func NewBountyContract(address string) (*BountyContract, error) {
	if address != "" && !common.IsHexAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid contract address", address)
	}

	parsed, err := abi.JSON(strings.NewReader(BountyABI))
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeInternal, "Failed to parse bounty ABI", err)
	}

	return &BountyContract{
		address: common.HexToAddress(address),
		abi:     parsed,
	}, nil
}

// Address returns the contract address
func (bc *BountyContract) Address() common.Address {
	return bc.address
}

// ABI returns the parsed contract ABI
func (bc *BountyContract) ABI() *abi.ABI {
	return &bc.abi
}

// EventID returns the topic0 hash for an event kind
func (bc *BountyContract) EventID(kind models.EventKind) (common.Hash, error) {
	event, ok := bc.abi.Events[string(kind)]
	if !ok {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeNotFound, "Unknown event kind", string(kind))
	}
	return event.ID, nil
}

// DecodeLog unpacks indexed and non-indexed arguments of a log into a map
func (bc *BountyContract) DecodeLog(kind models.EventKind, log types.Log) (map[string]interface{}, error) {
	event, ok := bc.abi.Events[string(kind)]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Unknown event kind", string(kind))
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Log topic does not match event", string(kind))
	}

	args := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := event.Inputs.UnpackIntoMap(args, log.Data); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDecode, "Failed to unpack log data", err)
		}
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDecode, "Failed to parse log topics", err)
		}
	}

	return args, nil
}

// DecodeRequestBounty decodes requestBounty(theorem, proof) call input
func (bc *BountyContract) DecodeRequestBounty(input []byte) (*RequestBountyCall, error) {
	if len(input) < 4 {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Call input too short",
			fmt.Sprintf("%d bytes", len(input)))
	}

	method, err := bc.abi.MethodById(input[:4])
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDecode, "Unknown method selector", err)
	}
	if method.Name != MethodRequestBounty {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Unexpected method", method.Name)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDecode, "Failed to unpack call input", err)
	}

	theorem, _ := args[models.ArgTheorem].(string)
	proof, ok := args[ArgProof].(string)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Call input has no proof argument", "")
	}

	return &RequestBountyCall{Theorem: theorem, Proof: proof}, nil
}

// PackRequestBounty encodes a requestBounty call
func (bc *BountyContract) PackRequestBounty(theorem, proof string) ([]byte, error) {
	return bc.abi.Pack(MethodRequestBounty, theorem, proof)
}
