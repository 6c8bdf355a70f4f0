package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

const testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func newContract(t *testing.T) *BountyContract {
	t.Helper()
	bc, err := NewBountyContract(testAddress)
	require.NoError(t, err)
	return bc
}

func buildLog(t *testing.T, bc *BountyContract, kind models.EventKind, args ...interface{}) types.Log {
	t.Helper()
	event := bc.ABI().Events[string(kind)]
	data, err := event.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Address:     bc.Address(),
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: 10,
	}
}

func TestNewBountyContract(t *testing.T) {
	bc := newContract(t)
	assert.Equal(t, common.HexToAddress(testAddress), bc.Address())

	_, err := NewBountyContract("not-an-address")
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
}

func TestEventID(t *testing.T) {
	bc := newContract(t)

	for _, kind := range models.EventKinds {
		id, err := bc.EventID(kind)
		require.NoError(t, err)
		assert.NotEqual(t, common.Hash{}, id)
	}

	_, err := bc.EventID("BountyRequestAccepted")
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestBountyPaidSignature(t *testing.T) {
	bc := newContract(t)

	id, err := bc.EventID(models.EventKindClosed)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("BountyPaid(bytes32,address,string,uint256,bytes32)")), id)

	id, err = bc.EventID(models.EventKindDeclared)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("BountyDeclared(address,string,uint256)")), id)
}

func TestDecodeDeclaredLog(t *testing.T) {
	bc := newContract(t)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	value := new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18))

	args, err := bc.DecodeLog(models.EventKindDeclared, buildLog(t, bc, models.EventKindDeclared, sender, "1+1=2", value))
	require.NoError(t, err)

	assert.Equal(t, "1+1=2", args[models.ArgTheorem])
	assert.Equal(t, 0, value.Cmp(args[models.ArgValue].(*big.Int)))
	assert.Equal(t, sender, args["sender"])
	assert.NotContains(t, args, models.ArgRequestTxHash)
}

func TestDecodePaidLog(t *testing.T) {
	bc := newContract(t)
	requestID := common.HexToHash("0x01")
	requestTx := common.HexToHash("0xabcdef")

	log := buildLog(t, bc, models.EventKindClosed,
		[32]byte(requestID), common.Address{}, "P != NP", big.NewInt(7), [32]byte(requestTx))

	args, err := bc.DecodeLog(models.EventKindClosed, log)
	require.NoError(t, err)
	assert.Equal(t, "P != NP", args[models.ArgTheorem])
	assert.Equal(t, [32]byte(requestTx), args[models.ArgRequestTxHash])
}

func TestDecodeLogRejectsMismatchedTopic(t *testing.T) {
	bc := newContract(t)
	log := buildLog(t, bc, models.EventKindDeclared, common.Address{}, "x", big.NewInt(1))

	_, err := bc.DecodeLog(models.EventKindClosed, log)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))

	log.Topics = nil
	_, err = bc.DecodeLog(models.EventKindDeclared, log)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))

	_, err = bc.DecodeLog("Unknown", log)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestDecodeLogRejectsTruncatedData(t *testing.T) {
	bc := newContract(t)
	log := buildLog(t, bc, models.EventKindDeclared, common.Address{}, "x", big.NewInt(1))
	log.Data = log.Data[:40]

	_, err := bc.DecodeLog(models.EventKindDeclared, log)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))
}

func TestRequestBountyRoundTrip(t *testing.T) {
	bc := newContract(t)

	input, err := bc.PackRequestBounty("a^2+b^2=c^2", "by picture")
	require.NoError(t, err)

	call, err := bc.DecodeRequestBounty(input)
	require.NoError(t, err)
	assert.Equal(t, "a^2+b^2=c^2", call.Theorem)
	assert.Equal(t, "by picture", call.Proof)
}

func TestDecodeRequestBountyRejectsOtherCalls(t *testing.T) {
	bc := newContract(t)

	_, err := bc.DecodeRequestBounty([]byte{0x01})
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))

	_, err = bc.DecodeRequestBounty([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))

	declare, err := bc.ABI().Pack("declareBounty", "x")
	require.NoError(t, err)
	_, err = bc.DecodeRequestBounty(declare)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDecode))
}
