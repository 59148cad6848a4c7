package txbuilder

import (
	"context"
	"math/big"
	"testing"

	"github.com/ChoSanghyuk/gaslessbridge/pkg/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestBuildProducesDynamicFeeTx(t *testing.T) {
	to := common.HexToAddress("0x000000000000000000000000000000000000aa")
	tx := Build(big.NewInt(1), 5, big.NewInt(2), big.NewInt(10), 21000, to, big.NewInt(1000))

	require.Equal(t, uint8(types2Dynamic), tx.Type())
	require.Equal(t, uint64(5), tx.Nonce())
	require.Equal(t, uint64(21000), tx.Gas())
	require.Equal(t, big.NewInt(1000), tx.Value())
}

const types2Dynamic = 2

func TestSignProducesValidSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := signer.NewSingleKeySigner(key)

	to := common.HexToAddress("0x000000000000000000000000000000000000aa")
	chainID := big.NewInt(1)
	tx := Build(chainID, 0, big.NewInt(1), big.NewInt(10), 21000, to, big.NewInt(1000))

	signed, err := Sign(context.Background(), chainID, tx, s)
	require.NoError(t, err)

	sender, err := types.Sender(types.NewLondonSigner(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}
