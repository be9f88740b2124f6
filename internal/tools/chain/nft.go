package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/transfer"
)

const erc721MintABI = `[{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"string","name":"tokenURI","type":"string"}],"name":"safeMint","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var erc721ABI = mustParseABI(erc721MintABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type mintArgs struct {
	Contract common.Address
	TokenURI string
	To       *common.Address
}

func decodeMint(a tools.Args) (mintArgs, error) {
	contract, err := a.Address("contract", "erc721_address")
	if err != nil {
		return mintArgs{}, err
	}
	uri, err := a.String("token_uri")
	if err != nil {
		return mintArgs{}, err
	}
	to, err := a.OptionalAddress("to")
	if err != nil {
		return mintArgs{}, err
	}
	return mintArgs{Contract: contract, TokenURI: uri, To: to}, nil
}

// packMint encodes safeMint(to, tokenURI) calldata.
func packMint(to common.Address, uri string) ([]byte, error) {
	data, err := erc721ABI.Pack("safeMint", to, uri)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 safeMint 调用失败")
	}
	return data, nil
}

func (d Deps) mintNFT(ctx context.Context, in mintArgs) (any, error) {
	recipient := d.Pipeline.From()
	if in.To != nil {
		recipient = *in.To
	}
	data, err := packMint(recipient, in.TokenURI)
	if err != nil {
		return nil, err
	}
	res, err := d.Pipeline.Send(ctx, transfer.Request{
		To:       in.Contract,
		Data:     data,
		GasFloor: d.MintGasLimit,
	})
	if err != nil {
		return nil, err
	}
	return res.Receipt, nil
}
