package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/topup/internal/domain"
)

const (
	defaultReceiptPollInterval = 3 * time.Second
	defaultConfirmTimeout      = 10 * time.Minute
	gasLimitMarginPercent      = 20
	nativeDecimals             = 18
)

// EVMBackend is the subset of the JSON-RPC API used by EVMClient. *ethclient.Client implements it.
type EVMBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMClient reads balances and submits signed transactions from the EVM operating wallet.
type EVMClient struct {
	backend             EVMBackend
	key                 *ecdsa.PrivateKey
	address             common.Address
	chainID             *big.Int
	receiptPollInterval time.Duration
	confirmTimeout      time.Duration
}

// EVMOption configures an EVMClient.
type EVMOption func(*EVMClient)

// WithReceiptPollInterval sets how often receipts are polled while waiting for confirmation.
func WithReceiptPollInterval(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		c.receiptPollInterval = d
	}
}

// WithConfirmTimeout bounds WaitConfirmed.
func WithConfirmTimeout(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		c.confirmTimeout = d
	}
}

// DialEVM connects to rpcURL and loads the operating wallet key from keyPath.
// chainID 0 means it is read from the node.
func DialEVM(ctx context.Context, rpcURL, keyPath string, chainID int64, opts ...EVMOption) (*EVMClient, error) {
	key, err := LoadECDSAKey(keyPath)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, strings.TrimSpace(rpcURL))
	if err != nil {
		return nil, errors.Wrap(err, "dial evm rpc")
	}

	var id *big.Int
	if chainID > 0 {
		id = big.NewInt(chainID)
	} else {
		id, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, errors.Wrap(err, "read chain id")
		}
	}

	return NewEVMClient(client, key, id, opts...), nil
}

// NewEVMClient creates a client over an existing backend.
func NewEVMClient(backend EVMBackend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...EVMOption) *EVMClient {
	c := &EVMClient{
		backend:             backend,
		key:                 key,
		address:             crypto.PubkeyToAddress(key.PublicKey),
		chainID:             chainID,
		receiptPollInterval: defaultReceiptPollInterval,
		confirmTimeout:      defaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// LoadECDSAKey reads a hex encoded secp256k1 key, with or without 0x prefix.
func LoadECDSAKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read evm key file")
	}

	key := strings.TrimSpace(string(raw))
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse evm key")
	}
	return privateKey, nil
}

// Address returns the operating wallet address.
func (c *EVMClient) Address() string { return c.address.Hex() }

// NativeBalance returns the gas token balance of owner in wei.
func (c *EVMClient) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "eth_getBalance %s", owner)
	}
	return balance, nil
}

// ERC20Balance returns balanceOf(owner) in the token's smallest unit.
func (c *EVMClient) ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	return firstBigInt(out, "balanceOf")
}

// Allowance returns allowance(owner, spender).
func (c *EVMClient) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return firstBigInt(out, "allowance")
}

// Reserves returns token0 of a Uniswap V2 pair and its reserves.
func (c *EVMClient) Reserves(ctx context.Context, pair string) (token0 string, reserve0, reserve1 *big.Int, err error) {
	out, err := c.Call(ctx, pair, UniswapV2PairABI, "token0")
	if err != nil {
		return "", nil, nil, err
	}
	if len(out) != 1 {
		return "", nil, nil, fmt.Errorf("token0: unexpected result len %d", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", nil, nil, fmt.Errorf("token0: unexpected type %T", out[0])
	}

	out, err = c.Call(ctx, pair, UniswapV2PairABI, "getReserves")
	if err != nil {
		return "", nil, nil, err
	}
	if len(out) != 3 {
		return "", nil, nil, fmt.Errorf("getReserves: unexpected result len %d", len(out))
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return "", nil, nil, fmt.Errorf("getReserves: unexpected types %T, %T", out[0], out[1])
	}

	return addr.Hex(), r0, r1, nil
}

// Call performs a read-only contract call and unpacks the outputs.
func (c *EVMClient) Call(ctx context.Context, contract string, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	to := common.HexToAddress(contract)
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, contract)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("call %s on %s returned empty result", method, contract)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return out, nil
}

// Approve submits approve(spender, amount) and returns the tx hash without waiting.
func (c *EVMClient) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	data, err := ERC20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", errors.Wrap(err, "pack approve")
	}
	return c.SendTx(ctx, token, nil, data)
}

// TransferERC20 submits transfer(to, amount).
func (c *EVMClient) TransferERC20(ctx context.Context, token, to string, amount *big.Int) (string, error) {
	data, err := ERC20ABI.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", errors.Wrap(err, "pack transfer")
	}
	return c.SendTx(ctx, token, nil, data)
}

// Burn submits burn(amount, destination) on the bridge contract.
func (c *EVMClient) Burn(ctx context.Context, bridge string, amount *big.Int, destination string) (string, error) {
	data, err := BridgeABI.Pack("burn", amount, destination)
	if err != nil {
		return "", errors.Wrap(err, "pack burn")
	}
	return c.SendTx(ctx, bridge, nil, data)
}

// SendTx signs and broadcasts an EIP-1559 transaction to contract and returns its hash.
func (c *EVMClient) SendTx(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	if value == nil {
		value = new(big.Int)
	}
	toAddr := common.HexToAddress(to)

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", errors.Wrap(err, "pending nonce")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", errors.Wrap(err, "suggest gas tip")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "latest header")
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &toAddr, Value: value, Data: data})
	if err != nil {
		return "", errors.Wrap(err, "estimate gas")
	}
	gas += gas * gasLimitMarginPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &toAddr,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", errors.Wrap(err, "sign tx")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", errors.Wrap(err, "send tx")
	}

	return signed.Hash().Hex(), nil
}

// WaitConfirmed polls for the receipt of txID until it is mined or the confirm timeout elapses.
// A mined but reverted transaction is returned with Success=false and no error.
func (c *EVMClient) WaitConfirmed(ctx context.Context, txID string) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	hash := common.HexToHash(txID)
	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return domain.Receipt{
				TxID:    txID,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
				Block:   blockNumber(receipt),
				Fee:     receiptFee(receipt),
			}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return domain.Receipt{}, errors.Wrapf(err, "receipt %s", txID)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, errors.Wrapf(ctx.Err(), "wait for %s", txID)
		case <-ticker.C:
		}
	}
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

// receiptFee returns gasUsed * effectiveGasPrice in ETH.
func receiptFee(r *types.Receipt) decimal.Decimal {
	if r.EffectiveGasPrice == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
	return decimal.NewFromBigInt(wei, -nativeDecimals)
}

func firstBigInt(out []any, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no data", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// Close closes the underlying rpc connection when the backend holds one.
func (c *EVMClient) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}
