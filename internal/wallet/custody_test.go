package wallet

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 仅用于测试的固定私钥。
const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestSignerForUnknownWallet(t *testing.T) {
	custody, err := NewLocalCustody([]string{testKeyHex})
	if err != nil {
		t.Fatalf("构建 custody 失败: %v", err)
	}

	_, err = custody.SignerFor(common.HexToAddress("0x0000000000000000000000000000000000000001"), big.NewInt(84532))
	if !errors.Is(err, ErrUnknownWallet) {
		t.Fatalf("期望 ErrUnknownWallet, 实际 %v", err)
	}
}

func TestSignerProducesValidSignature(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("解析测试私钥失败: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	custody, err := NewLocalCustody([]string{"0x" + testKeyHex})
	if err != nil {
		t.Fatalf("构建 custody 失败: %v", err)
	}

	chainID := big.NewInt(84532)
	sign, err := custody.SignerFor(owner, chainID)
	if err != nil {
		t.Fatalf("SignerFor 失败: %v", err)
	}

	to := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      80000,
		GasPrice: big.NewInt(1_000_000_000),
	})

	signed, err := sign(owner, tx)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("恢复签名者失败: %v", err)
	}
	if sender != owner {
		t.Fatalf("签名者不匹配: 期望 %s 实际 %s", owner.Hex(), sender.Hex())
	}
}

func TestSignerRefusesForeignAddress(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	custody, err := NewLocalCustody([]string{testKeyHex})
	if err != nil {
		t.Fatalf("构建 custody 失败: %v", err)
	}
	sign, err := custody.SignerFor(owner, big.NewInt(84532))
	if err != nil {
		t.Fatalf("SignerFor 失败: %v", err)
	}

	to := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1)})
	if _, err := sign(common.HexToAddress("0x0000000000000000000000000000000000000002"), tx); err == nil {
		t.Fatal("期望拒绝为其他地址签名")
	}
}

func TestChainIDRequired(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	custody, err := NewLocalCustody([]string{testKeyHex})
	if err != nil {
		t.Fatalf("构建 custody 失败: %v", err)
	}
	if _, err := custody.SignerFor(owner, nil); err == nil {
		t.Fatal("期望 nil chainID 报错")
	}
}
