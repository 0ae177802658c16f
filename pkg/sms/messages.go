package sms

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatEther renders a wei amount as a decimal ETH string. Whole amounts
// keep a single trailing zero ("1.0") and fractional amounts are trimmed
// of trailing zeros ("0.5", not "0.500000000000000000").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = big.NewInt(0)
	}

	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	fracStr := strings.TrimRight(fmt.Sprintf("%018s", frac.String()), "0")
	if fracStr == "" {
		fracStr = "0"
	}

	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// SenderConfirmedMessage is the text sent to the originator of a confirmed
// transfer.
func SenderConfirmedMessage(amountWei *big.Int, to common.Address, txHash common.Hash) string {
	return fmt.Sprintf("You sent %s ETH to %s successfully.\nTx: %s", FormatEther(amountWei), to.Hex(), txHash.Hex())
}

// ReceiverConfirmedMessage is the text sent to the recipient of a confirmed
// transfer.
func ReceiverConfirmedMessage(amountWei *big.Int, from common.Address, txHash common.Hash) string {
	return fmt.Sprintf("You received %s ETH from %s.\nTx: %s", FormatEther(amountWei), from.Hex(), txHash.Hex())
}

// FailureMessage is the text sent to the originator when a relayed
// transaction could not be executed. The reason is carried verbatim.
func FailureMessage(reason string) string {
	return fmt.Sprintf("Your transaction failed.\nReason: %s", reason)
}
