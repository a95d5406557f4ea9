package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NewOrderNumber builds a human-readable order number. Date prefix
// keeps numbers roughly monotonic per day; the random suffix avoids a
// shared counter. Uniqueness is enforced by the orders table.
func NewOrderNumber() string {
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("SO-%s-%06d", time.Now().Format("20060102"), randomNum.Int64())
}

func GeneratePaymentID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("pay_%d_%06d", timestamp, randomNum.Int64())
}
