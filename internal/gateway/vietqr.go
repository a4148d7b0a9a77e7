package gateway

import (
	"fmt"
	"order-payment-service/internal/config"
	"strings"

	"github.com/shopspring/decimal"
)

// napasGUID identifies the NAPAS 247 VietQR scheme.
const napasGUID = "A000000727"

// BankingInfo is what a customer needs to pay by bank transfer.
type BankingInfo struct {
	BankName      string          `json:"bank_name"`
	BankBIN       string          `json:"bank_bin"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Amount        decimal.Decimal `json:"amount"`
	Content       string          `json:"content"`
	QRPayload     string          `json:"qr_payload,omitempty"`
}

type BankTransfer struct {
	cfg config.Bank
}

func NewBankTransfer(cfg config.Bank) *BankTransfer {
	return &BankTransfer{cfg: cfg}
}

// Instructions returns the transfer details with an EMVCo VietQR payload
// whose purpose field is the attempt's transaction code.
func (b *BankTransfer) Instructions(amount decimal.Decimal, transactionCode string) *BankingInfo {
	return &BankingInfo{
		BankName:      b.cfg.BankName,
		BankBIN:       b.cfg.BIN,
		AccountNumber: b.cfg.AccountNumber,
		AccountName:   b.cfg.AccountName,
		Amount:        amount,
		Content:       transactionCode,
		QRPayload:     VietQRPayload(b.cfg.BIN, b.cfg.AccountNumber, amount, transactionCode),
	}
}

func VietQRPayload(bin, account string, amount decimal.Decimal, purpose string) string {
	beneficiary := tlv("00", bin) + tlv("01", account)
	merchant := tlv("00", napasGUID) + tlv("01", beneficiary) + tlv("02", "QRIBFTTA")

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("01", "12"))
	b.WriteString(tlv("38", merchant))
	b.WriteString(tlv("53", "704"))
	if amount.IsPositive() {
		b.WriteString(tlv("54", amount.Truncate(0).String()))
	}
	b.WriteString(tlv("58", "VN"))
	if purpose != "" {
		b.WriteString(tlv("62", tlv("08", purpose)))
	}
	b.WriteString("6304")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", crc16CCITT([]byte(payload)))
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// crc16CCITT is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func crc16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, c := range data {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
